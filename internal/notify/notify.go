// Package notify delivers the best-effort side effects of core operations:
// print jobs and guest notifications. Failures never propagate to the caller;
// they are logged, counted and audited at WARNING.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/metrics"
)

// Print job kinds.
const (
	JobKitchen = "kitchen"
	JobBill    = "bill"
	JobReceipt = "receipt"
)

// PrintJob is one ticket for the print spool.
type PrintJob struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	PrinterID string    `json:"printer_id,omitempty"`
	TableID   string    `json:"table_id,omitempty"`
	Title     string    `json:"title"`
	Lines     []string  `json:"lines"`
	CreatedAt time.Time `json:"created_at"`
}

// Printer accepts print jobs.
type Printer interface {
	Print(ctx context.Context, job PrintJob) error
}

// GuestNotifier delivers a message to a room.
type GuestNotifier interface {
	Send(ctx context.Context, room, message, kind string) error
}

// Dispatcher routes side effects through per-collaborator breakers.
type Dispatcher struct {
	printer      Printer
	guest        GuestNotifier
	printBreaker *Breaker
	guestBreaker *Breaker
	audit        audit.Recorder
	metrics      *metrics.Metrics
}

// NewDispatcher wires the collaborators. Either may be nil, in which case the
// corresponding side effect is skipped.
func NewDispatcher(printer Printer, guest GuestNotifier, rec audit.Recorder, m *metrics.Metrics) *Dispatcher {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Dispatcher{
		printer:      printer,
		guest:        guest,
		printBreaker: NewBreaker(DefaultBreakerConfig("print_spool")),
		guestBreaker: NewBreaker(DefaultBreakerConfig("guest_notification")),
		audit:        rec,
		metrics:      m,
	}
}

// Print enqueues job; failures are recorded, never returned.
func (d *Dispatcher) Print(ctx context.Context, job PrintJob) {
	if d == nil || d.printer == nil {
		return
	}
	err := d.printBreaker.Do(ctx, func(ctx context.Context) error {
		return d.printer.Print(ctx, job)
	})
	if err != nil {
		d.failed(ctx, "print_spool", err, map[string]any{"kind": job.Kind, "table_id": job.TableID, "title": job.Title})
	}
}

// NotifyGuest sends message to room; failures are recorded, never returned.
func (d *Dispatcher) NotifyGuest(ctx context.Context, room, message, kind string) {
	if d == nil || d.guest == nil {
		return
	}
	err := d.guestBreaker.Do(ctx, func(ctx context.Context) error {
		return d.guest.Send(ctx, room, message, kind)
	})
	if err != nil {
		d.failed(ctx, "guest_notification", err, map[string]any{"room": room, "kind": kind})
	}
}

func (d *Dispatcher) failed(ctx context.Context, collaborator string, err error, details map[string]any) {
	log.Warn().Err(err).Str("collaborator", collaborator).Msg("notify: side effect failed")
	d.metrics.CollaboratorFailed(collaborator)
	details["error"] = err.Error()
	d.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptSystem,
		Action:       "Falha de Integração",
		Entity:       collaborator,
		Severity:     enum.SeverityWarning,
		Details:      details,
	})
}
