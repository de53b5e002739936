package notify

import (
	"context"
	"encoding/json"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// SpoolKey is the store key the print daemon drains.
const SpoolKey = "print_queue"

// SpoolPrinter appends jobs to the store-backed print queue.
type SpoolPrinter struct {
	docs  store.Documents
	clock clock.Clock
	ids   clock.IDGenerator
}

func NewSpoolPrinter(docs store.Documents, c clock.Clock, ids clock.IDGenerator) *SpoolPrinter {
	return &SpoolPrinter{docs: docs, clock: c, ids: ids}
}

func (p *SpoolPrinter) Print(ctx context.Context, job PrintJob) error {
	if job.ID == "" {
		job.ID = p.ids.NewID()
	}
	job.CreatedAt = p.clock.Now()
	return p.docs.WithLock(ctx, SpoolKey, func() error {
		jobs := store.Load(p.docs, SpoolKey, []PrintJob{})
		jobs = append(jobs, job)
		return p.docs.Write(SpoolKey, jobs)
	})
}

// Broadcaster pushes a payload to every subscriber of a channel.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// Event is the push message shape.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// HubNotifier delivers guest notifications to the reception channel and the
// room's own channel.
type HubNotifier struct {
	hub Broadcaster
}

func NewHubNotifier(hub Broadcaster) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) Send(_ context.Context, room, message, kind string) error {
	payload, err := json.Marshal(Event{
		Type: "guest_notification",
		Data: map[string]string{"room": room, "message": message, "kind": kind},
	})
	if err != nil {
		return err
	}
	n.hub.Broadcast("reception", payload)
	n.hub.Broadcast("room:"+room, payload)
	return nil
}
