package orderbook

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/billing"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/fiscal"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/metrics"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/notify"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/room"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/saleshistory"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/stock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

var errNoRoomBilling = errors.New("room billing is not configured")

// Cashier is the slice of the ledger the order book posts to.
type Cashier interface {
	AddTransaction(ctx context.Context, typ string, txn ledger.Transaction) (ledger.Transaction, error)
	AppendBatch(ctx context.Context, typ string, txns []ledger.Transaction) ([]ledger.Transaction, error)
	ReverseTransaction(ctx context.Context, typ, txnID, description, user string) (ledger.Transaction, error)
}

type MenuCatalog interface {
	Find(ref string) (catalog.MenuItem, bool)
}

type MethodResolver interface {
	Resolve(ref, ctx string) (catalog.PaymentMethod, error)
}

type OccupancyLookup interface {
	Lookup(number string) (catalog.Guest, bool)
}

type StockService interface {
	ApplyMovement(ctx context.Context, m stock.Movement) (stock.Movement, error)
}

// RoomCharges is the slice of room billing used by transfers to and from rooms.
type RoomCharges interface {
	GetCharge(id string) (billing.Charge, error)
	AddCharges(ctx context.Context, charges []billing.Charge) ([]billing.Charge, error)
	TakePending(ctx context.Context, id string, actor auth.Actor) (billing.Charge, error)
	Restore(ctx context.Context, id string) error
}

type SalesHistory interface {
	Append(ctx context.Context, e saleshistory.Entry) error
	Remove(ctx context.Context, id string) error
}

type FiscalSink interface {
	Enqueue(ctx context.Context, e fiscal.Entry) (fiscal.Entry, error)
}

// Authorizer checks an elevated user's password typed at the terminal.
type Authorizer interface {
	VerifyElevated(password string) (auth.User, bool)
}

// Printer receives kitchen tickets, bills and receipts; best-effort.
type Printer interface {
	Print(ctx context.Context, job notify.PrintJob)
}

// Config holds the order book policy.
type Config struct {
	ServiceFeeRate decimal.Decimal
	// Tables whose numeric id is at most PermanentMax keep their document
	// across closes.
	PermanentMax   int
	Breakfast      clock.Window
	CoverProductID string
}

// DefaultConfig is the house policy.
func DefaultConfig() Config {
	return Config{
		ServiceFeeRate: decimal.RequireFromString("0.10"),
		PermanentMax:   35,
		Breakfast: clock.Window{
			Start: clock.TimeOfDay{Hour: 7},
			End:   clock.TimeOfDay{Hour: 10},
		},
	}
}

// Deps are the collaborators of a Book. Stock, Charges, History, Fiscal,
// Authorizer, Printer, Events, Audit and Metrics may be nil.
type Deps struct {
	Docs       store.Documents
	Clock      clock.Clock
	IDs        clock.IDGenerator
	Cashier    Cashier
	Menu       MenuCatalog
	Methods    MethodResolver
	Occupancy  OccupancyLookup
	Stock      StockService
	Charges    RoomCharges
	History    SalesHistory
	Fiscal     FiscalSink
	Authorizer Authorizer
	Printer    Printer
	Events     notify.Broadcaster
	Audit      audit.Recorder
	Metrics    *metrics.Metrics
}

// Book is the order book component.
type Book struct {
	cfg        Config
	docs       store.Documents
	clock      clock.Clock
	ids        clock.IDGenerator
	cashier    Cashier
	menu       MenuCatalog
	methods    MethodResolver
	occupancy  OccupancyLookup
	stock      StockService
	charges    RoomCharges
	history    SalesHistory
	fiscal     FiscalSink
	authorizer Authorizer
	printer    Printer
	events     notify.Broadcaster
	audit      audit.Recorder
	metrics    *metrics.Metrics
}

func New(cfg Config, d Deps) *Book {
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	return &Book{
		cfg:        cfg,
		docs:       d.Docs,
		clock:      d.Clock,
		ids:        d.IDs,
		cashier:    d.Cashier,
		menu:       d.Menu,
		methods:    d.Methods,
		occupancy:  d.Occupancy,
		stock:      d.Stock,
		charges:    d.Charges,
		history:    d.History,
		fiscal:     d.Fiscal,
		authorizer: d.Authorizer,
		printer:    d.Printer,
		events:     d.Events,
		audit:      d.Audit,
		metrics:    d.Metrics,
	}
}

// IsPermanent reports whether tableID keeps its document across closes.
func (b *Book) IsPermanent(tableID string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(tableID))
	return err == nil && n > 0 && n <= b.cfg.PermanentMax
}

func (b *Book) read(tableID string) (Order, bool) {
	var o Order
	if !b.docs.Read(tableKey(tableID), &o) {
		return Order{}, false
	}
	if o.TableID == "" {
		o.TableID = tableID
	}
	if o.Items == nil {
		o.Items = []Item{}
	}
	if o.PartialPayments == nil {
		o.PartialPayments = []PartialPayment{}
	}
	return o, true
}

// active returns the open or locked order at tableID, or NotFound.
func (b *Book) active(tableID string) (Order, error) {
	o, ok := b.read(tableID)
	if !ok || !o.Active() {
		return Order{}, apperr.NotFound("table", tableID)
	}
	return o, nil
}

// editable is active plus not locked by a pulled bill.
func (b *Book) editable(tableID string) (Order, error) {
	o, err := b.active(tableID)
	if err != nil {
		return Order{}, err
	}
	if o.Status == enum.OrderStatusLocked {
		return Order{}, apperr.Conflict(apperr.CodeTableLocked, "table %s bill was pulled; unlock it first", tableID)
	}
	return o, nil
}

func (b *Book) save(o Order) error {
	o.recompute()
	return b.docs.Write(tableKey(o.TableID), o)
}

// release removes a finished table, or resets it for permanent tables.
func (b *Book) release(tableID string) error {
	if b.IsPermanent(tableID) {
		return b.docs.Write(tableKey(tableID), Order{
			TableID:         tableID,
			Status:          enum.OrderStatusClosed,
			Items:           []Item{},
			PartialPayments: []PartialPayment{},
		})
	}
	return b.docs.Delete(tableKey(tableID))
}

func (b *Book) pricing(o Order, discount decimal.Decimal, removeFee bool) Pricing {
	return Price(o.Items, b.cfg.ServiceFeeRate, discount, removeFee)
}

// ListTables returns every active table ordered by numeric id.
func (b *Book) ListTables() ([]Order, error) {
	keys, err := b.docs.Keys(Collection)
	if err != nil {
		return nil, apperr.Internal("orderbook: list tables", err)
	}
	out := make([]Order, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimPrefix(k, Collection+"/")
		if o, ok := b.read(id); ok && o.Active() {
			o.recompute()
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return tableLess(out[i].TableID, out[j].TableID) })
	return out, nil
}

func tableLess(a, b string) bool {
	na, ea := strconv.Atoi(a)
	nb, eb := strconv.Atoi(b)
	switch {
	case ea == nil && eb == nil:
		return na < nb
	case ea == nil:
		return true
	case eb == nil:
		return false
	}
	return a < b
}

// GetTable returns the active order at tableID.
func (b *Book) GetTable(tableID string) (Order, error) {
	o, err := b.active(tableID)
	if err != nil {
		return Order{}, err
	}
	o.recompute()
	return o, nil
}

// TableView is an order with its current totals.
type TableView struct {
	Order
	Pricing   Pricing         `json:"-"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Fee       decimal.Decimal `json:"service_fee"`
	Grand     decimal.Decimal `json:"grand_total"`
	Remaining decimal.Decimal `json:"remaining"`
}

// View returns the table with totals at the default fee policy.
func (b *Book) View(tableID string) (TableView, error) {
	o, err := b.GetTable(tableID)
	if err != nil {
		return TableView{}, err
	}
	p := b.pricing(o, decimal.Zero, false)
	remaining := money.Max(p.GrandTotal.Sub(o.TotalPaid), decimal.Zero)
	return TableView{Order: o, Pricing: p, Subtotal: p.Subtotal, Fee: p.ServiceFee, Grand: p.GrandTotal, Remaining: remaining}, nil
}

// OpenRequest opens a table.
type OpenRequest struct {
	TableID      string      `json:"table_id" validate:"required"`
	NumAdults    int         `json:"num_adults" validate:"gte=0"`
	CustomerType string      `json:"customer_type"`
	CustomerName string      `json:"customer_name"`
	RoomNumber   room.Number `json:"room_number"`
	Waiter       string      `json:"waiter"`
}

// OpenTable creates the order for a free table.
func (b *Book) OpenTable(ctx context.Context, req OpenRequest, actor auth.Actor) (Order, error) {
	tableID := strings.TrimSpace(req.TableID)
	if tableID == "" || strings.ContainsAny(tableID, `/\.`) {
		return Order{}, apperr.Validation("invalid table id %q", req.TableID)
	}
	if req.NumAdults < 0 {
		return Order{}, apperr.Validation("num_adults must be >= 0")
	}
	ctype := req.CustomerType
	if ctype == "" {
		ctype = enum.CustomerPassante
	}
	if !validCustomerType(ctype) {
		return Order{}, apperr.Validation("invalid customer type %q", req.CustomerType)
	}
	number := room.Canonical(req.RoomNumber.String())
	name := strings.TrimSpace(req.CustomerName)
	if ctype == enum.CustomerHospede {
		if number == "" {
			return Order{}, apperr.Validation("room number is required for hotel guests")
		}
		guest, err := b.occupied(number)
		if err != nil {
			return Order{}, err
		}
		if name == "" {
			name = guest.GuestName
		}
	}
	waiter := strings.TrimSpace(req.Waiter)
	if waiter == "" {
		waiter = actor.Username
	}

	var opened Order
	err := b.docs.WithLock(ctx, tableKey(tableID), func() error {
		if existing, ok := b.read(tableID); ok && existing.Active() {
			return apperr.Conflict(apperr.CodeTableOccupied, "table %s is already open", tableID)
		}
		now := b.clock.Now()
		opened = Order{
			ID:              "ORD_" + b.ids.NewID(),
			TableID:         tableID,
			Status:          enum.OrderStatusOpen,
			OpenedAt:        now,
			OpenedBy:        actor.Username,
			CustomerType:    ctype,
			CustomerName:    name,
			RoomNumber:      room.Number(number),
			Waiter:          waiter,
			NumAdults:       req.NumAdults,
			Items:           []Item{},
			PartialPayments: []PartialPayment{},
			IsBreakfast:     clock.IsWithin(b.cfg.Breakfast, now),
		}
		if cover, ok := b.autoCover(opened); ok {
			opened.Items = append(opened.Items, coverItem(cover, opened.NumAdults, b.ids.NewID(), now))
		}
		return b.save(opened)
	})
	if err != nil {
		return Order{}, err
	}
	b.publish("tables", "table_opened", map[string]any{"table_id": tableID, "waiter": waiter})
	return opened, nil
}

// autoCover returns the cover product when live music is on and the new
// table is one that pays it.
func (b *Book) autoCover(o Order) (catalog.MenuItem, bool) {
	if b.cfg.CoverProductID == "" || o.NumAdults <= 0 || b.IsPermanent(o.TableID) {
		return catalog.MenuItem{}, false
	}
	if o.CustomerType == enum.CustomerFuncionario || o.CustomerType == enum.CustomerHospede {
		return catalog.MenuItem{}, false
	}
	if !b.Settings().LiveMusicActive {
		return catalog.MenuItem{}, false
	}
	return b.menu.Find(b.cfg.CoverProductID)
}

func (b *Book) publish(channel, typ string, data any) {
	if b.events == nil {
		return
	}
	payload, err := json.Marshal(notify.Event{Type: typ, Data: data})
	if err != nil {
		log.Warn().Err(err).Str("type", typ).Msg("orderbook: marshal event")
		return
	}
	b.events.Broadcast(channel, payload)
}

func (b *Book) print(ctx context.Context, job notify.PrintJob) {
	if b.printer != nil {
		b.printer.Print(ctx, job)
	}
}

// authorize passes elevated actors, or anyone who types an elevated user's
// password. A refusal is audited at WARNING.
func (b *Book) authorize(ctx context.Context, actor auth.Actor, password, action, entity string) (string, error) {
	if actor.Elevated() {
		return actor.Username, nil
	}
	if b.authorizer != nil {
		if u, ok := b.authorizer.VerifyElevated(password); ok {
			return u.Username, nil
		}
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Autorização Negada",
		Entity:       entity,
		Severity:     enum.SeverityWarning,
		Details:      map[string]any{"attempted": action, "role": actor.Role},
	})
	return "", apperr.ErrAuthRequired.WithDetail("action", action)
}
