package orderbook

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/notify"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/stock"
)

// ItemInput is one entry of an add-items request. Product is a menu id or name.
type ItemInput struct {
	Product          string           `json:"product" validate:"required"`
	Qty              decimal.Decimal  `json:"qty"`
	Observations     []string         `json:"observations"`
	Complements      []string         `json:"complements"`
	QuestionsAnswers []QuestionAnswer `json:"questions_answers"`
	Waiter           string           `json:"waiter"`
}

func invalidItems(reasons map[string]string) error {
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+reasons[k])
	}
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Code:    apperr.CodeItemInvalid,
		Message: strings.Join(parts, "; "),
		Details: reasons,
	}
}

func missingAnswers(m catalog.MenuItem, answers []QuestionAnswer) []string {
	answered := make(map[string]bool, len(answers))
	for _, a := range answers {
		if strings.TrimSpace(a.Answer) != "" {
			answered[catalog.Normalize(a.Question)] = true
		}
	}
	var missing []string
	for _, q := range m.MandatoryQuestions {
		if !answered[catalog.Normalize(q)] {
			missing = append(missing, q)
		}
	}
	return missing
}

// AddBatchItems appends every entry to the table or none of them. Stock is
// deducted for recipe items; a stock failure rolls the whole batch back.
func (b *Book) AddBatchItems(ctx context.Context, tableID string, inputs []ItemInput, actor auth.Actor) ([]Item, error) {
	if len(inputs) == 0 {
		return nil, apperr.Validation("no items submitted")
	}
	reasons := map[string]string{}
	resolved := make([]catalog.MenuItem, len(inputs))
	for i, in := range inputs {
		key := fmt.Sprintf("item[%d]", i)
		if !in.Qty.IsPositive() {
			reasons[key] = "non-positive quantity"
			continue
		}
		m, ok := b.menu.Find(strings.TrimSpace(in.Product))
		if !ok {
			reasons[key] = fmt.Sprintf("product %q not found", in.Product)
			continue
		}
		if !m.IsActive() {
			reasons[key] = fmt.Sprintf("product %q is inactive", m.Name)
			continue
		}
		if missing := missingAnswers(m, in.QuestionsAnswers); len(missing) > 0 {
			reasons[key] = "unanswered: " + strings.Join(missing, ", ")
			continue
		}
		resolved[i] = m
	}
	if len(reasons) > 0 {
		return nil, invalidItems(reasons)
	}

	var added []Item
	err := b.docs.WithLock(ctx, tableKey(tableID), func() error {
		o, err := b.editable(tableID)
		if err != nil {
			return err
		}
		now := b.clock.Now()
		added = make([]Item, 0, len(inputs))
		for i, in := range inputs {
			m := resolved[i]
			waiter := strings.TrimSpace(in.Waiter)
			if waiter == "" {
				waiter = actor.Username
			}
			added = append(added, Item{
				ID:               b.ids.NewID(),
				ProductID:        m.ID,
				Name:             m.Name,
				Category:         m.Category,
				Price:            money.Round2(m.Price),
				Qty:              in.Qty,
				Observations:     in.Observations,
				Complements:      in.Complements,
				QuestionsAnswers: in.QuestionsAnswers,
				Waiter:           waiter,
				Printed:          false,
				PrinterID:        m.PrinterID,
				KDSStatus:        enum.KDSStatusPending,
				Source:           enum.SourceRestaurant,
				ServiceFeeExempt: m.ServiceFeeExempt,
				Recipe:           m.Recipe,
				CreatedAt:        now,
			})
		}

		applied, err := b.moveStock(ctx, added, -1, "Venda", o.ID, actor.Username)
		if err != nil {
			return err
		}
		o.Items = append(o.Items, added...)
		if err := b.save(o); err != nil {
			b.undoStock(ctx, applied)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.printKitchen(ctx, tableID, added, resolved)
	b.publish("kds", "items_added", map[string]any{"table_id": tableID, "items": added})
	return added, nil
}

func (b *Book) printKitchen(ctx context.Context, tableID string, items []Item, menu []catalog.MenuItem) {
	byPrinter := map[string][]string{}
	var printers []string
	for i, it := range items {
		if !menu[i].ShouldPrint {
			continue
		}
		line := fmt.Sprintf("%sx %s", it.Qty.String(), it.Name)
		if len(it.Observations) > 0 {
			line += " (" + strings.Join(it.Observations, ", ") + ")"
		}
		if _, seen := byPrinter[it.PrinterID]; !seen {
			printers = append(printers, it.PrinterID)
		}
		byPrinter[it.PrinterID] = append(byPrinter[it.PrinterID], line)
	}
	for _, p := range printers {
		b.print(ctx, notify.PrintJob{
			Kind:      notify.JobKitchen,
			PrinterID: p,
			TableID:   tableID,
			Title:     "Mesa " + tableID,
			Lines:     byPrinter[p],
		})
	}
}

// moveStock applies one movement per recipe ingredient, sign -1 to deduct
// and +1 to restore. On failure the movements already applied are undone.
func (b *Book) moveStock(ctx context.Context, items []Item, sign int64, reason, ref, user string) ([]stock.Movement, error) {
	if b.stock == nil {
		return nil, nil
	}
	var applied []stock.Movement
	for _, it := range items {
		for _, ing := range it.Recipe {
			delta := ing.Qty.Mul(it.Qty).Mul(decimal.NewFromInt(sign))
			if delta.IsZero() {
				continue
			}
			m, err := b.stock.ApplyMovement(ctx, stock.Movement{
				ProductID: ing.IngredientID,
				Delta:     delta,
				Reason:    reason,
				Ref:       ref,
				User:      user,
			})
			if err != nil {
				b.undoStock(ctx, applied)
				b.metrics.CollaboratorFailed("stock")
				return nil, apperr.Dependency("stock", err)
			}
			applied = append(applied, m)
		}
	}
	return applied, nil
}

func (b *Book) undoStock(ctx context.Context, applied []stock.Movement) {
	for i := len(applied) - 1; i >= 0; i-- {
		m := applied[i]
		_, err := b.stock.ApplyMovement(ctx, stock.Movement{
			ProductID: m.ProductID,
			Delta:     m.Delta.Neg(),
			Reason:    "Estorno " + m.Reason,
			Ref:       m.Ref,
			User:      m.User,
		})
		if err != nil {
			log.Error().Err(err).Str("product_id", m.ProductID).Msg("orderbook: undo stock movement failed")
		}
	}
}

// coverWaiter owns cover lines; they never count toward commission.
const coverWaiter = "Sistema"

func coverItem(cover catalog.MenuItem, adults int, id string, now time.Time) Item {
	return Item{
		ID:               id,
		ProductID:        cover.ID,
		Name:             cover.Name,
		Category:         cover.Category,
		Price:            money.Round2(cover.Price),
		Qty:              decimal.NewFromInt(int64(adults)),
		Waiter:           coverWaiter,
		Printed:          true,
		KDSStatus:        enum.KDSStatusDone,
		Source:           enum.SourceAutoCover,
		ServiceFeeExempt: true,
		CreatedAt:        now,
	}
}

// RemoveRequest removes an item, or part of its quantity.
type RemoveRequest struct {
	TableID      string          `json:"table_id"`
	ItemID       string          `json:"item_id" validate:"required"`
	Qty          decimal.Decimal `json:"qty"`
	Reason       string          `json:"reason" validate:"required"`
	AuthPassword string          `json:"auth_password"`
}

// RemoveItem takes an item off the table. Removing an item the kitchen has
// already printed needs an elevated actor or an elevated user's password.
func (b *Book) RemoveItem(ctx context.Context, req RemoveRequest, actor auth.Actor) (Item, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return Item{}, apperr.Validation("a removal reason is required")
	}
	if req.Qty.IsNegative() {
		return Item{}, apperr.Validation("qty must be > 0")
	}

	var removed Item
	var authorizedBy string
	err := b.docs.WithLock(ctx, tableKey(req.TableID), func() error {
		o, err := b.editable(req.TableID)
		if err != nil {
			return err
		}
		i := o.itemIndex(req.ItemID)
		if i < 0 {
			return apperr.NotFound("item", req.ItemID)
		}
		it := o.Items[i]
		if req.Qty.GreaterThan(it.Qty) {
			return apperr.Validation("cannot remove %s of %s units", req.Qty.String(), it.Qty.String())
		}
		if it.Printed {
			authorizedBy, err = b.authorize(ctx, actor, req.AuthPassword, "remove_item", req.TableID)
			if err != nil {
				return err
			}
		}

		qty := req.Qty
		if qty.IsZero() {
			qty = it.Qty
		}
		removed = it
		removed.Qty = qty

		next := o
		next.Items = append([]Item(nil), o.Items...)
		if qty.Equal(it.Qty) {
			next.Items = append(next.Items[:i], next.Items[i+1:]...)
		} else {
			next.Items[i].Qty = it.Qty.Sub(qty)
		}
		if grand := b.pricing(next, decimal.Zero, false).GrandTotal; money.GreaterBeyond(o.TotalPaid, grand) {
			return apperr.ErrPaymentBound.WithDetail("table_id", req.TableID)
		}
		if next.ReopenedAfterPull {
			next.ItemsRemovedAfterReopen = true
		}

		applied, err := b.moveStock(ctx, []Item{removed}, 1, "Cancelamento", o.ID, actor.Username)
		if err != nil {
			return err
		}
		if err := b.save(next); err != nil {
			b.undoStock(ctx, applied)
			return err
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}

	severity := enum.SeverityInfo
	if removed.Printed {
		severity = enum.SeverityWarning
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Remoção de Item",
		Entity:       "Mesa " + req.TableID,
		Severity:     severity,
		Details: map[string]any{
			"item":          removed.Name,
			"qty":           removed.Qty.String(),
			"value":         money.Round2(removed.Total()).StringFixed(2),
			"reason":        reason,
			"printed":       removed.Printed,
			"authorized_by": authorizedBy,
		},
	})
	b.publish("kds", "item_removed", map[string]any{"table_id": req.TableID, "item_id": removed.ID})
	return removed, nil
}

// SetKitchenStatus moves an item along the kitchen display.
func (b *Book) SetKitchenStatus(ctx context.Context, tableID, itemID, status string) (Item, error) {
	switch status {
	case enum.KDSStatusPending, enum.KDSStatusPreparing, enum.KDSStatusDone, enum.KDSStatusArchived:
	default:
		return Item{}, apperr.Validation("invalid kitchen status %q", status)
	}
	var updated Item
	err := b.docs.WithLock(ctx, tableKey(tableID), func() error {
		o, err := b.active(tableID)
		if err != nil {
			return err
		}
		i := o.itemIndex(itemID)
		if i < 0 {
			return apperr.NotFound("item", itemID)
		}
		o.Items[i].KDSStatus = status
		updated = o.Items[i]
		return b.save(o)
	})
	if err != nil {
		return Item{}, err
	}
	b.publish("kds", "kds_status", map[string]any{"table_id": tableID, "item_id": itemID, "status": status})
	return updated, nil
}

// MarkPrinted records that the print agent delivered the given items.
func (b *Book) MarkPrinted(ctx context.Context, tableID string, itemIDs []string) error {
	return b.docs.WithLock(ctx, tableKey(tableID), func() error {
		o, err := b.active(tableID)
		if err != nil {
			return err
		}
		want := make(map[string]bool, len(itemIDs))
		for _, id := range itemIDs {
			want[id] = true
		}
		for i := range o.Items {
			if want[o.Items[i].ID] {
				o.Items[i].Printed = true
				o.Items[i].PrintStatus = "printed"
			}
		}
		return b.save(o)
	})
}

// ActivateCover adds the live-music cover to every open table of walk-in
// customers that has none yet: one exempt line with qty = adults. Guest,
// staff and permanent tables are skipped. It returns the tables charged.
func (b *Book) ActivateCover(ctx context.Context, actor auth.Actor) ([]string, error) {
	if b.cfg.CoverProductID == "" {
		return nil, apperr.Validation("no cover product configured")
	}
	cover, ok := b.menu.Find(b.cfg.CoverProductID)
	if !ok {
		return nil, apperr.NotFound("cover product", b.cfg.CoverProductID)
	}
	tables, err := b.ListTables()
	if err != nil {
		return nil, err
	}

	var charged []string
	for _, t := range tables {
		if t.Status != enum.OrderStatusOpen || t.NumAdults <= 0 || b.IsPermanent(t.TableID) {
			continue
		}
		if t.CustomerType == enum.CustomerHospede || t.CustomerType == enum.CustomerFuncionario {
			continue
		}
		added := false
		err := b.docs.WithLock(ctx, tableKey(t.TableID), func() error {
			o, err := b.editable(t.TableID)
			if err != nil {
				return err
			}
			for _, it := range o.Items {
				if it.Source == enum.SourceAutoCover {
					return nil
				}
			}
			o.Items = append(o.Items, coverItem(cover, o.NumAdults, b.ids.NewID(), b.clock.Now()))
			added = true
			return b.save(o)
		})
		if err != nil {
			log.Warn().Err(err).Str("table_id", t.TableID).Msg("orderbook: cover activation skipped table")
			continue
		}
		if added {
			charged = append(charged, t.TableID)
		}
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Ativação de Couvert",
		Entity:       cover.ID,
		Details:      map[string]any{"tables": charged},
	})
	return charged, nil
}
