// Package catalog reads the reference data the core consumes: the menu, the
// payment method registry and the room occupancy map.
package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

const MenuKey = "menu_items"

// Ingredient is one line of a product recipe, per unit sold.
type Ingredient struct {
	IngredientID string          `json:"ingredient_id"`
	Name         string          `json:"name,omitempty"`
	Qty          decimal.Decimal `json:"qty"`
}

// MenuItem is a sellable product.
type MenuItem struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Active             *bool           `json:"active,omitempty"`
	Price              decimal.Decimal `json:"price"`
	Category           string          `json:"category"`
	Recipe             []Ingredient    `json:"recipe,omitempty"`
	FlavorGroupID      string          `json:"flavor_group_id,omitempty"`
	MandatoryQuestions []string        `json:"mandatory_questions,omitempty"`
	PrinterID          string          `json:"printer_id,omitempty"`
	ShouldPrint        bool            `json:"should_print"`
	ServiceFeeExempt   bool            `json:"service_fee_exempt,omitempty"`
}

// IsActive treats a missing flag as active.
func (m MenuItem) IsActive() bool {
	return m.Active == nil || *m.Active
}

// Menu resolves menu items from the store.
type Menu struct {
	docs store.Documents
}

func NewMenu(docs store.Documents) *Menu {
	return &Menu{docs: docs}
}

// All returns every menu item, active or not.
func (m *Menu) All() []MenuItem {
	return store.Load(m.docs, MenuKey, []MenuItem{})
}

// Find resolves ref by id first, then by normalized name.
func (m *Menu) Find(ref string) (MenuItem, bool) {
	items := m.All()
	for _, it := range items {
		if it.ID == ref {
			return it, true
		}
	}
	want := Normalize(ref)
	if want == "" {
		return MenuItem{}, false
	}
	for _, it := range items {
		if Normalize(it.Name) == want {
			return it, true
		}
	}
	return MenuItem{}, false
}
