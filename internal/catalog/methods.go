package catalog

import (
	"github.com/rs/zerolog/log"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

const PaymentMethodsKey = "payment_methods"

// PaymentMethod is an entry of the method registry.
type PaymentMethod struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AvailableIn []string `json:"available_in"`
	IsFiscal    bool     `json:"is_fiscal"`
	FiscalCNPJ  string   `json:"fiscal_cnpj,omitempty"`
}

// legacy cashier-named contexts
var contextAliases = map[string]string{
	"caixa_restaurante": enum.ContextRestaurant,
	"caixa_recepcao":    enum.ContextReception,
	"caixa_reservas":    enum.ContextReservation,
}

func canonicalContext(c string) string {
	if a, ok := contextAliases[c]; ok {
		return a
	}
	return c
}

// AvailableFor reports whether the method may be used in ctx.
func (p PaymentMethod) AvailableFor(ctx string) bool {
	ctx = canonicalContext(ctx)
	for _, c := range p.AvailableIn {
		if canonicalContext(c) == ctx {
			return true
		}
	}
	return false
}

// Methods is the payment method registry.
type Methods struct {
	docs store.Documents
}

func NewMethods(docs store.Documents) *Methods {
	return &Methods{docs: docs}
}

// All returns the valid methods; entries missing id, name or contexts are
// skipped with a warning.
func (m *Methods) All() []PaymentMethod {
	raw := store.Load(m.docs, PaymentMethodsKey, []PaymentMethod{})
	out := make([]PaymentMethod, 0, len(raw))
	for _, pm := range raw {
		if pm.ID == "dinheiro" && len(pm.AvailableIn) == 0 {
			pm.AvailableIn = []string{enum.ContextRestaurant, enum.ContextReception}
		}
		if pm.ID == "" || pm.Name == "" || len(pm.AvailableIn) == 0 {
			log.Warn().Str("id", pm.ID).Str("name", pm.Name).Msg("catalog: skipping invalid payment method")
			continue
		}
		out = append(out, pm)
	}
	return out
}

// Find resolves ref by id, then by normalized name.
func (m *Methods) Find(ref string) (PaymentMethod, bool) {
	all := m.All()
	for _, pm := range all {
		if pm.ID == ref {
			return pm, true
		}
	}
	want := Normalize(ref)
	for _, pm := range all {
		if Normalize(pm.Name) == want {
			return pm, true
		}
	}
	return PaymentMethod{}, false
}

// Resolve finds ref and checks it is usable in ctx.
func (m *Methods) Resolve(ref, ctx string) (PaymentMethod, error) {
	pm, ok := m.Find(ref)
	if !ok {
		return PaymentMethod{}, apperr.ValidationCode(apperr.CodeMethodInvalid, "payment method %q not found", ref)
	}
	if !pm.AvailableFor(ctx) {
		return PaymentMethod{}, apperr.ValidationCode(apperr.CodeMethodInvalid, "payment method %q is not available in %s", pm.Name, ctx)
	}
	return pm, nil
}
