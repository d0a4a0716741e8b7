package upgrade

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// CatalogPlan is a purchasable plan as priced by the server.
type CatalogPlan struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

// Catalog is the server-held price list. Client-supplied amounts are never used.
type Catalog struct {
	plans         map[string]CatalogPlan
	defaultPlanID string
}

// DefaultPlanID is the plan used when a create request does not name one.
const DefaultPlanID = "pro_annual"

// DefaultCatalog returns the single annual PRO plan sold today.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(DefaultPlanID, CatalogPlan{
		ID:       DefaultPlanID,
		Title:    "PRO annual subscription",
		Price:    decimal.RequireFromString("99.90"),
		Currency: "BRL",
	})
	return c
}

// NewCatalog builds a catalog. defaultPlanID must be one of plans.
func NewCatalog(defaultPlanID string, plans ...CatalogPlan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]CatalogPlan, len(plans)), defaultPlanID: defaultPlanID}
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: plan id is required", ErrValidation)
		}
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("%w: plan %q must have a positive price", ErrValidation, p.ID)
		}
		if p.Currency == "" {
			return nil, fmt.Errorf("%w: plan %q must have a currency", ErrValidation, p.ID)
		}
		c.plans[p.ID] = p
	}
	if _, ok := c.plans[defaultPlanID]; !ok {
		return nil, fmt.Errorf("%w: default plan %q", ErrPlanNotFound, defaultPlanID)
	}
	return c, nil
}

// Lookup resolves planID, falling back to the default plan when planID is empty.
func (c *Catalog) Lookup(planID string) (CatalogPlan, error) {
	if planID == "" {
		planID = c.defaultPlanID
	}
	p, ok := c.plans[planID]
	if !ok {
		return CatalogPlan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, planID)
	}
	return p, nil
}

// Plans lists the catalog ordered by id.
func (c *Catalog) Plans() []CatalogPlan {
	out := make([]CatalogPlan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
