package plans

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finitefield.org/edu-storefront/internal/envelope"
)

// ReasonPaymentNotConfigured is reported for paid plans without a payment-provider price id.
const ReasonPaymentNotConfigured = "payment not configured"

var (
	// ErrPlanNotFound is returned when the chosen tier does not match any loaded plan.
	ErrPlanNotFound = errors.New("plans: plan not found")
	// ErrPaymentNotConfigured is returned when the matched paid plan has no price id.
	ErrPaymentNotConfigured = errors.New("plans: " + ReasonPaymentNotConfigured)
)

// Source fetches the raw plan-list envelope from the backend.
type Source interface {
	Plans(ctx context.Context) (any, error)
}

// SourceFunc adapts ordinary functions to Source.
type SourceFunc func(ctx context.Context) (any, error)

// Plans calls f.
func (f SourceFunc) Plans(ctx context.Context) (any, error) { return f(ctx) }

// Readiness reports whether a purchase may be attempted for a plan.
type Readiness struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// CheckoutReadiness gates checkout-session creation: freemium is always ready, paid plans need a
// price id.
func CheckoutReadiness(p Plan) Readiness {
	if p.IsFree() {
		return Readiness{Ready: true}
	}
	if strings.TrimSpace(p.StripePriceID) == "" {
		return Readiness{Ready: false, Reason: ReasonPaymentNotConfigured}
	}
	return Readiness{Ready: true}
}

// Catalog is the caller-owned, per-visit plan index. It is not safe for concurrent use.
type Catalog struct {
	source Source
	labels FeatureLabels
	plans  []Plan
}

// Option customises a Catalog.
type Option func(*Catalog)

// WithLabels overrides the feature labels used by FeaturesFor.
func WithLabels(labels FeatureLabels) Option {
	return func(c *Catalog) {
		c.labels = labels.withDefaults(DefaultFeatureLabels())
	}
}

// NewCatalog constructs an empty catalog backed by source.
func NewCatalog(source Source, opts ...Option) *Catalog {
	c := &Catalog{source: source, labels: DefaultFeatureLabels()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches, normalizes and orders the plans, replacing any previously loaded state. A failed
// fetch leaves prior state untouched.
func (c *Catalog) Load(ctx context.Context) ([]Plan, error) {
	if c == nil || c.source == nil {
		return nil, errors.New("plans: source not configured")
	}
	raw, err := c.source.Plans(ctx)
	if err != nil {
		return nil, fmt.Errorf("plans: fetch: %w", err)
	}
	res := envelope.Normalize(raw)
	loaded := make([]Plan, 0, len(res.Items))
	for _, rec := range res.Items {
		loaded = append(loaded, FromRecord(rec))
	}
	Sort(loaded)
	c.plans = loaded
	return c.Plans(), nil
}

// Plans returns a copy of the loaded plans.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// FeaturesFor derives the display feature list for p.
func (c *Catalog) FeaturesFor(p Plan) []string {
	return c.labels.Features(p)
}

// CheckoutReadiness reports whether p may be purchased.
func (c *Catalog) CheckoutReadiness(p Plan) Readiness {
	return CheckoutReadiness(p)
}

// Select matches the user-chosen tier against the loaded plans by case-insensitive name. A missing
// plan or a paid plan without a price id is returned as an error, never substituted.
func (c *Catalog) Select(tier string) (Plan, error) {
	tier = strings.TrimSpace(tier)
	for _, p := range c.plans {
		if !strings.EqualFold(strings.TrimSpace(p.Name), tier) {
			continue
		}
		if r := CheckoutReadiness(p); !r.Ready {
			return p, fmt.Errorf("%w: %s", ErrPaymentNotConfigured, p.Name)
		}
		return p, nil
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, tier)
}
