package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the StripeCreator.
type StripeConfig struct {
	APIKey   string
	Backends *stripe.Backends
	sessions stripeSessionAPI
}

// StripeCreator creates subscription Checkout sessions directly with Stripe.
type StripeCreator struct {
	sessions stripeSessionAPI
}

// NewStripeCreator constructs a creator from cfg.
func NewStripeCreator(cfg StripeConfig) (*StripeCreator, error) {
	sessions := cfg.sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}
	return &StripeCreator{sessions: sessions}, nil
}

// CreateSession implements SessionCreator. Stripe API errors become an unsuccessful result
// carrying Stripe's message.
func (c *StripeCreator) CreateSession(ctx context.Context, req SessionRequest) (SessionResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"plan": req.Tier,
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.PlanID != "" {
		params.Metadata["plan_id"] = req.PlanID
	}
	if req.ClientRef != "" {
		params.ClientReferenceID = stripe.String(req.ClientRef)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(strings.ToLower(req.Locale))
	}

	session, err := c.sessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return SessionResult{Success: false, Message: stripeErr.Msg}, nil
		}
		return SessionResult{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	if session == nil || session.URL == "" {
		return SessionResult{Success: false, Message: "stripe returned no checkout url"}, nil
	}
	return SessionResult{Success: true, URL: session.URL}, nil
}
