package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"finitefield.org/edu-storefront/internal/plans"
)

// ErrSessionRejected is returned when the payment collaborator answers with success=false.
var ErrSessionRejected = errors.New("checkout: session rejected")

// SessionRequest carries what a checkout-session collaborator needs for one purchase.
type SessionRequest struct {
	PlanID         string
	Tier           string
	PriceID        string
	SuccessURL     string
	CancelURL      string
	Locale         string
	ClientRef      string
	IdempotencyKey string
}

// SessionResult is the response contract shared by every adapter.
type SessionResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// SessionCreator creates hosted checkout sessions.
type SessionCreator interface {
	CreateSession(ctx context.Context, req SessionRequest) (SessionResult, error)
}

// Selector resolves a user-chosen tier to a purchasable plan. *plans.Catalog implements it.
type Selector interface {
	Select(tier string) (plans.Plan, error)
}

// StartOptions carries per-visit parameters; empty redirect targets fall back to the service defaults.
type StartOptions struct {
	SuccessURL string
	CancelURL  string
	Locale     string
	ClientRef  string
}

// Service gates checkout-session creation on plan readiness.
type Service struct {
	creator    SessionCreator
	successURL string
	cancelURL  string
	newKey     func() string
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithRedirects sets the default success and cancel targets.
func WithRedirects(successURL, cancelURL string) ServiceOption {
	return func(s *Service) {
		s.successURL = strings.TrimSpace(successURL)
		s.cancelURL = strings.TrimSpace(cancelURL)
	}
}

// WithKeyGenerator overrides idempotency key generation.
func WithKeyGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newKey = fn
		}
	}
}

// NewService constructs a Service around creator.
func NewService(creator SessionCreator, opts ...ServiceOption) *Service {
	s := &Service{
		creator: creator,
		newKey:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start selects the plan for tier and, when it is ready, creates a checkout session. The free tier
// needs no payment and resolves to the success target directly. Selection failures are returned
// unchanged so callers can match plans.ErrPlanNotFound and plans.ErrPaymentNotConfigured.
func (s *Service) Start(ctx context.Context, selector Selector, tier string, opts StartOptions) (SessionResult, error) {
	plan, err := selector.Select(tier)
	if err != nil {
		return SessionResult{}, err
	}

	successURL := firstNonEmpty(opts.SuccessURL, s.successURL)
	cancelURL := firstNonEmpty(opts.CancelURL, s.cancelURL)

	if plan.IsFree() {
		return SessionResult{Success: true, URL: successURL}, nil
	}
	if r := plans.CheckoutReadiness(plan); !r.Ready {
		return SessionResult{}, fmt.Errorf("%w: %s", plans.ErrPaymentNotConfigured, plan.Name)
	}
	if s.creator == nil {
		return SessionResult{}, errors.New("checkout: session creator not configured")
	}

	result, err := s.creator.CreateSession(ctx, SessionRequest{
		PlanID:         plan.ID,
		Tier:           string(plan.Tier()),
		PriceID:        plan.StripePriceID,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Locale:         opts.Locale,
		ClientRef:      opts.ClientRef,
		IdempotencyKey: s.newKey(),
	})
	if err != nil {
		return SessionResult{}, fmt.Errorf("checkout: create session for %s: %w", plan.Name, err)
	}
	if !result.Success {
		return result, fmt.Errorf("%w: %s", ErrSessionRejected, result.Message)
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
