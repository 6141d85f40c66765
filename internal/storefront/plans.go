package storefront

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/edu-storefront/internal/checkout"
	"finitefield.org/edu-storefront/internal/i18n"
	"finitefield.org/edu-storefront/internal/plans"
	"finitefield.org/edu-storefront/internal/platform/httpx"
	"finitefield.org/edu-storefront/internal/platform/requestctx"
)

type planView struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description,omitempty"`
	Price       float64         `json:"price"`
	Currency    string          `json:"currency,omitempty"`
	Features    []string        `json:"features"`
	Readiness   plans.Readiness `json:"readiness"`
}

type checkoutRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

func (s *Server) planRoutes(r chi.Router) {
	r.Get("/plans", s.listPlans)
	r.Post("/plans/{tier}/checkout", s.throttle(s.startCheckout))
}

// catalog builds the per-visit plan catalog with labels for the request locale.
func (s *Server) catalog(lang string) *plans.Catalog {
	return plans.NewCatalog(s.plans, plans.WithLabels(s.labels.For(lang)))
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lang := requestctx.Locale(ctx)
	catalog := s.catalog(lang)
	loaded, err := catalog.Load(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("plans load failed", zap.Error(err))
		s.writeMessage(ctx, w, http.StatusBadGateway, "plans.load_failed", nil)
		return
	}

	items := make([]planView, 0, len(loaded))
	for _, p := range loaded {
		readiness := catalog.CheckoutReadiness(p)
		if !readiness.Ready {
			readiness.Reason = s.bundle.T(lang, "plans.payment_not_configured")
		}
		items = append(items, planView{
			ID:          p.ID,
			Name:        p.Name,
			DisplayName: firstNonEmpty(i18n.Field(p.Raw, "display_name", lang), i18n.Field(p.Raw, "displayName", lang), p.DisplayName),
			Description: i18n.Field(p.Raw, "description", lang),
			Price:       p.Price,
			Currency:    p.Currency,
			Features:    catalog.FeaturesFor(p),
			Readiness:   readiness,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) startCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lang := requestctx.Locale(ctx)
	if s.checkout == nil {
		s.writeMessage(ctx, w, http.StatusServiceUnavailable, "checkout.failed", nil)
		return
	}

	var req checkoutRequest
	body, err := readLimitedBody(r, maxRequestBody)
	switch {
	case errors.Is(err, errEmptyBody):
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	catalog := s.catalog(lang)
	if _, err := catalog.Load(ctx); err != nil {
		requestctx.Logger(ctx).Warn("plans load failed", zap.Error(err))
		s.writeMessage(ctx, w, http.StatusBadGateway, "plans.load_failed", nil)
		return
	}

	tier := strings.TrimSpace(chi.URLParam(r, "tier"))
	result, err := s.checkout.Start(ctx, catalog, tier, checkout.StartOptions{
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Locale:     lang,
		ClientRef:  requestctx.Session(ctx),
	})
	if err != nil {
		s.writeCheckoutError(w, r, tier, result, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) writeCheckoutError(w http.ResponseWriter, r *http.Request, tier string, result checkout.SessionResult, err error) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx).With(zap.String("tier", tier))
	switch {
	case errors.Is(err, plans.ErrPlanNotFound):
		s.writeMessage(ctx, w, http.StatusNotFound, "plans.not_found", nil)
	case errors.Is(err, plans.ErrPaymentNotConfigured):
		s.writeMessage(ctx, w, http.StatusConflict, "plans.payment_not_configured", nil)
	case errors.Is(err, checkout.ErrSessionRejected):
		logger.Warn("checkout session rejected", zap.String("reason", result.Message))
		msg := result.Message
		if msg == "" {
			msg = s.bundle.T(requestctx.Locale(ctx), "checkout.failed")
		}
		httpx.WriteError(ctx, w, httpx.NewError("checkout_failed", msg, http.StatusBadGateway))
	default:
		logger.Error("checkout session failed", zap.Error(err))
		s.writeMessage(ctx, w, http.StatusBadGateway, "checkout.failed", nil)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
