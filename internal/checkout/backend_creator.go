package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"finitefield.org/edu-storefront/internal/backend"
	"finitefield.org/edu-storefront/internal/envelope"
	"finitefield.org/edu-storefront/internal/record"
)

const (
	sessionPath       = "checkout/session"
	idempotencyHeader = "Idempotency-Key"
)

// Poster sends JSON to the backend. *backend.Client implements it.
type Poster interface {
	Post(ctx context.Context, path string, body any, header http.Header) (any, error)
}

// BackendCreator asks the content backend to create the provider session.
type BackendCreator struct {
	client Poster
}

// NewBackendCreator wraps client.
func NewBackendCreator(client Poster) *BackendCreator {
	return &BackendCreator{client: client}
}

// CreateSession implements SessionCreator. Rejections carried in an error response body are
// reported as an unsuccessful result rather than a transport error.
func (c *BackendCreator) CreateSession(ctx context.Context, req SessionRequest) (SessionResult, error) {
	body := map[string]string{
		"plan_id":         req.PlanID,
		"plan":            req.Tier,
		"stripe_price_id": req.PriceID,
		"success_url":     req.SuccessURL,
		"cancel_url":      req.CancelURL,
	}
	if req.Locale != "" {
		body["locale"] = req.Locale
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = ulid.Make().String()
	}
	header := http.Header{}
	header.Set(idempotencyHeader, key)

	raw, err := c.client.Post(ctx, sessionPath, body, header)
	if err != nil {
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) {
			if rec, ok := record.From(statusErr.Body); ok {
				result := parseResult(rec)
				result.Success = false
				return result, nil
			}
		}
		return SessionResult{}, err
	}
	rec, ok := record.From(raw)
	if !ok {
		return SessionResult{Success: false, Message: "unexpected checkout response"}, nil
	}
	return parseResult(rec), nil
}

func parseResult(rec record.Record) SessionResult {
	result := SessionResult{
		Success: rec.Bool("success"),
		URL:     rec.String("url", "checkout_url", "checkoutUrl"),
		Message: rec.String("message", "error"),
	}
	if result.URL == "" {
		if data, ok := envelope.One(rec["data"]); ok {
			result.URL = data.String("url", "checkout_url", "checkoutUrl")
		}
	}
	return result
}
