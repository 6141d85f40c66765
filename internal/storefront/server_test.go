package storefront

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/edu-storefront/internal/backend"
	"finitefield.org/edu-storefront/internal/checkout"
	"finitefield.org/edu-storefront/internal/i18n"
	"finitefield.org/edu-storefront/internal/plans"
	"finitefield.org/edu-storefront/internal/resource"
	"finitefield.org/edu-storefront/locales"
)

type fakeBackend struct {
	mu          sync.Mutex
	categories  any
	series      map[int]any
	videos      any
	plans       any
	challenge   any
	complete    any
	completeErr error
	fetches     int
	seriesPages []int
}

func (f *fakeBackend) Categories(context.Context) (any, error) { return f.categories, nil }

func (f *fakeBackend) Series(_ context.Context, _ string, page int) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seriesPages = append(f.seriesPages, page)
	return f.series[page], nil
}

func (f *fakeBackend) Videos(context.Context, string) (any, error) { return f.videos, nil }

func (f *fakeBackend) Plans(context.Context) (any, error) { return f.plans, nil }

func (f *fakeBackend) Challenge(context.Context, string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.challenge, nil
}

func (f *fakeBackend) CompleteChallenge(context.Context, string, string) (any, error) {
	return f.complete, f.completeErr
}

type fakeCreator struct {
	requests []checkout.SessionRequest
}

func (f *fakeCreator) CreateSession(_ context.Context, req checkout.SessionRequest) (checkout.SessionResult, error) {
	f.requests = append(f.requests, req)
	return checkout.SessionResult{Success: true, URL: "https://checkout.example/" + req.PriceID}, nil
}

func newTestServer(t *testing.T, backend *fakeBackend, creator checkout.SessionCreator) http.Handler {
	t.Helper()
	return newLimitedTestServer(t, backend, creator, nil)
}

func newLimitedTestServer(t *testing.T, backend *fakeBackend, creator checkout.SessionCreator, limiter Limiter) http.Handler {
	t.Helper()
	bundle, err := i18n.LoadFS(locales.FS, "en", []string{"en", "es", "pt"})
	require.NoError(t, err)
	if creator == nil {
		creator = &fakeCreator{}
	}
	srv := New(Deps{
		Content:    backend,
		Plans:      backend,
		Challenges: backend,
		Checkout:   checkout.NewService(creator, checkout.WithRedirects("https://shop.example/success", "https://shop.example/plans")),
		Bundle:     bundle,
		Resources:  resource.NewResolver("https://api.example.com/api"),
		Labels:     plans.NewLabelCatalog(map[string]plans.FeatureLabels{"es": {AdFree: "Sin anuncios"}}),
		Limiter:    limiter,
	})
	return srv.Router()
}

type client struct {
	t       *testing.T
	handler http.Handler
	cookies []*http.Cookie
}

func (c *client) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	for _, cookie := range rec.Result().Cookies() {
		c.cookies = append(c.cookies, cookie)
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	c := &client{t: t, handler: newTestServer(t, &fakeBackend{}, nil)}
	rec := c.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode(t, rec)["status"])
}

func TestCategoriesLocalizedAndResolved(t *testing.T) {
	backend := &fakeBackend{categories: map[string]any{
		"success": true,
		"data": []any{
			map[string]any{"id": 1, "name": "Design", "name_es": "Diseño", "sortOrder": 2, "image": "/img/design.png"},
			map[string]any{
				"id":           2,
				"name":         "Code",
				"translations": map[string]any{"name": map[string]any{"en": "Coding"}},
				"sortOrder":    1,
				"image":        "https://cdn.example/code.png",
			},
		},
	}}
	c := &client{t: t, handler: newTestServer(t, backend, nil)}

	rec := c.do(http.MethodGet, "/categories?hl=es-MX", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "es", rec.Header().Get("Content-Language"))

	var body listResponse[categoryView]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []categoryView{
		{ID: "2", Name: "Coding", ImageURL: "https://cdn.example/code.png"},
		{ID: "1", Name: "Diseño", ImageURL: "https://api.example.com/img/design.png"},
	}, body.Items)
	require.False(t, body.HasMore)

	names := map[string]string{}
	for _, cookie := range c.cookies {
		names[cookie.Name] = cookie.Value
	}
	require.Equal(t, "es", names[localeCookieName])
	require.NotEmpty(t, names[visitorCookieName])

	rec = c.do(http.MethodGet, "/categories", "")
	require.Equal(t, "es", rec.Header().Get("Content-Language"), "hl cookie persists the choice")
}

func TestLocaleFromAcceptLanguage(t *testing.T) {
	c := &client{t: t, handler: newTestServer(t, &fakeBackend{categories: []any{}}, nil)}
	rec := c.do(http.MethodGet, "/categories", "", "Accept-Language", "fr-FR, pt-BR;q=0.8, en;q=0.5")
	require.Equal(t, "pt", rec.Header().Get("Content-Language"))

	rec = c.do(http.MethodGet, "/categories?hl=de", "", "Accept-Language", "de")
	require.Equal(t, "en", rec.Header().Get("Content-Language"))
}

func TestLocaleCookieIsNormalized(t *testing.T) {
	c := &client{t: t, handler: newTestServer(t, &fakeBackend{categories: []any{}}, nil)}
	c.cookies = append(c.cookies, &http.Cookie{Name: "hl", Value: "PT-br"})
	rec := c.do(http.MethodGet, "/categories", "", "Accept-Language", "es")
	require.Equal(t, "pt", rec.Header().Get("Content-Language"))

	c.cookies = []*http.Cookie{{Name: "hl", Value: "xx"}}
	rec = c.do(http.MethodGet, "/categories", "", "Accept-Language", "es")
	require.Equal(t, "es", rec.Header().Get("Content-Language"))
}

func TestSeriesPagination(t *testing.T) {
	backend := &fakeBackend{series: map[int]any{
		1: map[string]any{
			"success": true,
			"data": map[string]any{
				"data": []any{
					map[string]any{"id": 1, "title": "Basics", "sortOrder": 2, "description": "**Start** here"},
					map[string]any{"id": 2, "title": "Advanced", "sortOrder": 1},
				},
				"currentPage": 1,
				"lastPage":    3,
			},
		},
		3: map[string]any{
			"success": true,
			"data":    map[string]any{"data": []any{}, "current_page": 3, "last_page": 3},
		},
	}}
	c := &client{t: t, handler: newTestServer(t, backend, nil)}

	rec := c.do(http.MethodGet, "/categories/5/series", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse[seriesView]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	require.Equal(t, "2", body.Items[0].ID)
	require.Equal(t, "1", body.Items[1].ID)
	require.Contains(t, body.Items[1].DescriptionHTML, "<strong>Start</strong>")
	require.True(t, body.HasMore)
	require.Equal(t, 3, body.Page.LastPage)

	rec = c.do(http.MethodGet, "/categories/5/series?page=3", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.HasMore)
	require.Equal(t, []int{1, 3}, backend.seriesPages)

	rec = c.do(http.MethodGet, "/categories/5/series?page=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVideos(t *testing.T) {
	backend := &fakeBackend{videos: []any{
		map[string]any{"id": 1, "title": "Intro", "title_pt": "Introdução", "thumbnail": "thumbs/1.jpg", "pdf_url": "/docs/1.pdf", "created_at": "2024-01-01T00:00:00Z"},
		map[string]any{"id": 2, "title": "Next", "is_free": 1, "created_at": "2024-02-01T00:00:00Z"},
	}}
	c := &client{t: t, handler: newTestServer(t, backend, nil)}

	rec := c.do(http.MethodGet, "/series/9/videos?hl=pt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse[videoView]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	require.Equal(t, "2", body.Items[0].ID, "newest first without sort order")
	require.True(t, body.Items[0].IsFree)
	require.Equal(t, "Introdução", body.Items[1].Title)
	require.Equal(t, "https://api.example.com/thumbs/1.jpg", body.Items[1].ThumbnailURL)
	require.Equal(t, "https://api.example.com/docs/1.pdf", body.Items[1].PDFURL)
}

func planEnvelope() any {
	return map[string]any{
		"success": true,
		"data": []any{
			map[string]any{"id": 3, "name": "premium", "price": 19.9, "stripe_price_id": "price_p", "ad_free": true},
			map[string]any{"id": 1, "name": "freemium", "price": 0, "description": "Free videos\nCommunity"},
			map[string]any{"id": 2, "name": "basic", "price": 9.9, "max_devices": 2},
		},
	}
}

func TestListPlans(t *testing.T) {
	c := &client{t: t, handler: newTestServer(t, &fakeBackend{plans: planEnvelope()}, nil)}

	rec := c.do(http.MethodGet, "/plans?hl=es", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []planView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 3)
	require.Equal(t, "freemium", body.Items[0].Name)
	require.Equal(t, "basic", body.Items[1].Name)
	require.Equal(t, "premium", body.Items[2].Name)

	require.Equal(t, []string{"Free videos", "Community"}, body.Items[0].Features)
	require.True(t, body.Items[0].Readiness.Ready)
	require.Equal(t, []string{"Watch on up to 2 devices"}, body.Items[1].Features)
	require.False(t, body.Items[1].Readiness.Ready)
	require.Equal(t, "El pago aún no está configurado para este plan.", body.Items[1].Readiness.Reason)
	require.Equal(t, []string{"Sin anuncios"}, body.Items[2].Features)
	require.True(t, body.Items[2].Readiness.Ready)
}

func TestCheckout(t *testing.T) {
	creator := &fakeCreator{}
	c := &client{t: t, handler: newTestServer(t, &fakeBackend{plans: planEnvelope()}, creator)}

	rec := c.do(http.MethodPost, "/plans/Premium/checkout", `{"successUrl":"https://shop.example/thanks"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"success": true, "url": "https://checkout.example/price_p"}, decode(t, rec))
	require.Len(t, creator.requests, 1)
	require.Equal(t, "https://shop.example/thanks", creator.requests[0].SuccessURL)
	require.Equal(t, "https://shop.example/plans", creator.requests[0].CancelURL)
	require.NotEmpty(t, creator.requests[0].ClientRef)

	rec = c.do(http.MethodPost, "/plans/freemium/checkout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"success": true, "url": "https://shop.example/success"}, decode(t, rec))

	rec = c.do(http.MethodPost, "/plans/basic/checkout", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Payment is not configured for this plan yet.", body["message"])

	rec = c.do(http.MethodPost, "/plans/gold/checkout?hl=es", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "El plan seleccionado no está disponible.", decode(t, rec)["message"])

	rec = c.do(http.MethodPost, "/plans/premium/checkout", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Len(t, creator.requests, 1)
}

func openChallenge() any {
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"id":              42,
			"title":           "Logo",
			"title_es":        "Logotipo",
			"instructions":    "1. Generate\n2. Submit",
			"is_completed":    false,
			"generated_image": nil,
		},
	}
}

func TestChallengeFlowToCompletion(t *testing.T) {
	backend := &fakeBackend{challenge: openChallenge(), complete: map[string]any{"success": true}}
	c := &client{t: t, handler: newTestServer(t, backend, nil)}

	rec := c.do(http.MethodGet, "/challenges/42?hl=es", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "ready", body["state"])
	require.Equal(t, "Logotipo", body["title"])
	require.Contains(t, body["instructionsHtml"], "<ol>")
	require.Equal(t, false, body["redirect"])

	rec = c.do(http.MethodPost, "/challenges/42/submit", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodPost, "/challenges/42/generation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "generating", decode(t, rec)["state"])

	rec = c.do(http.MethodPost, "/challenges/42/generated", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.do(http.MethodPost, "/challenges/42/generated", `{"imageUrl":"/generated/42.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	require.Equal(t, "awaiting_submission", body["state"])
	require.Equal(t, "https://api.example.com/generated/42.png", body["imageUrl"])

	rec = c.do(http.MethodPost, "/challenges/42/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	require.Equal(t, "completed", body["state"])
	require.Equal(t, true, body["redirect"])

	fetches := backend.fetches
	rec = c.do(http.MethodGet, "/challenges/42", "")
	require.Equal(t, true, decode(t, rec)["redirect"])
	require.Equal(t, fetches, backend.fetches)

	rec = c.do(http.MethodPost, "/challenges/42/generation", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "challenge_completed", decode(t, rec)["error"])
}

func TestCompletedChallengeRedirects(t *testing.T) {
	backend := &fakeBackend{challenge: map[string]any{"id": 7, "completed": true}}
	c := &client{t: t, handler: newTestServer(t, backend, nil)}

	for i := 0; i < 2; i++ {
		rec := c.do(http.MethodGet, "/challenges/7", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		require.Equal(t, "completed", body["state"])
		require.Equal(t, true, body["redirect"])
	}
	require.Equal(t, 1, backend.fetches)

	rec := c.do(http.MethodPost, "/challenges/7/generated", `{"image_url":"/x.png"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestChallengeSubmissionRejected(t *testing.T) {
	backend := &fakeBackend{challenge: openChallenge(), complete: map[string]any{"success": false}}
	c := &client{t: t, handler: newTestServer(t, backend, nil)}

	rec := c.do(http.MethodPost, "/challenges/42/generated", `{"imageUrl":"https://cdn.example/g.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = c.do(http.MethodPost, "/challenges/42/submit", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Your submission was not accepted. Please try again.", body["message"])
	state := body["challenge"].(map[string]any)
	require.Equal(t, "awaiting_submission", state["state"])
	require.Equal(t, "https://cdn.example/g.png", state["imageUrl"])

	backend.complete = map[string]any{"success": true}
	rec = c.do(http.MethodPost, "/challenges/42/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completed", decode(t, rec)["state"])
}

func TestChallengeSubmissionDeclinedWithStatus(t *testing.T) {
	upstream := &fakeBackend{
		challenge: openChallenge(),
		completeErr: &backend.StatusError{
			Method: http.MethodPost,
			Path:   "challenges/42/complete",
			Status: http.StatusUnprocessableEntity,
			Body:   map[string]any{"success": false, "message": "Image does not match the challenge"},
		},
	}
	c := &client{t: t, handler: newTestServer(t, upstream, nil)}

	rec := c.do(http.MethodPost, "/challenges/42/generated", `{"imageUrl":"https://cdn.example/g.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = c.do(http.MethodPost, "/challenges/42/submit", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "Image does not match the challenge", body["message"])
	require.Equal(t, "awaiting_submission", body["challenge"].(map[string]any)["state"])

	upstream.completeErr = &backend.StatusError{Method: http.MethodPost, Path: "challenges/42/complete", Status: http.StatusBadGateway}
	rec = c.do(http.MethodPost, "/challenges/42/submit", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "Your submission was not accepted. Please try again.", decode(t, rec)["message"])
}

func TestChallengeGenerationFailed(t *testing.T) {
	c := &client{t: t, handler: newTestServer(t, &fakeBackend{challenge: openChallenge()}, nil)}

	rec := c.do(http.MethodDelete, "/challenges/42/generation", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodPost, "/challenges/42/generation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = c.do(http.MethodDelete, "/challenges/42/generation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", decode(t, rec)["state"])
}

func TestChallengeNotFound(t *testing.T) {
	c := &client{t: t, handler: newTestServer(t, &fakeBackend{challenge: map[string]any{"success": false}}, nil)}
	rec := c.do(http.MethodGet, "/challenges/404", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "challenge_not_found", decode(t, rec)["error"])
}

func TestChallengeFlowsAreScopedToVisitor(t *testing.T) {
	backend := &fakeBackend{challenge: openChallenge()}
	handler := newTestServer(t, backend, nil)
	first := &client{t: t, handler: handler}
	second := &client{t: t, handler: handler}

	rec := first.do(http.MethodPost, "/challenges/42/generation", "")
	require.Equal(t, "generating", decode(t, rec)["state"])

	rec = second.do(http.MethodGet, "/challenges/42", "")
	require.Equal(t, "ready", decode(t, rec)["state"])

}
