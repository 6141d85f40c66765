package storefront

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"finitefield.org/edu-storefront/internal/i18n"
	"finitefield.org/edu-storefront/internal/platform/requestctx"
)

const (
	localeCookieName  = "hl"
	visitorCookieName = "sf_visitor"
	visitorCookieTTL  = 30 * 24 * 60 * 60
)

// Locale negotiates the request language: ?hl= (persisted to the hl cookie), then the hl cookie,
// then Accept-Language. Unsupported values are ignored.
func Locale(bundle *i18n.Bundle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := ""
			if q := i18n.LocaleKey(r.URL.Query().Get("hl")); q != "" && bundle.IsSupported(q) {
				lang = q
				http.SetCookie(w, &http.Cookie{Name: localeCookieName, Value: q, Path: "/", SameSite: http.SameSiteLaxMode})
			} else if c, err := r.Cookie(localeCookieName); err == nil && bundle.IsSupported(i18n.LocaleKey(c.Value)) {
				lang = i18n.LocaleKey(c.Value)
			} else {
				lang = bundle.Resolve(r.Header.Get("Accept-Language"))
			}
			w.Header().Set("Content-Language", lang)
			next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), lang)))
		})
	}
}

// VisitorSession assigns an anonymous visitor id cookie. Challenge flows are scoped to it.
func VisitorSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(visitorCookieName); err == nil {
			if parsed, err := uuid.Parse(strings.TrimSpace(c.Value)); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     visitorCookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   visitorCookieTTL,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithSession(r.Context(), id)))
	})
}
