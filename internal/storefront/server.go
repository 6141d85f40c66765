package storefront

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/edu-storefront/internal/challenges"
	"finitefield.org/edu-storefront/internal/checkout"
	"finitefield.org/edu-storefront/internal/i18n"
	"finitefield.org/edu-storefront/internal/plans"
	"finitefield.org/edu-storefront/internal/platform/httpx"
	"finitefield.org/edu-storefront/internal/platform/observability"
	"finitefield.org/edu-storefront/internal/platform/requestctx"
	"finitefield.org/edu-storefront/internal/resource"
	"finitefield.org/edu-storefront/internal/richtext"
)

const maxRequestBody = 8 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// Content fetches raw catalogue envelopes. *backend.Client implements it.
type Content interface {
	Categories(ctx context.Context) (any, error)
	Series(ctx context.Context, categoryID string, page int) (any, error)
	Videos(ctx context.Context, seriesID string) (any, error)
}

// Deps wires the collaborators behind the storefront routes.
type Deps struct {
	Content    Content
	Plans      plans.Source
	Challenges challenges.Backend
	Checkout   *checkout.Service
	Flows      *challenges.Store
	Bundle     *i18n.Bundle
	Resources  resource.Resolver
	Labels     plans.LabelCatalog
	Renderer   *richtext.Renderer
	Logger     *zap.Logger
	// Limiter throttles checkout and submission per visitor. Nil disables throttling.
	Limiter Limiter
}

// Server exposes the storefront JSON surface consumed by page collaborators.
type Server struct {
	content    Content
	plans      plans.Source
	challenges challenges.Backend
	checkout   *checkout.Service
	flows      *challenges.Store
	bundle     *i18n.Bundle
	resources  resource.Resolver
	labels     plans.LabelCatalog
	renderer   *richtext.Renderer
	logger     *zap.Logger
	limiter    Limiter
}

// New constructs a Server. Missing optional collaborators get usable defaults.
func New(deps Deps) *Server {
	s := &Server{
		content:    deps.Content,
		plans:      deps.Plans,
		challenges: deps.Challenges,
		checkout:   deps.Checkout,
		flows:      deps.Flows,
		bundle:     deps.Bundle,
		resources:  deps.Resources,
		labels:     deps.Labels,
		renderer:   deps.Renderer,
		logger:     deps.Logger,
		limiter:    deps.Limiter,
	}
	if s.flows == nil {
		s.flows = challenges.NewStore(challenges.DefaultTTL)
	}
	if s.bundle == nil {
		s.bundle = i18n.NewBundle("en", nil)
	}
	if s.renderer == nil {
		s.renderer = richtext.NewRenderer()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Router builds the chi router with the ambient middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.InjectLoggerMiddleware(s.logger))
	r.Use(observability.RecoveryMiddleware)
	r.Use(observability.TraceMiddleware)
	r.Use(Locale(s.bundle))
	r.Use(VisitorSession)
	r.Use(observability.RequestLoggerMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.contentRoutes(r)
	s.planRoutes(r)
	s.challengeRoutes(r)
	return r
}

// writeMessage writes a localized error whose message comes from the catalog key.
func (s *Server) writeMessage(ctx context.Context, w http.ResponseWriter, status int, key string, details map[string]any) {
	msg := s.bundle.T(requestctx.Locale(ctx), key)
	httpx.WriteError(ctx, w, httpx.NewError(errorCode(key), msg, status).WithDetails(details))
}

func errorCode(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}
