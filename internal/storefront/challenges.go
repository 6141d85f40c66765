package storefront

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/edu-storefront/internal/challenges"
	"finitefield.org/edu-storefront/internal/i18n"
	"finitefield.org/edu-storefront/internal/platform/httpx"
	"finitefield.org/edu-storefront/internal/platform/requestctx"
)

type challengeView struct {
	ID               string           `json:"id"`
	State            challenges.State `json:"state"`
	Title            string           `json:"title,omitempty"`
	Description      string           `json:"description,omitempty"`
	InstructionsHTML string           `json:"instructionsHtml,omitempty"`
	ImageURL         string           `json:"imageUrl,omitempty"`
	Completed        bool             `json:"completed"`
	Redirect         bool             `json:"redirect"`
}

type generatedRequest struct {
	ImageURL      string `json:"imageUrl"`
	ImageURLSnake string `json:"image_url"`
}

func (s *Server) challengeRoutes(r chi.Router) {
	r.Route("/challenges/{id}", func(r chi.Router) {
		r.Get("/", s.showChallenge)
		r.Post("/generation", s.beginGeneration)
		r.Delete("/generation", s.generationFailed)
		r.Post("/generated", s.generated)
		r.Post("/submit", s.throttle(s.submitChallenge))
	})
}

// withFlow runs fn against the visitor's flow for the routed challenge. With prefetch, flows that
// were never fetched are fetched first so every transition starts from a loaded state.
func (s *Server) withFlow(w http.ResponseWriter, r *http.Request, prefetch bool, fn func(*challenges.Flow) error) (challenges.Snapshot, bool) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var snap challenges.Snapshot
	err := s.flows.Do(requestctx.Session(ctx), id, func() *challenges.Flow {
		return challenges.NewFlow(id, s.challenges)
	}, func(f *challenges.Flow) error {
		if prefetch && f.State() == challenges.Loading {
			if _, err := f.Fetch(ctx); err != nil {
				return err
			}
		}
		err := fn(f)
		snap = f.Snapshot()
		return err
	})
	if err != nil {
		s.writeChallengeError(w, r, snap, err)
		return snap, false
	}
	return snap, true
}

func (s *Server) showChallenge(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.withFlow(w, r, false, func(f *challenges.Flow) error {
		_, err := f.Fetch(r.Context())
		return err
	})
	if !ok {
		return
	}
	s.writeChallenge(w, r, http.StatusOK, snap)
}

func (s *Server) beginGeneration(w http.ResponseWriter, r *http.Request) {
	var started bool
	snap, ok := s.withFlow(w, r, true, func(f *challenges.Flow) error {
		started = f.BeginGeneration()
		return nil
	})
	if !ok {
		return
	}
	if !started {
		s.writeTransitionRejected(w, r, snap)
		return
	}
	s.writeChallenge(w, r, http.StatusOK, snap)
}

func (s *Server) generationFailed(w http.ResponseWriter, r *http.Request) {
	var reset bool
	snap, ok := s.withFlow(w, r, true, func(f *challenges.Flow) error {
		reset = f.GenerationFailed()
		return nil
	})
	if !ok {
		return
	}
	if !reset {
		s.writeTransitionRejected(w, r, snap)
		return
	}
	s.writeChallenge(w, r, http.StatusOK, snap)
}

func (s *Server) generated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxRequestBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req generatedRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}
	imageURL := firstNonEmpty(req.ImageURL, req.ImageURLSnake)
	if strings.TrimSpace(imageURL) == "" {
		s.writeMessage(ctx, w, http.StatusBadRequest, "challenge.image_required", nil)
		return
	}

	var accepted bool
	snap, ok := s.withFlow(w, r, true, func(f *challenges.Flow) error {
		accepted = f.Generated(imageURL)
		return nil
	})
	if !ok {
		return
	}
	if !accepted {
		s.writeTransitionRejected(w, r, snap)
		return
	}
	s.writeChallenge(w, r, http.StatusOK, snap)
}

func (s *Server) submitChallenge(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.withFlow(w, r, true, func(f *challenges.Flow) error {
		return f.Submit(r.Context())
	})
	if !ok {
		return
	}
	s.writeChallenge(w, r, http.StatusOK, snap)
}

func (s *Server) writeTransitionRejected(w http.ResponseWriter, r *http.Request, snap challenges.Snapshot) {
	key := "challenge.generation_unavailable"
	if snap.State == challenges.Completed {
		key = "challenge.completed"
	}
	s.writeMessage(r.Context(), w, http.StatusConflict, key, s.stateDetails(r, snap))
}

func (s *Server) writeChallengeError(w http.ResponseWriter, r *http.Request, snap challenges.Snapshot, err error) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx).With(zap.String("challenge_id", chi.URLParam(r, "id")))

	var subErr *challenges.SubmissionError
	switch {
	case errors.Is(err, challenges.ErrChallengeNotFound):
		s.writeMessage(ctx, w, http.StatusNotFound, "challenge.not_found", nil)
	case errors.Is(err, challenges.ErrNotAwaitingSubmission):
		key := "challenge.image_required"
		if snap.State == challenges.Completed {
			key = "challenge.completed"
		}
		s.writeMessage(ctx, w, http.StatusConflict, key, s.stateDetails(r, snap))
	case errors.As(err, &subErr):
		status := http.StatusBadGateway
		if errors.Is(err, challenges.ErrCompletionRejected) {
			status = http.StatusConflict
		}
		logger.Warn("challenge submission rejected", zap.Error(err))
		msg := subErr.Message
		if msg == "" {
			msg = s.bundle.T(requestctx.Locale(ctx), "challenge.submit_failed")
		}
		httpx.WriteError(ctx, w, httpx.NewError("challenge_submit_failed", msg, status).WithDetails(s.stateDetails(r, snap)))
	default:
		logger.Warn("challenge fetch failed", zap.Error(err))
		s.writeMessage(ctx, w, http.StatusBadGateway, "content.load_failed", nil)
	}
}

func (s *Server) stateDetails(r *http.Request, snap challenges.Snapshot) map[string]any {
	return map[string]any{"challenge": s.challengeView(r, snap)}
}

func (s *Server) writeChallenge(w http.ResponseWriter, r *http.Request, status int, snap challenges.Snapshot) {
	httpx.WriteJSON(w, status, s.challengeView(r, snap))
}

func (s *Server) challengeView(r *http.Request, snap challenges.Snapshot) challengeView {
	view := challengeView{
		ID:        snap.ChallengeID,
		State:     snap.State,
		ImageURL:  s.resources.Resolve(snap.ImageURL),
		Completed: snap.State == challenges.Completed,
		Redirect:  snap.Redirect,
	}
	if c := snap.Challenge; c != nil {
		loc := i18n.NewLocalizer(requestctx.Locale(r.Context()))
		view.Title = firstNonEmpty(loc.Field(c.Raw, "title"), c.Title)
		view.Description = firstNonEmpty(loc.Field(c.Raw, "description"), c.Description)
		view.InstructionsHTML = s.renderHTML(r, firstNonEmpty(loc.Field(c.Raw, "instructions"), c.Instructions))
	}
	return view
}
