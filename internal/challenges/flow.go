package challenges

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"finitefield.org/edu-storefront/internal/backend"
	"finitefield.org/edu-storefront/internal/envelope"
	"finitefield.org/edu-storefront/internal/record"
)

// State enumerates the completion flow positions.
type State int

const (
	Loading State = iota
	Ready
	Generating
	AwaitingSubmission
	Completed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Generating:
		return "generating"
	case AwaitingSubmission:
		return "awaiting_submission"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON views.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrChallengeNotFound is returned when the backend payload carries no challenge record.
	ErrChallengeNotFound = errors.New("challenges: challenge not found")
	// ErrNotAwaitingSubmission is returned by Submit outside the AwaitingSubmission state.
	ErrNotAwaitingSubmission = errors.New("challenges: no generated image awaiting submission")
	// ErrCompletionRejected is wrapped by SubmissionError when the backend declines without a transport error.
	ErrCompletionRejected = errors.New("challenges: completion rejected")
)

// SubmissionError reports a rejected completion. The flow stays in AwaitingSubmission.
type SubmissionError struct {
	ChallengeID string
	Message     string
	Err         error
}

func (e *SubmissionError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("challenges: submit %s", e.ChallengeID)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *SubmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Backend is the port the flow uses to read and complete challenges. Both calls return the raw
// decoded envelope.
type Backend interface {
	Challenge(ctx context.Context, id string) (any, error)
	CompleteChallenge(ctx context.Context, id, imageURL string) (any, error)
}

// Snapshot is the externally visible flow state.
type Snapshot struct {
	ChallengeID string     `json:"challengeId"`
	State       State      `json:"state"`
	Challenge   *Challenge `json:"challenge,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Redirect    bool       `json:"redirect"`
}

// Flow coordinates fetch, generation, submission and completion for one challenge. It is
// caller-owned and not safe for concurrent use; see Store.
type Flow struct {
	id        string
	backend   Backend
	state     State
	challenge *Challenge
	imageURL  string
}

// NewFlow returns a flow in the Loading state.
func NewFlow(id string, backend Backend) *Flow {
	return &Flow{id: strings.TrimSpace(id), backend: backend, state: Loading}
}

// State returns the current position.
func (f *Flow) State() State { return f.state }

// ImageURL returns the generated image awaiting or accepted for submission.
func (f *Flow) ImageURL() string { return f.imageURL }

// Snapshot copies the current state.
func (f *Flow) Snapshot() Snapshot {
	snap := Snapshot{
		ChallengeID: f.id,
		State:       f.state,
		ImageURL:    f.imageURL,
		Redirect:    f.state == Completed,
	}
	if f.challenge != nil {
		c := *f.challenge
		snap.Challenge = &c
	}
	return snap
}

// Fetch loads the challenge and reports whether the caller should redirect to the completed view.
// A completed challenge is terminal: repeated fetches return the redirect without contacting the
// backend. Any other successful fetch replaces prior state and resets to Ready. A failed fetch
// leaves the flow unchanged.
func (f *Flow) Fetch(ctx context.Context) (bool, error) {
	if f.state == Completed {
		return true, nil
	}
	if f.backend == nil {
		return false, errors.New("challenges: backend not configured")
	}
	raw, err := f.backend.Challenge(ctx, f.id)
	if err != nil {
		return false, fmt.Errorf("challenges: fetch %s: %w", f.id, err)
	}
	rec, ok := envelope.One(raw)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrChallengeNotFound, f.id)
	}
	c := FromRecord(rec)
	if c.ID == "" {
		c.ID = f.id
	}
	f.challenge = &c
	f.imageURL = ""
	if c.IsCompleted {
		f.state = Completed
		f.imageURL = c.GeneratedImageURL
		return true, nil
	}
	f.state = Ready
	return false, nil
}

// BeginGeneration moves Ready to Generating. Any other state is a no-op returning false.
func (f *Flow) BeginGeneration() bool {
	if f.state != Ready {
		return false
	}
	f.state = Generating
	return true
}

// Generated records the image produced by the generation tool and moves to AwaitingSubmission.
// It is accepted from Ready or Generating with a non-empty reference; otherwise it is a no-op.
func (f *Flow) Generated(imageURL string) bool {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return false
	}
	if f.state != Ready && f.state != Generating {
		return false
	}
	f.imageURL = imageURL
	f.state = AwaitingSubmission
	return true
}

// GenerationFailed returns a Generating flow to Ready.
func (f *Flow) GenerationFailed() bool {
	if f.state != Generating {
		return false
	}
	f.state = Ready
	return true
}

// Submit asks the backend to mark the challenge completed with the generated image. The flow
// advances only on confirmation; a rejection keeps the image so the caller may retry.
func (f *Flow) Submit(ctx context.Context) error {
	if f.state != AwaitingSubmission {
		return ErrNotAwaitingSubmission
	}
	if f.backend == nil {
		return errors.New("challenges: backend not configured")
	}
	raw, err := f.backend.CompleteChallenge(ctx, f.id, f.imageURL)
	if err != nil {
		return f.rejection(err)
	}
	confirmed, message := confirmation(raw)
	if !confirmed {
		return &SubmissionError{ChallengeID: f.id, Message: message, Err: ErrCompletionRejected}
	}
	f.state = Completed
	if f.challenge != nil {
		f.challenge.IsCompleted = true
		f.challenge.GeneratedImageURL = f.imageURL
	}
	return nil
}

// rejection classifies a failed completion call. A 4xx answer carrying a JSON object is the
// backend declining the image; its message is kept. Anything else is a transport failure.
func (f *Flow) rejection(err error) error {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) && statusErr.Status < http.StatusInternalServerError {
		if top, ok := record.From(statusErr.Body); ok {
			return &SubmissionError{
				ChallengeID: f.id,
				Message:     top.String("message", "error"),
				Err:         fmt.Errorf("%w: %w", ErrCompletionRejected, err),
			}
		}
	}
	return &SubmissionError{ChallengeID: f.id, Err: err}
}

// confirmation reads the completion response. An explicit success flag wins; otherwise a returned
// challenge record must carry a completion flag; any other 2xx body counts as confirmed.
func confirmation(raw any) (bool, string) {
	top, _ := record.From(raw)
	message := top.String("message", "error")
	if v, ok := top.Get("success"); ok {
		return record.Truthy(v), message
	}
	if rec, ok := envelope.One(raw); ok && rec.Has("is_completed", "isCompleted", "completed") {
		return rec.Bool("is_completed", "isCompleted", "completed"), message
	}
	return true, message
}
