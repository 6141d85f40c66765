package challenges

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finitefield.org/edu-storefront/internal/backend"
)

type fakeBackend struct {
	challenge     any
	challengeErr  error
	complete      any
	completeErr   error
	fetches       int
	completions   int
	lastImageURL  string
	lastCompleted string
}

func (f *fakeBackend) Challenge(_ context.Context, _ string) (any, error) {
	f.fetches++
	return f.challenge, f.challengeErr
}

func (f *fakeBackend) CompleteChallenge(_ context.Context, id, imageURL string) (any, error) {
	f.completions++
	f.lastCompleted = id
	f.lastImageURL = imageURL
	return f.complete, f.completeErr
}

func openChallenge() map[string]any {
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"id":           "42",
			"title":        "Draw a logo",
			"instructions": "Use the generator",
			"is_completed": false,
		},
	}
}

func TestFetchMovesLoadingToReady(t *testing.T) {
	backend := &fakeBackend{challenge: openChallenge()}
	flow := NewFlow("42", backend)
	require.Equal(t, Loading, flow.State())

	redirect, err := flow.Fetch(context.Background())
	require.NoError(t, err)
	require.False(t, redirect)
	require.Equal(t, Ready, flow.State())

	snap := flow.Snapshot()
	require.NotNil(t, snap.Challenge)
	require.Equal(t, "Draw a logo", snap.Challenge.Title)
	require.False(t, snap.Redirect)
}

func TestCompletedChallengeNeverReachesGeneration(t *testing.T) {
	backend := &fakeBackend{challenge: map[string]any{"id": 7, "isCompleted": true, "generatedImageUrl": "/img/done.png"}}
	flow := NewFlow("7", backend)

	redirect, err := flow.Fetch(context.Background())
	require.NoError(t, err)
	require.True(t, redirect)
	require.Equal(t, Completed, flow.State())
	require.Equal(t, "/img/done.png", flow.ImageURL())

	require.False(t, flow.BeginGeneration())
	require.False(t, flow.Generated("/img/other.png"))
	require.NotEqual(t, AwaitingSubmission, flow.State())
	require.ErrorIs(t, flow.Submit(context.Background()), ErrNotAwaitingSubmission)

	for i := 0; i < 3; i++ {
		redirect, err = flow.Fetch(context.Background())
		require.NoError(t, err)
		require.True(t, redirect)
		require.Equal(t, Completed, flow.State())
	}
	require.Equal(t, 1, backend.fetches)
}

func TestFetchErrors(t *testing.T) {
	boom := errors.New("boom")
	flow := NewFlow("1", &fakeBackend{challengeErr: boom})
	_, err := flow.Fetch(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, Loading, flow.State())

	flow = NewFlow("1", &fakeBackend{challenge: map[string]any{"success": false, "message": "missing"}})
	_, err = flow.Fetch(context.Background())
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestGenerationAndSubmission(t *testing.T) {
	backend := &fakeBackend{challenge: openChallenge(), complete: map[string]any{"success": true}}
	flow := NewFlow("42", backend)
	_, err := flow.Fetch(context.Background())
	require.NoError(t, err)

	require.True(t, flow.BeginGeneration())
	require.Equal(t, Generating, flow.State())
	require.False(t, flow.BeginGeneration())

	require.False(t, flow.Generated("  "))
	require.True(t, flow.Generated("https://cdn.example/gen.png"))
	require.Equal(t, AwaitingSubmission, flow.State())

	require.NoError(t, flow.Submit(context.Background()))
	require.Equal(t, Completed, flow.State())
	require.Equal(t, "42", backend.lastCompleted)
	require.Equal(t, "https://cdn.example/gen.png", backend.lastImageURL)

	snap := flow.Snapshot()
	require.True(t, snap.Redirect)
	require.True(t, snap.Challenge.IsCompleted)
	require.Equal(t, "https://cdn.example/gen.png", snap.Challenge.GeneratedImageURL)
}

func TestGeneratedDirectlyFromReady(t *testing.T) {
	flow := NewFlow("42", &fakeBackend{challenge: openChallenge()})
	_, err := flow.Fetch(context.Background())
	require.NoError(t, err)

	require.True(t, flow.Generated("/img/a.png"))
	require.Equal(t, AwaitingSubmission, flow.State())
	require.False(t, flow.Generated("/img/b.png"))
	require.Equal(t, "/img/a.png", flow.ImageURL())
}

func TestGenerationFailedReturnsToReady(t *testing.T) {
	flow := NewFlow("42", &fakeBackend{challenge: openChallenge()})
	require.False(t, flow.GenerationFailed())
	_, err := flow.Fetch(context.Background())
	require.NoError(t, err)

	require.True(t, flow.BeginGeneration())
	require.True(t, flow.GenerationFailed())
	require.Equal(t, Ready, flow.State())
	require.True(t, flow.BeginGeneration())
}

func TestSubmissionRejectionKeepsImage(t *testing.T) {
	cases := []struct {
		name    string
		backend *fakeBackend
		wantErr error
		message string
	}{
		{
			name:    "transport error",
			backend: &fakeBackend{challenge: openChallenge(), completeErr: errors.New("503")},
		},
		{
			name:    "server error",
			backend: &fakeBackend{challenge: openChallenge(), completeErr: &backend.StatusError{Method: "POST", Path: "challenges/42/complete", Status: 503, Body: map[string]any{"message": "maintenance"}}},
		},
		{
			name: "declined with status",
			backend: &fakeBackend{challenge: openChallenge(), completeErr: &backend.StatusError{
				Method: "POST",
				Path:   "challenges/42/complete",
				Status: 422,
				Body:   map[string]any{"success": false, "message": "Image does not match the challenge"},
			}},
			wantErr: ErrCompletionRejected,
			message: "Image does not match the challenge",
		},
		{
			name:    "explicit failure",
			backend: &fakeBackend{challenge: openChallenge(), complete: map[string]any{"success": false, "message": "image rejected"}},
			wantErr: ErrCompletionRejected,
			message: "image rejected",
		},
		{
			name:    "record still open",
			backend: &fakeBackend{challenge: openChallenge(), complete: map[string]any{"data": map[string]any{"id": "42", "completed": 0}}},
			wantErr: ErrCompletionRejected,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flow := NewFlow("42", tc.backend)
			_, err := flow.Fetch(context.Background())
			require.NoError(t, err)
			require.True(t, flow.Generated("/img/gen.png"))

			err = flow.Submit(context.Background())
			var subErr *SubmissionError
			require.ErrorAs(t, err, &subErr)
			require.Equal(t, "42", subErr.ChallengeID)
			require.Equal(t, tc.message, subErr.Message)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NotErrorIs(t, err, ErrCompletionRejected)
			}
			require.Equal(t, AwaitingSubmission, flow.State())
			require.Equal(t, "/img/gen.png", flow.ImageURL())

			tc.backend.completeErr = nil
			tc.backend.complete = map[string]any{"success": true}
			require.NoError(t, flow.Submit(context.Background()))
			require.Equal(t, Completed, flow.State())
			require.Equal(t, 2, tc.backend.completions)
		})
	}
}

func TestRefetchResetsOpenFlow(t *testing.T) {
	backend := &fakeBackend{challenge: openChallenge()}
	flow := NewFlow("42", backend)
	_, err := flow.Fetch(context.Background())
	require.NoError(t, err)
	require.True(t, flow.Generated("/img/gen.png"))

	_, err = flow.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, Ready, flow.State())
	require.Empty(t, flow.ImageURL())
}

func TestStateText(t *testing.T) {
	text, err := AwaitingSubmission.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "awaiting_submission", string(text))
	require.Equal(t, "state(9)", State(9).String())
}

func TestStoreReusesFlowPerSession(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(time.Minute, WithClock(func() time.Time { return now }))
	created := 0
	create := func() *Flow {
		created++
		return NewFlow("42", &fakeBackend{challenge: openChallenge()})
	}

	require.NoError(t, store.Do("s1", "42", create, func(f *Flow) error {
		_, err := f.Fetch(context.Background())
		return err
	}))
	require.NoError(t, store.Do("s1", "42", create, func(f *Flow) error {
		require.Equal(t, Ready, f.State())
		return nil
	}))
	require.NoError(t, store.Do("s2", "42", create, func(f *Flow) error {
		require.Equal(t, Loading, f.State())
		return nil
	}))
	require.Equal(t, 2, created)
	require.Equal(t, 2, store.Len())

	now = now.Add(2 * time.Minute)
	require.NoError(t, store.Do("s1", "42", create, func(f *Flow) error {
		require.Equal(t, Loading, f.State(), "expired flows start over")
		return nil
	}))
	require.Equal(t, 3, created)

	require.Equal(t, 1, store.CleanupExpired(now, 0))
	require.Equal(t, 1, store.Len())

	store.Forget("s1", "42")
	require.Equal(t, 0, store.Len())
}

func TestStoreSerializesAccess(t *testing.T) {
	store := NewStore(0)
	create := func() *Flow { return NewFlow("42", nil) }

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Do("s", "42", create, func(*Flow) error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}
