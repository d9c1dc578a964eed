package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amp-labs/catalog-fsm/fsm"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/storage"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionName = "user-machine"

type fakeProfiles struct {
	mu       sync.Mutex
	requests []Credentials
	pending  []chan remote.Response[Profile]
}

func (f *fakeProfiles) FetchProfile(_ context.Context, creds Credentials) <-chan remote.Response[Profile] {
	ch := make(chan remote.Response[Profile], 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, creds)
	f.pending = append(f.pending, ch)

	return ch
}

func (f *fakeProfiles) calls() []Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Credentials(nil), f.requests...)
}

// answer resolves the most recent request.
func (f *fakeProfiles) answer(t *testing.T, rsp remote.Response[Profile]) {
	t.Helper()

	f.mu.Lock()
	require.NotEmpty(t, f.pending)
	ch := f.pending[len(f.pending)-1]
	f.pending = f.pending[:len(f.pending)-1]
	f.mu.Unlock()

	ch <- rsp
	close(ch)
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = append(r.states, s)
}

func (r *recorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]State(nil), r.states...)
}

func newSession(t *testing.T, store storage.Store, profiles ProfileFetcher, opts ...Option) *Session {
	t.Helper()

	opts = append([]Option{WithLogger(fsm.NewDefaultLogger(slogt.New(t)))}, opts...)

	s, err := New(t.Context(), sessionName, store, profiles, opts...)
	require.NoError(t, err)

	return s
}

func waitFor(t *testing.T, s *Session, want State) {
	t.Helper()

	require.Eventually(t, func() bool { return s.State() == want }, time.Second, time.Millisecond,
		"session never reached %s, last state %s", want, s.State())
}

func TestStoredProfileLogsInOnStart(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	require.NoError(t, storage.SetJSON(t.Context(), store, "data.user-machine.v0",
		Profile{ID: "u1", FullName: "Ada", Permissions: Permissions{Root: true}}))

	rec := &recorder{}
	profiles := &fakeProfiles{}
	s := newSession(t, store, profiles, WithSubscriber(rec.record))

	assert.Equal(t, StateLoggedIn, s.State())
	assert.True(t, s.IsLoggedIn())
	assert.True(t, s.IsSuperAdmin())
	require.NoError(t, s.RequireLogin())
	assert.Equal(t, []State{StateLoggedIn}, rec.get(), "notLoggedIn is never observed as a resting state")
	assert.Empty(t, profiles.calls())

	p, ok := s.Profile()
	require.True(t, ok)
	assert.Equal(t, "Ada", p.FullName)
}

func TestEmptyStoreStaysLoggedOut(t *testing.T) {
	t.Parallel()

	s := newSession(t, storage.NewMemory(), &fakeProfiles{})

	assert.Equal(t, StateNotLoggedIn, s.State())
	assert.Equal(t, []Event{EventLogin, EventLoginValid}, s.Events())
	require.ErrorIs(t, s.RequireLogin(), ErrLoginRequired)
	assert.False(t, s.IsSuperAdmin())

	_, ok := s.Profile()
	assert.False(t, ok)
}

func TestUnreadableStoredProfileIsIgnored(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	require.NoError(t, store.Set(t.Context(), "data.user-machine.v0", []byte("{")))

	s := newSession(t, store, &fakeProfiles{})

	assert.Equal(t, StateNotLoggedIn, s.State())
}

func TestMalformedFragmentIsInvalidSynchronously(t *testing.T) {
	t.Parallel()

	for _, fragment := range []string{"", "#", "#u1", "#/token", "# /token", "#u1/ ", "u1/"} {
		t.Run(fragment, func(t *testing.T) {
			t.Parallel()

			profiles := &fakeProfiles{}
			s := newSession(t, storage.NewMemory(), profiles)

			require.ErrorIs(t, s.Login(t.Context(), fragment), ErrMalformedCredentials)

			assert.Equal(t, StateLoginInvalid, s.State())
			assert.Empty(t, profiles.calls())
		})
	}
}

func TestLoginSuccessPersistsProfile(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := storage.NewMemory()
	profiles := &fakeProfiles{}
	rec := &recorder{}
	s := newSession(t, store, profiles, WithSubscriber(rec.record))

	require.NoError(t, s.Login(ctx, "#u1/secret"))

	assert.Equal(t, StateLoginLoading, s.State())
	assert.Equal(t, []Credentials{{UserID: "u1", Token: "secret"}}, profiles.calls())

	profiles.answer(t, remote.Response[Profile]{Value: Profile{ID: "u1", FullName: "Ada"}})
	waitFor(t, s, StateLoggedIn)

	assert.Equal(t, []State{StateLoginLoading, StateLoggedIn}, rec.get())

	p, ok := s.Profile()
	require.True(t, ok)
	assert.Equal(t, "secret", p.Token)

	stored, ok, err := storage.GetJSON[Profile](ctx, store, "data.user-machine.v0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, stored)

	// A second session over the same store resumes without a request.
	resumed := newSession(t, store, &fakeProfiles{})
	assert.Equal(t, StateLoggedIn, resumed.State())
}

func TestLoginOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want State
	}{
		{name: "rejected", err: remote.ErrRejected, want: StateLoginInvalid},
		{name: "unauthorized", err: remote.ErrUnauthorized, want: StateLoginInvalid},
		{name: "network", err: errors.New("connection refused"), want: StateLoginFailed},
		{name: "server", err: &remote.StatusError{Code: 502}, want: StateLoginFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			profiles := &fakeProfiles{}
			s := newSession(t, storage.NewMemory(), profiles)

			require.NoError(t, s.Login(t.Context(), "#u1/secret"))
			profiles.answer(t, remote.Response[Profile]{Err: tt.err})

			waitFor(t, s, tt.want)
			assert.False(t, s.IsLoggedIn())

			// Both failure states accept another attempt.
			require.NoError(t, s.Login(t.Context(), "#u1/secret"))
			assert.Equal(t, StateLoginLoading, s.State())
			assert.Len(t, profiles.calls(), 2)
		})
	}
}

func TestLoginIgnoredWhileLoading(t *testing.T) {
	t.Parallel()

	profiles := &fakeProfiles{}
	s := newSession(t, storage.NewMemory(), profiles)

	require.NoError(t, s.Login(t.Context(), "#u1/secret"))
	require.NoError(t, s.Login(t.Context(), "#u2/other"))

	assert.Equal(t, []Credentials{{UserID: "u1", Token: "secret"}}, profiles.calls())

	profiles.answer(t, remote.Response[Profile]{Value: Profile{ID: "u1"}})
	waitFor(t, s, StateLoggedIn)

	p, _ := s.Profile()
	assert.Equal(t, "u1", p.ID)
}

func TestQueuedLoginsKeepTheirOwnCredentials(t *testing.T) {
	t.Parallel()

	profiles := &fakeProfiles{}
	s := newSession(t, storage.NewMemory(), profiles)

	// Both logins are queued while the machine is busy, before either transition runs.
	s.machine.Do(t.Context(), func(ctx context.Context) {
		require.NoError(t, s.Login(ctx, "#u1/secret"))
		require.NoError(t, s.Login(ctx, "#u2/other"))
	})

	assert.Equal(t, StateLoginLoading, s.State())
	assert.Equal(t, []Credentials{{UserID: "u1", Token: "secret"}}, profiles.calls())

	profiles.answer(t, remote.Response[Profile]{Value: Profile{ID: "u1"}})
	waitFor(t, s, StateLoggedIn)

	p, _ := s.Profile()
	assert.Equal(t, "u1", p.ID)
}

func TestSupersededResultIsDiscarded(t *testing.T) {
	t.Parallel()

	profiles := &fakeProfiles{}
	s := newSession(t, storage.NewMemory(), profiles)

	require.NoError(t, s.Login(t.Context(), "#u1/secret"))

	s.machine.Do(t.Context(), func(ctx context.Context) {
		s.finish(ctx, "stale-attempt", Credentials{UserID: "u0"}, remote.Response[Profile]{Value: Profile{ID: "u0"}})
	})

	assert.Equal(t, StateLoginLoading, s.State())

	profiles.answer(t, remote.Response[Profile]{Err: remote.ErrRejected})
	waitFor(t, s, StateLoginInvalid)

	_, ok := s.Profile()
	assert.False(t, ok)
}

func TestClosedChannelCountsAsFailure(t *testing.T) {
	t.Parallel()

	profiles := &fakeProfiles{}
	s := newSession(t, storage.NewMemory(), profiles)

	require.NoError(t, s.Login(t.Context(), "#u1/secret"))

	profiles.mu.Lock()
	close(profiles.pending[0])
	profiles.pending = nil
	profiles.mu.Unlock()

	waitFor(t, s, StateLoginFailed)
}

func TestLoginToken(t *testing.T) {
	t.Parallel()

	profiles := &fakeProfiles{}
	s := newSession(t, storage.NewMemory(), profiles)

	require.ErrorIs(t, s.LoginToken(t.Context(), "  "), ErrMalformedCredentials)
	assert.Equal(t, StateLoginInvalid, s.State())

	require.NoError(t, s.LoginToken(t.Context(), " secret "))
	assert.Equal(t, []Credentials{{Token: "secret"}}, profiles.calls())

	profiles.answer(t, remote.Response[Profile]{Value: Profile{ID: "u7", Token: "server-token"}})
	waitFor(t, s, StateLoggedIn)

	p, _ := s.Profile()
	assert.Equal(t, "server-token", p.Token)
}

func TestLogoutForgetsProfile(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := storage.NewMemory()
	require.NoError(t, storage.SetJSON(ctx, store, "data.user-machine.v0", Profile{ID: "u1"}))
	require.NoError(t, store.Set(ctx, "store.productList", []byte("{}")))

	s := newSession(t, store, &fakeProfiles{})
	require.Equal(t, StateLoggedIn, s.State())

	s.Logout(ctx)

	assert.Equal(t, StateNotLoggedIn, s.State())
	assert.Equal(t, []string{"store.productList"}, store.Keys())

	_, ok := s.Profile()
	assert.False(t, ok)

	s.Logout(ctx)
	assert.Equal(t, StateNotLoggedIn, s.State())
}

func TestDefinition(t *testing.T) {
	t.Parallel()

	def := Definition()
	table := fsm.TableFrom[State, Event](def)

	assert.Equal(t, StateNotLoggedIn, State(def.Initial))
	assert.Len(t, table, 5)
	assert.Equal(t, StateLoginLoading, table[StateLoginInvalid][EventLogin])
	assert.Equal(t, StateLoggedIn, table[StateNotLoggedIn][EventLoginValid])
	assert.Len(t, fsm.Reachable(StateNotLoggedIn, table), 5)
}
