package comments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/amp-labs/catalog-fsm/bgworker"
	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/remote/remotetest"
	"github.com/amp-labs/catalog-fsm/session"
	"github.com/amp-labs/catalog-fsm/storage"
	"github.com/amp-labs/catalog-fsm/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	mu      sync.Mutex
	profile *session.Profile
	subs    []func(session.State)
}

func (u *fakeUsers) Profile() (session.Profile, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.profile == nil {
		return session.Profile{}, false
	}

	return *u.profile, true
}

func (u *fakeUsers) Subscribe(fn func(session.State)) func() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.subs = append(u.subs, fn)

	return func() {}
}

func (u *fakeUsers) login(id string) {
	u.set(&session.Profile{ID: id}, session.StateLoggedIn)
}

func (u *fakeUsers) logout() {
	u.set(nil, session.StateNotLoggedIn)
}

func (u *fakeUsers) set(profile *session.Profile, state session.State) {
	u.mu.Lock()
	u.profile = profile
	subs := slices.Clone(u.subs)
	u.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

type sent struct {
	params remote.Params
	out    chan remote.Response[Message]
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
}

func (s *fakeSender) Send(_ context.Context, p remote.Params) <-chan remote.Response[Message] {
	out := make(chan remote.Response[Message], 1)

	s.mu.Lock()
	s.sent = append(s.sent, sent{params: p, out: out})
	s.mu.Unlock()

	return out
}

func (s *fakeSender) calls() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.sent)
}

func (s *fakeSender) answer(t *testing.T, i int, err error) {
	t.Helper()

	calls := s.calls()
	require.Greater(t, len(calls), i)

	calls[i].out <- remote.Response[Message]{Err: err}
	close(calls[i].out)
}

type fixture struct {
	list    *List
	source  *remotetest.Source[Message, uint64]
	sender  *fakeSender
	users   *fakeUsers
	backend *storage.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	f := fixture{
		source:  remotetest.NewSource[Message, uint64](),
		sender:  &fakeSender{},
		users:   &fakeUsers{},
		backend: storage.NewMemory(),
	}

	list, err := NewList(t.Context(), f.source, f.sender, f.users, f.backend)
	require.NoError(t, err)
	t.Cleanup(list.Close)

	f.list = list

	return f
}

func msg(id, text string) remote.Record[Message] {
	return remote.Record[Message]{ID: id, Value: Message{ID: id, Type: "text", From: "staff", Text: text}}
}

func ids(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}

	return out
}

func TestRequestWithoutUserFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	assert.Equal(t, remote.StateInitial, f.list.Thread().LoadingState)

	f.list.Request(t.Context())

	assert.Equal(t, remote.StateFailed, f.list.Thread().LoadingState)
	assert.Zero(t, f.source.Requests())
}

func TestRequestUsesUserStorage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.login("u1")

	f.list.Request(t.Context())

	params := f.source.Params()
	require.Len(t, params, 1)
	assert.Equal(t, "u1", params[0].Query.Get("name"))
}

func TestMessagesFollowRevision(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.login("u1")

	f.source.Set(remote.StateLoading)
	assert.Equal(t, remote.StateLoading, f.list.Thread().LoadingState)
	assert.Empty(t, f.list.Thread().Messages)

	f.source.Complete(1, msg("10", "ten"), msg("9", "nine"), msg("1", "one"))

	thread := f.list.Thread()
	assert.Equal(t, remote.StateComplete, thread.LoadingState)
	assert.Equal(t, []string{"1", "9", "10"}, ids(thread.Messages))
	assert.Equal(t, uint64(1), thread.Revision)
	assert.Contains(t, f.backend.Keys(), "store.commentList")

	// Same revision: the copy is kept even if records differ.
	f.source.Complete(1, msg("1", "edited"))
	assert.Equal(t, []string{"1", "9", "10"}, ids(f.list.Thread().Messages))

	f.source.Complete(2, msg("1", "one"), msg("2", "two"))
	assert.Equal(t, []string{"1", "2"}, ids(f.list.Thread().Messages))
}

func TestMessagesClearedWithoutPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.list.Update(func(th *Thread) { th.Messages = []Message{{ID: "1"}} })

	f.source.Set(remote.StateFailed)

	thread := f.list.Thread()
	assert.Equal(t, remote.StateFailed, thread.LoadingState)
	assert.Empty(t, thread.Messages)
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.ErrorIs(t, f.list.Send(t.Context(), "   "), ErrEmptyMessage)
	assert.Equal(t, SendInitial, f.list.Thread().SendingState)

	require.ErrorIs(t, f.list.Send(t.Context(), "hello"), session.ErrLoginRequired)
	assert.Equal(t, SendFailed, f.list.Thread().SendingState)
	assert.Empty(t, f.sender.calls())
}

func TestSendSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.login("u1")

	require.NoError(t, f.list.Send(t.Context(), "  hello 10 "))
	assert.Equal(t, SendLoading, f.list.Thread().SendingState)

	require.ErrorIs(t, f.list.Send(t.Context(), "again"), ErrSendInProgress)

	calls := f.sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "u1", calls[0].params.Query.Get("storage"))
	assert.JSONEq(t, `{"id":"auto_increment","type":"text","from":"user","text":"hello 10"}`, string(calls[0].params.Body))

	f.sender.answer(t, 0, nil)

	require.Eventually(t, func() bool { return f.list.Thread().SendingState == SendComplete }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.source.Requests() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, f.list.Thread().Draft)
}

func TestFailedSendIsRetriedOnLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.login("u1")

	require.NoError(t, f.list.Send(t.Context(), "hello"))
	f.sender.answer(t, 0, errors.New("connection reset"))

	require.Eventually(t, func() bool { return f.list.Thread().SendingState == SendFailed }, time.Second, time.Millisecond)
	assert.Equal(t, "hello", f.list.Thread().Draft)

	f.users.login("u1")

	require.Len(t, f.sender.calls(), 2)
	assert.Equal(t, SendLoading, f.list.Thread().SendingState)
}

func TestFailedLoadIsRetriedOnLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.list.Request(t.Context())
	require.Equal(t, remote.StateFailed, f.list.Thread().LoadingState)

	f.users.login("u2")

	params := f.source.Params()
	require.Len(t, params, 1)
	assert.Equal(t, "u2", params[0].Query.Get("name"))
	assert.Empty(t, f.sender.calls())
}

func TestThreadSurvivesRestart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.login("u1")
	f.source.Complete(3, msg("1", "one"))
	f.list.SetDraft("unsent")
	require.NoError(t, f.list.Save(t.Context()))

	restored, err := NewList(t.Context(), remotetest.NewSource[Message, uint64](), f.sender, f.users, f.backend)
	require.NoError(t, err)
	t.Cleanup(restored.Close)

	thread := restored.Thread()
	assert.Equal(t, remote.StateInitial, thread.LoadingState)
	assert.Equal(t, SendInitial, thread.SendingState)
	assert.Equal(t, "unsent", thread.Draft)
	assert.Equal(t, []string{"1"}, ids(thread.Messages))
	assert.Equal(t, uint64(3), thread.Revision)
}

func TestLogoutForgetsThread(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.login("alice")
	f.source.Complete(1, msg("1", "alice private"))
	f.list.SetDraft("alice draft")
	require.NoError(t, f.list.Save(t.Context()))

	f.users.logout()

	thread := f.list.Thread()
	assert.Empty(t, thread.Messages)
	assert.Empty(t, thread.Draft)
	assert.Zero(t, thread.Revision)
	assert.NotContains(t, f.backend.Keys(), "store.commentList")

	// A late answer to alice's request is not adopted.
	f.source.Complete(2, msg("1", "alice private"), msg("2", "alice again"))
	assert.Empty(t, f.list.Thread().Messages)
	assert.Equal(t, remote.StateComplete, f.list.Thread().LoadingState)

	restored, err := NewList(t.Context(), remotetest.NewSource[Message, uint64](), f.sender, f.users, f.backend)
	require.NoError(t, err)
	t.Cleanup(restored.Close)

	assert.Empty(t, restored.Thread().Messages)
	assert.Empty(t, restored.Thread().Draft)
}

type noProfiles struct{}

func (noProfiles) FetchProfile(context.Context, session.Credentials) <-chan remote.Response[session.Profile] {
	ch := make(chan remote.Response[session.Profile], 1)
	ch <- remote.Response[session.Profile]{Err: errors.New("offline")}
	close(ch)

	return ch
}

func TestSessionLogoutForgetsThread(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	backend := storage.NewMemory()
	require.NoError(t, storage.SetJSON(ctx, backend, "data.user-machine.v0", session.Profile{ID: "alice", Token: "tok"}))

	users, err := session.New(ctx, "user-machine", backend, noProfiles{})
	require.NoError(t, err)
	require.Equal(t, session.StateLoggedIn, users.State())

	source := remotetest.NewSource[Message, uint64]()

	list, err := NewList(ctx, source, &fakeSender{}, users, backend)
	require.NoError(t, err)
	t.Cleanup(list.Close)

	source.Complete(1, msg("1", "alice private"))
	list.SetDraft("alice draft")
	require.NoError(t, list.Save(ctx))
	require.Len(t, list.Thread().Messages, 1)

	users.Logout(ctx)

	assert.Equal(t, session.StateNotLoggedIn, users.State())
	assert.Empty(t, list.Thread().Messages)
	assert.Empty(t, list.Thread().Draft)
	assert.Empty(t, backend.Keys())
}

type chatServer struct {
	mu       sync.Mutex
	messages map[string]Message
	t        *testing.T
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(s.t, "Bearer comment-token", r.Header.Get("Authorization"))

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v0/storage":
		assert.Equal(s.t, "u1", r.URL.Query().Get("name"))

		out, _ := json.Marshal(map[string]any{
			"ok":   true,
			"meta": map[string]any{"lastUpdated": len(s.messages)},
			"data": s.messages,
		})
		_, _ = w.Write(out)
	case r.Method == http.MethodPatch && r.URL.Path == "/api/v0/":
		assert.Equal(s.t, "u1", r.URL.Query().Get("storage"))

		var m Message

		body, _ := io.ReadAll(r.Body)
		assert.NoError(s.t, json.Unmarshal(body, &m))
		assert.Equal(s.t, "auto_increment", m.ID)

		m.ID = strconv.Itoa(len(s.messages) + 1)
		s.messages[m.ID] = m

		out, _ := json.Marshal(map[string]any{"ok": true, "data": m})
		_, _ = w.Write(out)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestListOverHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&chatServer{t: t, messages: map[string]Message{
		"1": {ID: "1", Type: "text", From: "staff", Text: "welcome"},
	}})
	t.Cleanup(srv.Close)

	pool := bgworker.New(t.Name(), 2)
	t.Cleanup(pool.Stop)

	api := config.API{Base: srv.URL, CommentToken: "comment-token"}
	opts := []remote.Option{
		remote.WithClient(transport.New(transport.WithoutDNSCache())),
		remote.WithPool(pool),
		remote.WithRetry(0, 0),
	}

	source, err := NewContext(api, opts...)
	require.NoError(t, err)

	users := &fakeUsers{}
	users.login("u1")

	list, err := NewList(t.Context(), source, NewSender(api, opts...), users, storage.NewMemory())
	require.NoError(t, err)
	t.Cleanup(list.Close)

	list.Request(t.Context())
	require.Eventually(t, func() bool { return len(list.Thread().Messages) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, list.Send(t.Context(), "is tile 60x60 in stock?"))
	require.Eventually(t, func() bool { return len(list.Thread().Messages) == 2 }, 2*time.Second, 5*time.Millisecond)

	thread := list.Thread()
	assert.Equal(t, SendComplete, thread.SendingState)
	assert.Equal(t, "user", thread.Messages[1].From)
	assert.Equal(t, "is tile 60x60 in stock?", thread.Messages[1].Text)
}
