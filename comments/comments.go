// Package comments keeps the signed-in user's conversation with the store staff: the
// message list loaded from their chat storage and the draft being written.
package comments

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"

	"facette.io/natsort"
	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/session"
	"github.com/amp-labs/catalog-fsm/storage"
	"github.com/amp-labs/catalog-fsm/store"
	"github.com/tidwall/sjson"
	"go.uber.org/atomic"
)

var (
	// ErrEmptyMessage is returned by Send when the draft is blank.
	ErrEmptyMessage = errors.New("empty message")

	// ErrSendInProgress is returned by Send while an earlier message is on its way.
	ErrSendInProgress = errors.New("message already being sent")
)

// SendState tracks the last Send.
type SendState string

const (
	SendInitial  SendState = "initial"
	SendLoading  SendState = "loading"
	SendComplete SendState = "complete"
	SendFailed   SendState = "failed"
)

// Message is one chat message.
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	From string `json:"from"`
	Text string `json:"text"`
}

// Thread is the persisted conversation.
type Thread struct {
	LoadingState remote.State `json:"loadingState"`
	SendingState SendState    `json:"sendingState"`
	Draft        string       `json:"draftMessage"`
	Messages     []Message    `json:"list"`
	Revision     uint64       `json:"revision"`
}

// Context is the chat storage of one user, requested with its name as a query parameter.
type Context interface {
	remote.Source[Message, uint64]
	RequestWith(ctx context.Context, p remote.Params)
}

// Sender appends a message to a chat storage.
type Sender interface {
	Send(ctx context.Context, p remote.Params) <-chan remote.Response[Message]
}

// Users reports who is signed in.
type Users interface {
	Profile() (session.Profile, bool)
	Subscribe(fn func(session.State)) func()
}

// List mirrors the comment context into a persisted Thread.
type List struct {
	*store.Store[Thread]

	source Context
	sender Sender
	users  Users

	ctx     context.Context //nolint:containedctx // used by subscriptions
	sending atomic.Bool
	unsubs  []func()
}

// NewContext builds the HTTP comment context.
func NewContext(api config.API, opts ...remote.Option) (*remote.ServerContext[Message], error) {
	opts = append(opts, remote.WithBearer(api.CommentToken))

	return remote.NewServerContext[Message]("comment-list-context", api.CommentList(), opts...)
}

// NewSender builds the HTTP send-comment request.
func NewSender(api config.API, opts ...remote.Option) *remote.APIRequest[Message] {
	opts = append(opts, remote.WithBearer(api.CommentToken), remote.WithMethod("PATCH"))

	return remote.NewAPIRequest[Message]("send-comment-request", api.SendComment(), opts...)
}

// NewList restores the persisted thread and starts following source and users.
func NewList(ctx context.Context, source Context, sender Sender, users Users, backend storage.Store) (*List, error) {
	s, err := store.New[Thread]("commentList", 0, backend)
	if err != nil {
		return nil, err
	}

	if _, err := s.Load(ctx, false); err != nil {
		logger.Get(ctx).Warn("ignoring persisted comment list", "error", err)
	}

	// Request states do not survive a restart.
	s.Update(func(t *Thread) {
		t.LoadingState = remote.StateInitial
		t.SendingState = SendInitial
	})

	l := &List{
		Store:  s,
		source: source,
		sender: sender,
		users:  users,
		ctx:    context.WithoutCancel(ctx),
	}

	l.unsubs = append(l.unsubs,
		source.Subscribe(l.onLoadingState),
		users.Subscribe(l.onUserState),
	)

	return l, nil
}

// Close stops following the context and the session.
func (l *List) Close() {
	for _, unsub := range l.unsubs {
		unsub()
	}
}

// Thread returns a copy of the current thread.
func (l *List) Thread() Thread {
	t, _ := l.Data()
	t.Messages = slices.Clone(t.Messages)

	if t.LoadingState == "" {
		t.LoadingState = remote.StateInitial
	}

	if t.SendingState == "" {
		t.SendingState = SendInitial
	}

	return t
}

// Request loads the signed-in user's messages. Without a user the list fails at once.
func (l *List) Request(ctx context.Context) {
	profile, ok := l.users.Profile()
	if !ok || profile.ID == "" {
		logger.Get(ctx).Warn("comment list requested without a signed-in user")
		l.Update(func(t *Thread) { t.LoadingState = remote.StateFailed })

		return
	}

	l.source.RequestWith(ctx, remote.Params{Query: url.Values{"name": {profile.ID}}})
}

// SetDraft replaces the message being written.
func (l *List) SetDraft(text string) {
	l.Update(func(t *Thread) { t.Draft = text })
}

// Send stores text as the draft and sends it. On success the draft is cleared and the
// list reloaded.
func (l *List) Send(ctx context.Context, text string) error {
	if l.sending.Load() {
		return ErrSendInProgress
	}

	l.SetDraft(text)

	return l.send(ctx)
}

func (l *List) send(ctx context.Context) error {
	t, _ := l.Data()

	text := strings.TrimSpace(t.Draft)
	if text == "" {
		return ErrEmptyMessage
	}

	// The storage name of a user's conversation is their id.
	profile, ok := l.users.Profile()
	if !ok || profile.ID == "" {
		l.Update(func(t *Thread) { t.SendingState = SendFailed })

		return session.ErrLoginRequired
	}

	body, err := messageBody(text)
	if err != nil {
		return err
	}

	if !l.sending.CompareAndSwap(false, true) {
		return ErrSendInProgress
	}

	l.Update(func(t *Thread) { t.SendingState = SendLoading })

	responses := l.sender.Send(ctx, remote.Params{
		Query: url.Values{"storage": {profile.ID}},
		Body:  body,
	})

	go l.awaitSent(context.WithoutCancel(ctx), responses)

	return nil
}

func (l *List) awaitSent(ctx context.Context, responses <-chan remote.Response[Message]) {
	rsp, ok := <-responses
	if !ok {
		rsp.Err = errors.New("send request closed without a response")
	}

	l.sending.Store(false)

	if rsp.Err != nil {
		logger.Get(ctx).Warn("failed to send comment", "error", rsp.Err)
		l.Update(func(t *Thread) { t.SendingState = SendFailed })

		return
	}

	l.Update(func(t *Thread) {
		t.SendingState = SendComplete
		t.Draft = ""
	})

	l.Request(ctx)
}

func messageBody(text string) ([]byte, error) {
	body := []byte(`{}`)

	for _, kv := range []struct {
		path  string
		value string
	}{
		{"id", "auto_increment"},
		{"type", "text"},
		{"from", "user"},
		{"text", text},
	} {
		var err error
		if body, err = sjson.SetBytes(body, kv.path, kv.value); err != nil {
			return nil, err
		}
	}

	return body, nil
}

func (l *List) onLoadingState(state remote.State) {
	payload, ok := l.source.Payload()

	// A response landing after logout belongs to the previous user.
	if _, signedIn := l.users.Profile(); !signedIn && ok {
		logger.Get(l.ctx).Debug("ignoring comment list without a signed-in user", "revision", payload.Revision)
		l.Update(func(t *Thread) { t.LoadingState = state })

		return
	}

	changed := false

	l.Update(func(t *Thread) {
		t.LoadingState = state

		if !ok {
			t.Messages = nil
			t.Revision = 0

			return
		}

		if t.Messages != nil && t.Revision == payload.Revision {
			return
		}

		t.Messages = sortedMessages(payload.Records)
		t.Revision = payload.Revision
		changed = true
	})

	if !changed {
		return
	}

	logger.Get(l.ctx).Debug("comment list updated", "revision", payload.Revision, "count", len(payload.Records))

	if err := l.Save(l.ctx); err != nil {
		logger.Get(l.ctx).Warn("failed to persist comment list", "error", err)
	}
}

func (l *List) onUserState(state session.State) {
	if state == session.StateNotLoggedIn {
		l.forget()

		return
	}

	if state != session.StateLoggedIn {
		return
	}

	t := l.Thread()

	if t.SendingState == SendFailed {
		if err := l.send(l.ctx); err != nil {
			logger.Get(l.ctx).Warn("failed to resend comment", "error", err)
		}
	}

	if t.LoadingState.Failed() {
		l.Request(l.ctx)
	}
}

// forget drops the signed-out user's messages and draft, in memory and in storage.
func (l *List) forget() {
	l.Reset()

	if err := l.Save(l.ctx); err != nil {
		logger.Get(l.ctx).Warn("failed to remove comment list", "error", err)

		return
	}

	logger.Get(l.ctx).Debug("comment list cleared after logout")
}

// sortedMessages orders messages by natural id order, so "10" follows "9".
func sortedMessages(records []remote.Record[Message]) []Message {
	out := make([]Message, 0, len(records))

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b remote.Record[Message]) int {
		switch {
		case natsort.Compare(a.ID, b.ID):
			return -1
		case natsort.Compare(b.ID, a.ID):
			return 1
		default:
			return 0
		}
	})

	for _, r := range sorted {
		msg := r.Value
		if msg.ID == "" {
			msg.ID = r.ID
		}

		out = append(out, msg)
	}

	return out
}
