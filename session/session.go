// Package session tracks who is signed in. A profile found in storage signs the user in
// on start; otherwise Login resolves credentials against the store API.
package session

import (
	"context"
	"embed"
	"errors"
	"sync"

	"github.com/amp-labs/catalog-fsm/fsm"
	"github.com/amp-labs/catalog-fsm/logger"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/storage"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// State is a session state.
type State string

const (
	StateNotLoggedIn  State = "notLoggedIn"
	StateLoginLoading State = "loginLoading"
	StateLoginFailed  State = "loginFailed"
	StateLoginInvalid State = "loginInvalid"
	StateLoggedIn     State = "loggedIn"
)

// Event drives a session.
type Event string

const (
	EventLogin        Event = "login"
	EventLogout       Event = "logout"
	EventLoginFailed  Event = "login-failed"
	EventLoginValid   Event = "login-valid"
	EventLoginInvalid Event = "login-invalid"
)

const storageVersion = "v0"

//go:embed machine.yaml
var definitionFS embed.FS

// Definition returns the session lifecycle.
func Definition() *fsm.Definition {
	return fsm.MustLoadDefinitionFromFS(definitionFS, "machine.yaml")
}

// ProfileFetcher resolves credentials to a profile. The channel yields exactly one
// response and is then closed.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, creds Credentials) <-chan remote.Response[Profile]
}

// Option configures New.
type Option func(*Session)

// WithSubscriber registers fn before the machine starts, so it sees every state the
// session settles in, including the one reached while starting.
func WithSubscriber(fn func(State)) Option {
	return func(s *Session) {
		s.subscribers = append(s.subscribers, fn)
	}
}

// WithLogger sets the machine's transition logger.
func WithLogger(l fsm.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// pending is the input of the next login attempt.
type pending struct {
	creds Credentials
	err   error
}

// Session is the user session machine.
type Session struct {
	name        string
	key         string
	store       storage.Store
	profiles    ProfileFetcher
	machine     *fsm.Machine[State, Event]
	subscribers []func(State)
	logger      fsm.Logger

	// attempt identifies the login request whose result is still wanted.
	attempt atomic.String

	mu      sync.RWMutex
	next    pending
	profile *Profile
}

// New builds and starts a session. A profile persisted by an earlier login leaves the
// session loggedIn on return.
func New(ctx context.Context, name string, store storage.Store, profiles ProfileFetcher, opts ...Option) (*Session, error) {
	s := &Session{
		name:     name,
		key:      "data." + name + "." + storageVersion,
		store:    store,
		profiles: profiles,
	}

	for _, opt := range opts {
		opt(s)
	}

	machineOpts := []fsm.Option[State, Event]{
		fsm.WithEnterAction[State, Event](StateNotLoggedIn, s.onNotLoggedIn),
		fsm.WithEnterAction[State, Event](StateLoginLoading, s.onLoginLoading),
		fsm.WithExitAction[State, Event](StateLoggedIn, EventLogout, s.onLogout),
	}

	if s.logger != nil {
		machineOpts = append(machineOpts, fsm.WithLogger[State, Event](s.logger))
	}

	machine, err := fsm.New(name, StateNotLoggedIn, fsm.TableFrom[State, Event](Definition()), machineOpts...)
	if err != nil {
		return nil, err
	}

	s.machine = machine

	for _, fn := range s.subscribers {
		machine.Subscribe(fn)
	}

	machine.Start(logger.WithMachine(ctx, name))

	return s, nil
}

func (s *Session) Name() string {
	return s.name
}

// Machine exposes the underlying machine, for diagrams and diagnostics.
func (s *Session) Machine() *fsm.Machine[State, Event] {
	return s.machine
}

func (s *Session) State() State {
	return s.machine.State()
}

// Events lists the events the session accepts in its current state.
func (s *Session) Events() []Event {
	return s.machine.Events()
}

func (s *Session) Subscribe(fn func(State)) func() {
	return s.machine.Subscribe(fn)
}

// Login signs in with a "<userID>/<token>" fragment. Malformed input is reported to
// the caller as ErrMalformedCredentials and moves the machine to loginInvalid. Login
// is ignored while an attempt is loading or someone is already signed in.
func (s *Session) Login(ctx context.Context, fragment string) error {
	creds, err := ParseFragment(fragment)
	s.login(ctx, pending{creds: creds, err: err})

	return err
}

// LoginToken signs in with a bare token; its owner is resolved by the fetcher.
func (s *Session) LoginToken(ctx context.Context, token string) error {
	creds := Credentials{Token: normalize(token)}

	var err error
	if creds.Token == "" {
		err = ErrMalformedCredentials
	}

	s.login(ctx, pending{creds: creds, err: err})

	return err
}

// login stages p for loginLoading in the same dispatcher step as the transition, so
// a second login queued behind it cannot replace the credentials.
func (s *Session) login(ctx context.Context, p pending) {
	s.machine.TransitionIf(logger.WithMachine(ctx, s.name), EventLogin, func(context.Context) bool {
		if !s.machine.Can(EventLogin) {
			return false
		}

		s.mu.Lock()
		s.next = p
		s.mu.Unlock()

		return true
	})
}

// Logout signs out and forgets the persisted profile.
func (s *Session) Logout(ctx context.Context) {
	s.machine.Transition(logger.WithMachine(ctx, s.name), EventLogout)
}

func (s *Session) IsLoggedIn() bool {
	return s.machine.State() == StateLoggedIn
}

// Profile returns the signed-in user's profile.
func (s *Session) Profile() (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.profile == nil {
		return Profile{}, false
	}

	return *s.profile, true
}

// IsSuperAdmin reports whether the profile carries the root permission.
func (s *Session) IsSuperAdmin() bool {
	p, ok := s.Profile()

	return ok && p.Permissions.Root
}

// RequireLogin returns ErrLoginRequired unless someone is signed in.
func (s *Session) RequireLogin() error {
	if !s.IsLoggedIn() {
		return ErrLoginRequired
	}

	return nil
}

func (s *Session) setProfile(p *Profile) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

func (s *Session) onNotLoggedIn(ctx context.Context, _ fsm.Transition[State, Event]) {
	stored, ok, err := storage.GetJSON[Profile](ctx, s.store, s.key)
	if err != nil {
		logger.Get(ctx).Warn("ignoring unreadable stored profile", "key", s.key, "error", err)

		return
	}

	if !ok {
		return
	}

	s.setProfile(&stored)
	s.machine.Transition(ctx, EventLoginValid)
}

func (s *Session) onLoginLoading(ctx context.Context, _ fsm.Transition[State, Event]) {
	s.mu.RLock()
	p := s.next
	s.mu.RUnlock()

	if p.err != nil {
		logger.Get(ctx).Info("login rejected before request", "error", p.err)
		s.machine.Transition(ctx, EventLoginInvalid)

		return
	}

	id := uuid.NewString()
	s.attempt.Store(id)

	bg := s.machine.Detach(context.WithoutCancel(ctx))
	responses := s.profiles.FetchProfile(bg, p.creds)

	go func() {
		rsp, ok := <-responses
		if !ok {
			rsp.Err = errors.New("profile request closed without a response")
		}

		s.machine.Do(bg, func(ctx context.Context) {
			s.finish(ctx, id, p.creds, rsp)
		})
	}()
}

func (s *Session) finish(ctx context.Context, id string, creds Credentials, rsp remote.Response[Profile]) {
	if s.attempt.Load() != id || s.machine.State() != StateLoginLoading {
		logger.Get(ctx).Debug("discarding superseded login result", "attempt", id)

		return
	}

	switch {
	case rsp.Err == nil:
		profile := rsp.Value
		if profile.Token == "" {
			profile.Token = creds.Token
		}

		if err := storage.SetJSON(ctx, s.store, s.key, profile); err != nil {
			logger.Get(ctx).Error("failed to persist profile", "key", s.key, "error", err)
		}

		s.setProfile(&profile)
		s.machine.Transition(ctx, EventLoginValid)
	case errors.Is(rsp.Err, remote.ErrRejected), errors.Is(rsp.Err, remote.ErrUnauthorized):
		logger.Get(ctx).Info("login invalid", "error", rsp.Err)
		s.machine.Transition(ctx, EventLoginInvalid)
	default:
		logger.Get(ctx).Warn("login failed", "error", rsp.Err)
		s.machine.Transition(ctx, EventLoginFailed)
	}
}

func (s *Session) onLogout(ctx context.Context, _ fsm.Transition[State, Event]) {
	s.attempt.Store("")
	s.setProfile(nil)

	if err := s.store.Delete(ctx, s.key); err != nil {
		logger.Get(ctx).Error("failed to delete session data", "key", s.key, "error", err)
	}
}
