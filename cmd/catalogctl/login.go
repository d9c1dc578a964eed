package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/amp-labs/catalog-fsm/cli"
	"github.com/amp-labs/catalog-fsm/config"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/session"
	"github.com/amp-labs/catalog-fsm/storage"
	"github.com/amp-labs/catalog-fsm/transport"
)

var errLoginFailed = errors.New("login failed")

func openSession(ctx context.Context, opts ...session.Option) (*session.Session, io.Closer, error) {
	cfg, err := config.Load[config.Config]()
	if err != nil {
		return nil, nil, err
	}

	store, closer, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	profiles := session.NewHTTPProfiles(cfg.API,
		append(remote.FromConfig(cfg.Fetch), remote.WithClient(transport.New(transport.WithoutDNSCache())))...)

	s, err := session.New(ctx, cfg.SessionName, store, profiles, opts...)
	if err != nil {
		return nil, nil, errors.Join(err, closer.Close())
	}

	return s, closer, nil
}

func login(ctx context.Context, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("login", flag.ContinueOnError)
	userID := flags.String("user", "", "user id (prompted when empty)")
	token := flags.String("token", "", "login token (prompted when empty)")
	timeout := flags.Duration("timeout", 30*time.Second, "how long to wait for the store API")

	if err := flags.Parse(args); err != nil {
		return err
	}

	prompter := cli.Terminal()

	if *userID == "" {
		id, err := prompter.String("User id", cli.NoSlash)
		if err != nil {
			return err
		}

		*userID = id
	}

	if *token == "" {
		secret, err := prompter.Secret("Token")
		if err != nil {
			return err
		}

		*token = secret
	}

	settled := make(chan session.State, 1)

	s, closer, err := openSession(ctx, session.WithSubscriber(func(state session.State) {
		if state == session.StateNotLoggedIn || state == session.StateLoginLoading {
			return
		}

		select {
		case settled <- state:
		default:
		}
	}))
	if err != nil {
		return err
	}

	defer closer.Close()

	if s.IsLoggedIn() {
		p, _ := s.Profile()
		_, err := fmt.Fprintf(out, "already signed in as %s (%s)\n", p.FullName, p.ID)

		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := s.Login(ctx, *userID+"/"+*token); err != nil {
		return fmt.Errorf("%w: %w", errLoginFailed, err)
	}

	select {
	case state := <-settled:
		if state != session.StateLoggedIn {
			return fmt.Errorf("%w: %s", errLoginFailed, state)
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errLoginFailed, ctx.Err())
	}

	p, _ := s.Profile()
	_, err = fmt.Fprintf(out, "signed in as %s (%s)\n", p.FullName, p.ID)

	return err
}

func logout(ctx context.Context, out io.Writer) error {
	s, closer, err := openSession(ctx)
	if err != nil {
		return err
	}

	defer closer.Close()

	if !s.IsLoggedIn() {
		_, err := fmt.Fprintln(out, "not signed in")

		return err
	}

	s.Logout(ctx)

	_, err = fmt.Fprintln(out, "signed out")

	return err
}
