// Command catalogctl inspects the state machines and manages the stored session.
//
//	catalogctl diagram catalog|session|remote
//	catalogctl login [-user id] [-token token]
//	catalogctl logout
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/amp-labs/catalog-fsm/logger"
)

var errUsage = errors.New("usage: catalogctl diagram <catalog|session|remote> | login [-user id] [-token token] | logout")

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "diagram":
		if len(args) != 2 {
			return errUsage
		}

		return diagram(out, args[1])
	case "login", "logout":
		if _, err := logger.ConfigureLogging("catalogctl"); err != nil {
			return err
		}

		if args[0] == "logout" {
			return logout(ctx, out)
		}

		return login(ctx, args[1:], out)
	default:
		return errUsage
	}
}
