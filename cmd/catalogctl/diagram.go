package main

import (
	"fmt"
	"io"

	"github.com/amp-labs/catalog-fsm/aggregate"
	"github.com/amp-labs/catalog-fsm/catalog"
	"github.com/amp-labs/catalog-fsm/cli"
	"github.com/amp-labs/catalog-fsm/fsm"
	"github.com/amp-labs/catalog-fsm/remote"
	"github.com/amp-labs/catalog-fsm/session"
)

func mermaidOf[S, E ~string](def *fsm.Definition) string {
	return fsm.Mermaid(S(def.Initial), fsm.TableFrom[S, E](def), fsm.TerminalFrom[S](def)...)
}

func diagram(out io.Writer, name string) error {
	var (
		title string
		chart string
	)

	switch name {
	case "catalog":
		title = catalog.MachineName
		chart = mermaidOf[aggregate.State, aggregate.Event](aggregate.Definition())
	case "session":
		def := session.Definition()
		title = def.Name
		chart = mermaidOf[session.State, session.Event](def)
	case "remote":
		def := remote.Definition()
		title = def.Name
		chart = mermaidOf[remote.State, remote.Event](def)
	default:
		return fmt.Errorf("%w: unknown machine %q", errUsage, name)
	}

	_, err := fmt.Fprint(out, cli.Banner(title, cli.TerminalWidth()), chart, "\n")

	return err
}
