// Package cli implements the roleplayctl admin commands. They operate on the
// same store as the HTTP identity endpoints.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
	"github.com/welnecker/roleplay/backend/internal/store"
)

// adminSource tags facts written from the command line.
const adminSource = "cli"

// Opener opens the repository. The returned func releases it.
type Opener func(ctx context.Context) (store.Repository, func() error, error)

type options struct {
	open      Opener
	user      string
	character string
}

// NewRootCmd builds the command tree on top of open.
func NewRootCmd(open Opener) *cobra.Command {
	o := &options{open: open}
	root := &cobra.Command{
		Use:           "roleplayctl",
		Short:         "Inspect and edit the canonical memory of a session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.user, "user", "u", "", "User name (required)")
	root.PersistentFlags().StringVarP(&o.character, "character", "c", string(persona.DefaultCharacter), "Persona name")

	root.AddCommand(
		newFactsCmd(o),
		newEventsCmd(o),
		newHistoryCmd(o),
		newNSFWCmd(o),
		newPurgeCmd(o),
	)
	return root
}

type action func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, args []string) error

// run resolves the identity, opens the store and hands both to fn.
func (o *options) run(fn action) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := persona.ParseCharacter(o.character)
		if err != nil {
			return err
		}
		id, err := chat.NewIdentity(o.user, c)
		if err != nil {
			return err
		}

		repo, closeRepo, err := o.open(cmd.Context())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = closeRepo() }()

		return fn(cmd.Context(), repo, id, cmd.OutOrStdout(), args)
	}
}

func printJSON(out io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func printRemoved(out io.Writer, what string, removed bool) error {
	if !removed {
		_, err := fmt.Fprintf(out, "%s: nothing to remove\n", what)
		return err
	}
	_, err := fmt.Fprintf(out, "%s: removed\n", what)
	return err
}
