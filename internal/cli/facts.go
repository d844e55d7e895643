package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/store"
)

func newFactsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "facts", Short: "Manage canonical facts"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every fact of the identity",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, _ []string) error {
			facts, err := repo.ListFacts(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(out, facts)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a fact; JSON values are decoded, anything else is stored as text",
		Args:  cobra.ExactArgs(2),
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, args []string) error {
			value := parseValue(args[1])
			if err := repo.SetFact(ctx, id, args[0], value, canon.NewMeta(adminSource)); err != nil {
				return err
			}
			return printJSON(out, canon.Fact{Key: args[0], Value: value})
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <key>",
		Short: "Delete a fact",
		Args:  cobra.ExactArgs(1),
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, args []string) error {
			removed, err := repo.DeleteFact(ctx, id, args[0])
			if err != nil {
				return err
			}
			return printRemoved(out, args[0], removed)
		}),
	})
	return cmd
}

// parseValue keeps "true", "42" and {"a":1} typed.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
