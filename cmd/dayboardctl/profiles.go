package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dukerupert/dayboard/internal/completion"
	"github.com/dukerupert/dayboard/internal/logging"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/profile"
	"github.com/dukerupert/dayboard/internal/store"
)

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Maintain member profiles",
	}

	recalc := &cobra.Command{
		Use:   "recalc",
		Short: "Rescore every profile's completion percentage",
		Long:  "Rescore every profile against the completion checklist. Run after changing DAYBOARD_COMPLETION_FIELDS.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, _ := cmd.Flags().GetStringSlice("fields")
			checklist, err := completion.FromNames(fields)
			if err != nil {
				return err
			}
			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := profile.NewService(store.NewProfileStore(db), checklist, cliLogger(cmd))
			n, err := svc.RecalculateAll()
			if err != nil {
				return fmt.Errorf("recalculate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d profiles updated\n", n)
			return nil
		},
	}
	recalc.Flags().StringSlice("fields", nil, "checklist items (default all)")

	setRole := &cobra.Command{
		Use:   "set-role <email> <role>",
		Short: "Change a member's role, e.g. to bootstrap a super_admin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := permission.ParseRole(args[1])
			if !ok {
				return fmt.Errorf("unknown role %q (want one of %v)", args[1], permission.Roles)
			}
			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := store.NewUserStore(db).GetByEmail(args[0])
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("no user with email %q", args[0])
			}
			p, err := store.NewProfileStore(db).SetRole(u.ID, string(role))
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("user %q has no profile yet; sign in once first", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", u.Email, p.Role)
			return nil
		},
	}

	cmd.AddCommand(recalc, setRole)
	return cmd
}

func cliLogger(cmd *cobra.Command) *slog.Logger {
	return logging.New(cmd.ErrOrStderr(), "warn", "text")
}
