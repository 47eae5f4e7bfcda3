package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/dayboard/internal/store"
)

func newHouseholdsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "households",
		Short: "Maintain households",
	}

	repair := &cobra.Command{
		Use:   "repair",
		Short: "Clear profile references to households that no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := store.NewProfileStore(db).ClearDanglingHouseholds()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d profiles repaired\n", n)
			return nil
		},
	}

	cmd.AddCommand(repair)
	return cmd
}
