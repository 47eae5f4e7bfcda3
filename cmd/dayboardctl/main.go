// Command dayboardctl runs maintenance tasks against the capability catalog
// and the Dayboard database.
package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dukerupert/dayboard/internal/database"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dayboardctl",
		Short:         "Dayboard maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Overload(); err != nil && !os.IsNotExist(err) {
				log.Println("Error loading .env file, skipping:", err)
			}
		},
	}
	root.PersistentFlags().String("db", "", "database path (default $DAYBOARD_DB_PATH or dayboard.db)")

	root.AddCommand(newCatalogCmd(), newProfilesCmd(), newHouseholdsCmd())
	return root
}

// openDB opens the database named by --db, falling back to the environment.
func openDB(cmd *cobra.Command) (*sql.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		path = os.Getenv("DAYBOARD_DB_PATH")
	}
	if path == "" {
		path = "dayboard.db"
	}
	return database.Open(path)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalln(err.Error())
	}
}
