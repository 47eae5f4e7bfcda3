package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/dayboard/internal/permission"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the capability catalog",
	}
	cmd.PersistentFlags().String("file", "", "catalog YAML to read instead of the built-in one")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the catalog for duplicate keys and incomplete bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d capabilities in %d groups\n", len(c.Keys()), len(c.Groups()))
			for _, role := range permission.Roles {
				granted := 0
				for _, allowed := range c.Bundle(role) {
					if allowed {
						granted++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %d granted\n", role, granted)
			}
			return nil
		},
	}

	gen := &cobra.Command{
		Use:   "gen",
		Short: "Generate the typed capability constants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			pkg, _ := cmd.Flags().GetString("package")
			src, err := permission.GenerateGo(c, pkg)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" || out == "-" {
				_, err := cmd.OutOrStdout().Write(src)
				return err
			}
			if err := os.WriteFile(out, src, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
			return nil
		},
	}
	gen.Flags().String("out", "", "output file (default stdout)")
	gen.Flags().String("package", "permission", "package clause of the generated file")

	cmd.AddCommand(validate, gen)
	return cmd
}

func loadCatalog(cmd *cobra.Command) (*permission.Catalog, error) {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		return permission.LoadDefault()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return permission.Load(f)
}
