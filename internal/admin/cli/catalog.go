package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plenariolabs/plenario/pkg/catalog"
	"github.com/plenariolabs/plenario/pkg/catalog/almg"
)

type CatalogCmd struct{}

func NewCatalogCmd() *CatalogCmd {
	return &CatalogCmd{}
}

func (c *CatalogCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the documented warehouse catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(c.lintCommand())
	return cmd
}

func (c *CatalogCmd) lintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Check the catalog documentation for internal consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			problems := catalog.Lint(&almg.Schema)
			if len(problems) == 0 {
				fmt.Printf("catalog %s: %d tables, no problems\n", almg.Schema.Name, len(almg.Schema.Tables))
				return nil
			}
			for _, p := range problems {
				fmt.Fprintln(os.Stderr, p.String())
			}
			return fmt.Errorf("catalog %s fails lint with %d problems", almg.Schema.Name, len(problems))
		},
	}
}
