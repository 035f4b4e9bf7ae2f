package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plenariolabs/plenario/pkg/catalog"
	"github.com/plenariolabs/plenario/pkg/catalog/almg"
)

type DictionaryCmd struct{}

func NewDictionaryCmd() *DictionaryCmd {
	return &DictionaryCmd{}
}

func (c *DictionaryCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dictionary",
		Short: "Work with the published data dictionary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(c.generateCommand())
	return cmd
}

func (c *DictionaryCmd) generateCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render the warehouse schema as the markdown data dictionary",
		RunE: func(cmd *cobra.Command, args []string) error {
			dictionary, err := catalog.Dictionary(&almg.Schema)
			if err != nil {
				return fmt.Errorf("failed to render data dictionary: %w", err)
			}

			if outPath == "" {
				fmt.Print(dictionary)
				return nil
			}
			if err := os.WriteFile(outPath, []byte(dictionary), 0o644); err != nil {
				return fmt.Errorf("failed to write dictionary: %w", err)
			}
			fmt.Fprintf(os.Stderr, "wrote %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to this file instead of stdout")
	return cmd
}
