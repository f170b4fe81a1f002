package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newInitCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create any missing tables in the prompt database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Store.CreateSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready:", c.app.Store.Path())
			return nil
		},
	}
}

func newImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Import prompt rows (\"content\",\"detail_id1,detail_id2\") from CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := c.app.Service.ImportCSV(cmd.Context(), raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows, %d failed\n", res.Inserted, len(res.Failed))
			for _, f := range res.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "line %d: %s\n", f.Line, f.Reason)
			}
			if res.FailedPath != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "failed rows saved to", res.FailedPath)
			}
			return nil
		},
	}
}

func newExportCmd(c *cli) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every prompt with its attribute details as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" {
				_, err := c.app.Service.ExportCSV(cmd.Context(), cmd.OutOrStdout())
				return err
			}
			path, err := c.app.Service.ExportFile(cmd.Context(), outDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "exported to", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "write a timestamped file into this directory instead of stdout")
	return cmd
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, name string) (string, error) {
	if name == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(raw), nil
}
