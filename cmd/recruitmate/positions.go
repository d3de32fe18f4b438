package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"recruitmate/internal/domain"
	"recruitmate/internal/store"
)

func positionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Seed and inspect positions",
	}
	cmd.AddCommand(positionsImportCmd())
	cmd.AddCommand(positionsListCmd())
	return cmd
}

func positionsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Import positions from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := store.LoadPositionsFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openStoreSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, p := range positions {
				id, err := s.store.UpsertPosition(ctx, p)
				if err != nil {
					return fmt.Errorf("import %q: %w", p.Title, err)
				}
				logger.Debug("position imported", "id", id, "title", p.Title, "status", p.Status)
			}
			logger.Info("positions imported", "count", len(positions), "file", args[0])
			return nil
		},
	}
}

func positionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open positions as the assistant sees them",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStoreSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			positions, err := s.store.ListOpen(cmd.Context(), domain.FieldsFull)
			if err != nil {
				return err
			}
			if len(positions) == 0 {
				fmt.Println("No open positions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSTARTS")
			for _, p := range positions {
				starts := "-"
				if p.StartTime != nil {
					starts = p.StartTime.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID, p.Title, starts)
			}
			return w.Flush()
		},
	}
}
