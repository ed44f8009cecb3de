package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/postrun/internal/persistence"
	"github.com/sawpanic/postrun/internal/persistence/postgres"
)

func newArmsCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "arms",
		Short: "List the best observed arms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				ranked, err := a.model.Top(ctx, top)
				if err != nil {
					return err
				}
				if !stdoutIsTerminal() {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(ranked)
				}
				if len(ranked) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No observed arms yet (%d arms at prior)\n", a.space.Size())
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "RANK\tARM\tMEAN\tALPHA\tBETA\tOBS")
				for i, r := range ranked {
					fmt.Fprintf(w, "%d\t%s\t%.3f\t%.0f\t%.0f\t%d\n", i+1, r.Arm.Key(), r.Mean, r.Posterior.Alpha, r.Posterior.Beta, r.Observations)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&top, "top", "n", 10, "Number of arms to list")
	return cmd
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the attribution table schema",
		Long:  "Verifies the outcome table carries every column the learning loop reads and reports its row count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()

				check := a.database.Health().Health(ctx)
				fmt.Fprintf(out, "Database healthy: %t\n", check.Healthy)
				for _, e := range check.Errors {
					fmt.Fprintf(out, "  %s\n", e)
				}

				cols, err := a.repo.Schema.Columns(ctx, persistence.AttributionTable)
				if err != nil {
					return fmt.Errorf("inspect %s: %w", persistence.AttributionTable, err)
				}
				fmt.Fprintf(out, "Table %s: %d columns\n", persistence.AttributionTable, len(cols))

				missing := persistence.MissingColumns(cols)
				for _, name := range persistence.EssentialAttributionColumns {
					status := "ok"
					if slices.Contains(missing, name) {
						status = "MISSING"
					}
					fmt.Fprintf(out, "  %-18s %s\n", name, status)
				}

				n, err := a.repo.Attributions.Count(ctx)
				if err != nil {
					return fmt.Errorf("count %s: %w", persistence.AttributionTable, err)
				}
				fmt.Fprintf(out, "Rows: %d\n", n)

				if len(missing) > 0 {
					return fmt.Errorf("%s is missing %d essential column(s): %s",
						persistence.AttributionTable, len(missing), strings.Join(missing, ", "))
				}
				return nil
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if !a.database.IsEnabled() {
					return errors.New("database is disabled; set database.enabled or PG_ENABLED")
				}
				if err := postgres.Migrate(ctx, a.database.DB()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date")
				return nil
			})
		},
	}
}
