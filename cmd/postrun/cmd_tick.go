package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/postrun/internal/posting"
)

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one posting tick",
		Long:  "Evaluates the current opportunity and, when it says post, generates, gates, and publishes one post",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.pipeline.Tick(ctx)
				printTick(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
}

func printTick(w io.Writer, res posting.TickResult) {
	if !stdoutIsTerminal() {
		_ = json.NewEncoder(w).Encode(res)
		return
	}

	opp := res.Opportunity
	fmt.Fprintf(w, "Decision %s at hour %d: score %d (q=%.2f momentum=%.1f freshness=%.1f time=%.0f)\n",
		opp.ID, opp.Hour, opp.OverallScore, opp.PredictedQ, opp.Momentum, opp.Freshness, opp.TimeBonus)
	fmt.Fprintf(w, "Arm: %s explored=%t\n", opp.Arm.Key(), opp.Explored)
	switch {
	case res.Posted:
		fmt.Fprintf(w, "Posted %s via %s after %d attempt(s), quality %.3f\n", res.PostID, res.Tier, res.Attempts, res.Scores.Overall)
	default:
		fmt.Fprintf(w, "Not posted: %s\n", res.Reason)
	}
}

func newRunCmd() *cobra.Command {
	var noServer bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the job scheduler and status server",
		Long:  "Runs posting ticks and debounced relearning on their configured cadence until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(ctx context.Context, a *app) error {
				sched, err := a.newScheduler()
				if err != nil {
					return err
				}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return sched.Run(gctx) })

				if !noServer {
					srv := a.statusServer(sched)
					g.Go(srv.Start)
					g.Go(func() error {
						<-gctx.Done()
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						return srv.Shutdown(shutdownCtx)
					})
				}

				err = g.Wait()
				if ctx.Err() != nil {
					log.Info().Msg("Shutdown complete")
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&noServer, "no-server", false, "Do not start the status HTTP server")
	return cmd
}
