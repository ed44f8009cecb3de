package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/postrun/internal/posting"
)

func newFeedbackCmd() *cobra.Command {
	var (
		postID     string
		engagement posting.Engagement
	)

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record measured engagement for a published post",
		Long:  "Stores the post's engagement and updates the arm that produced it (fallback posts are stored but not learned from)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if postID == "" {
				return errors.New("--post-id is required")
			}
			if engagement.Impressions < 0 || engagement.Engagements < 0 {
				return errors.New("impressions and engagements must be non-negative")
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				out, err := a.pipeline.RecordOutcome(ctx, postID, engagement)
				if err != nil {
					return err
				}
				if !stdoutIsTerminal() {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Post %s: engagement rate %.4f success=%t\n", out.PostID, out.EngagementRate, out.Success)
				if out.Learned && out.Posterior != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Arm %s now Beta(%.0f, %.0f), mean %.3f\n",
						out.Arm.Key(), out.Posterior.Alpha, out.Posterior.Beta, out.Posterior.Mean())
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&postID, "post-id", "", "Published post id")
	cmd.Flags().Int64Var(&engagement.Impressions, "impressions", 0, "Impressions measured")
	cmd.Flags().Int64Var(&engagement.Engagements, "engagements", 0, "Engagements measured (likes, replies, reposts, bookmarks)")
	cmd.Flags().Int64Var(&engagement.FollowersGained, "followers", 0, "Followers gained")
	return cmd
}

func newBudgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "budget",
		Short: "Show today's generation budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				st := a.budget.Status(ctx)
				if !stdoutIsTerminal() {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(st)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Date\t%s\n", st.Date)
				fmt.Fprintf(w, "Limit\t$%.2f\n", st.DailyLimitUSD)
				fmt.Fprintf(w, "Used\t$%.2f (%.1f%%)\n", st.UsedTodayUSD, st.PercentUsed)
				fmt.Fprintf(w, "Remaining\t$%.2f\n", st.RemainingUSD)
				fmt.Fprintf(w, "Premium calls\t%d used, %d left\n", st.PremiumCallsToday, st.PremiumCallsRemaining)
				if st.PremiumAllowed {
					fmt.Fprintf(w, "Premium\tallowed\n")
				} else {
					fmt.Fprintf(w, "Premium\tdenied (%s)\n", st.DenyReason)
				}
				return w.Flush()
			})
		},
	}
}
