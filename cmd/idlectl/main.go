package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cl "idlecore/internal/cli"
	"idlecore/internal/config"
	"idlecore/internal/syncq"

	"github.com/spf13/cobra"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "idlectl",
		Short:        "Idle economy CLI client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newJoinCmd(&apiBase),
		newLeaveCmd(&apiBase),
		newStateCmd(&apiBase),
		newClickCmd(&apiBase),
		newBuyCmd(&apiBase),
		newStreakCmd(&apiBase),
		newCatalogCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("join required: %w", err)
	}
	return sess, nil
}

func newJoinCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join [player_key]",
		Short: "Join the game, reusing the saved player key when present",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = strings.TrimSpace(args[0])
			} else if sess, err := cl.LoadSession(); err == nil {
				key = sess.PlayerKey
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Join(ctx, key)
			if err != nil {
				return err
			}
			joined, _ := out["player_key"].(string)
			if err := cl.SaveSession(cl.Session{PlayerKey: joined, APIBase: *apiBase}); err != nil {
				return err
			}
			return renderJoin(out)
		},
	}
}

func newLeaveCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "End the live session and save progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Leave(ctx, sess.PlayerKey)
			if err != nil {
				return err
			}
			if saved, _ := out["saved"].(bool); !saved {
				printWarn("Session closed, but the final save failed.")
				return nil
			}
			printSuccess("Session closed and saved.")
			return nil
		},
	}
}

func newStateCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show balance, rates and owned units",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).State(ctx, sess.PlayerKey)
			if err != nil {
				return err
			}
			return renderFullState(out)
		},
	}
}

func newClickCmd(apiBase *string) *cobra.Command {
	var times int
	var hint float64
	c := &cobra.Command{
		Use:   "click",
		Short: "Click for currency",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			if times <= 0 {
				return fmt.Errorf("--times must be positive")
			}
			var hintPtr *float64
			if cmd.Flags().Changed("multiplier") {
				hintPtr = &hint
			}
			client := newClient(apiBase)
			var last map[string]any
			for i := 0; i < times; i++ {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				out, err := client.Click(ctx, sess.PlayerKey, hintPtr)
				cancel()
				if err != nil {
					var data any
					if hintPtr != nil {
						data = map[string]any{"multiplier_hint": hint}
					}
					return queueOnNetworkError(err, "click", data)
				}
				last = out
			}
			return renderStateChanged(last)
		},
	}
	c.Flags().IntVarP(&times, "times", "n", 1, "number of clicks")
	c.Flags().Float64Var(&hint, "multiplier", 0, "client-side multiplier hint")
	return c
}

func newBuyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "buy [unit_id]",
		Short: "Purchase one unit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			unitID, err := unitFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Buy(ctx, sess.PlayerKey, unitID)
			if err != nil {
				return queueOnNetworkError(err, "purchase", map[string]any{"unit_id": unitID})
			}
			return renderPurchase(out)
		},
	}
}

func newStreakCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "streak",
		Short: "Start or extend a click streak",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).BeginStreak(ctx, sess.PlayerKey)
			if err != nil {
				return queueOnNetworkError(err, "begin_streak", nil)
			}
			return renderStateChanged(out)
		},
	}
}

func newCatalogCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List purchasable units",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Catalog(ctx)
			if err != nil {
				return err
			}
			return renderCatalog(out)
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "leaderboard [metric]",
		Short: "Show a leaderboard (lifetime_earned, balance, earn_rate, longest_streak, time_online)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metric := "lifetime_earned"
			if len(args) == 1 {
				metric = strings.TrimSpace(args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Leaderboard(ctx, metric, limit)
			if err != nil {
				return err
			}
			return renderLeaderboard(out, metric)
		},
	}
	c.Flags().IntVar(&limit, "limit", 0, "rows to show")
	return c
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			out, err := newClient(apiBase).SyncReplay(ctx, sess.PlayerKey, queue)
			if err != nil {
				return err
			}
			if err := syncq.Clear(); err != nil {
				return err
			}
			return renderReplay(out)
		},
	}
}

// queueOnNetworkError parks the command for a later `idlectl sync` when the
// API could not be reached. Server rejections are returned as-is.
func queueOnNetworkError(err error, typ string, data any) error {
	if !cl.IsOffline(err) {
		return err
	}
	q, qerr := syncq.NewCommand(typ, data)
	if qerr != nil {
		return fmt.Errorf("request failed: %w (queue: %v)", err, qerr)
	}
	if qerr := syncq.Push(q); qerr != nil {
		return fmt.Errorf("request failed: %w (queue: %v)", err, qerr)
	}
	printWarn(fmt.Sprintf("API unreachable, queued %s for `idlectl sync`.", typ))
	return nil
}

func unitFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.ToLower(strings.TrimSpace(args[0])), nil
	}
	id, err := promptRequired("Unit id")
	if err != nil {
		return "", err
	}
	return strings.ToLower(id), nil
}
