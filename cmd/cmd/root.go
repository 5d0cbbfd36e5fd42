/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"attune/internal/cache"
	"attune/internal/config"
	"attune/internal/core"
	"attune/internal/logger"
	"attune/internal/persistence"
	"attune/internal/services"
	"attune/internal/store"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "attune",
	Short: "Attune learns per-user reading preferences and scores articles",
	Long: `Attune is the personalization engine of an article aggregator: it turns
explicit ratings and reading telemetry into per-user keyword patterns and
predicts how relevant unseen articles are.

The commands operate directly against the configured database and cache,
which makes them useful for operations work and debugging user profiles.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.attune.yaml)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(resetCmd)

	sweepCmd.Flags().Int("max-patterns", 0, "pattern cap enforced by cleanup (default from config)")
	scoreCmd.Flags().Bool("verbose", false, "print matching patterns with the score")
	resetCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if _, err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := config.Get()
	logger.Init(logger.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
}

// openEngine wires an Engine over the configured database and cache. The
// returned closer releases both connections.
func openEngine() (*services.Engine, func(), error) {
	cfg := config.Get()

	db, err := persistence.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	scoreCache, closeCache, err := openCache(cfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	engine := services.NewEngine(db, scoreCache, services.Options{
		MaxPatterns:     cfg.Personalization.MaxPatterns,
		BounceThreshold: cfg.Personalization.BounceThreshold,
		ScoreCacheTTL:   config.GetScoreTTL(),
	})
	closer := func() {
		closeCache()
		db.Close()
	}
	return engine, closer, nil
}

func openCache(cfg *config.Config) (cache.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		c, err := cache.NewRedisCache(cache.RedisConfig{
			Address:  cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return c, func() { c.Close() }, nil
	case "memory":
		return cache.NewMemoryCache(0), func() {}, nil
	default:
		s, err := store.NewStore(cfg.Cache.Directory)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open cache store: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Get()
		db, err := persistence.NewPostgresDB(cfg.Database.URL)
		if err != nil {
			logger.Error("Failed to connect to database", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := persistence.NewMigrationManager(db).Migrate(context.Background()); err != nil {
			logger.Error("Migration failed", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied")
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <user-id> <article-id> <up|down>",
	Short: "Record an explicit rating and fold it into the user's patterns",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		userID, articleID := args[0], args[1]
		var value float64
		switch strings.ToLower(args[2]) {
		case "up":
			value = 1.0
		case "down":
			value = -1.0
		default:
			fmt.Fprintf(os.Stderr, "rating must be up or down, got %q\n", args[2])
			os.Exit(1)
		}

		engine, closer, err := openEngine()
		if err != nil {
			logger.Error("Failed to start engine", err)
			os.Exit(1)
		}
		defer closer()

		fb, err := engine.RecordExplicitFeedback(context.Background(), userID, articleID, value)
		if err != nil {
			logger.Error("Failed to record feedback", err)
			os.Exit(1)
		}
		fmt.Printf("Recorded %s feedback %s for article %s\n", fb.Kind, args[2], articleID)
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score <user-id> <article-id>...",
	Short: "Predict article relevance for a user",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		userID, articleIDs := args[0], args[1:]
		verbose, _ := cmd.Flags().GetBool("verbose")

		engine, closer, err := openEngine()
		if err != nil {
			logger.Error("Failed to start engine", err)
			os.Exit(1)
		}
		defer closer()

		scores, err := engine.ScoreArticleBatch(context.Background(), userID, articleIDs)
		if err != nil {
			logger.Error("Failed to score articles", err)
			os.Exit(1)
		}

		for _, id := range articleIDs {
			s := scores[id]
			fmt.Printf("%s  %.4f  %s\n", id, s.Score, s.Explanation)
			if verbose {
				for _, m := range s.MatchingPatterns {
					fmt.Printf("    %-20s weight %+.3f  contribution %+.4f\n", m.Keyword, m.Weight, m.Contribution)
				}
			}
		}
	},
}

var (
	statsTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	statsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	positiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	negativeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

var statsCmd = &cobra.Command{
	Use:   "stats <user-id>",
	Short: "Show a user's learned pattern profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine, closer, err := openEngine()
		if err != nil {
			logger.Error("Failed to start engine", err)
			os.Exit(1)
		}
		defer closer()

		stats, err := engine.GetPatternStats(context.Background(), args[0])
		if err != nil {
			logger.Error("Failed to load stats", err)
			os.Exit(1)
		}
		printStats(stats)
	},
}

func printStats(stats *core.PatternStats) {
	fmt.Println(statsTitleStyle.Render("Profile: " + stats.UserID))
	fmt.Printf("%s %d\n", statsLabelStyle.Render("Patterns:"), stats.PatternCount)
	fmt.Printf("%s %d\n", statsLabelStyle.Render("Feedback:"), stats.FeedbackCount)
	if !stats.LastUpdated.IsZero() {
		fmt.Printf("%s %s\n", statsLabelStyle.Render("Updated: "), stats.LastUpdated.Format(time.RFC3339))
	}

	if len(stats.TopPositive) > 0 {
		fmt.Println(statsTitleStyle.Render("Top interests"))
		for _, p := range stats.TopPositive {
			fmt.Printf("  %s\n", positiveStyle.Render(fmt.Sprintf("%-20s %+.3f", p.Keyword, p.Weight)))
		}
	}
	if len(stats.TopNegative) > 0 {
		fmt.Println(statsTitleStyle.Render("Top disinterests"))
		for _, p := range stats.TopNegative {
			fmt.Printf("  %s\n", negativeStyle.Render(fmt.Sprintf("%-20s %+.3f", p.Keyword, p.Weight)))
		}
	}
}

var sweepCmd = &cobra.Command{
	Use:   "sweep [user-id]",
	Short: "Run decay and cleanup over pattern stores",
	Long: `Apply the 30-day geometric decay and the noise/size cleanup. With a user-id
the sweep covers just that user; without one it covers every user with stored
patterns. Both operations are idempotent, so the sweep is safe to run from a
scheduler alongside the synchronous maintenance that follows each feedback
event.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		maxPatterns, _ := cmd.Flags().GetInt("max-patterns")

		engine, closer, err := openEngine()
		if err != nil {
			logger.Error("Failed to start engine", err)
			os.Exit(1)
		}
		defer closer()

		ctx := context.Background()
		if len(args) == 0 {
			swept, err := engine.SweepAllUsers(ctx, maxPatterns)
			if err != nil {
				logger.Error("Sweep finished with errors", err)
				fmt.Printf("Sweep complete: %d users swept, some failed\n", swept)
				os.Exit(1)
			}
			fmt.Printf("Sweep complete: %d users swept\n", swept)
			return
		}

		userID := args[0]
		if err := engine.ApplyPatternDecay(ctx, userID); err != nil {
			logger.Error("Decay failed", err)
			os.Exit(1)
		}
		removed, err := engine.CleanupPatterns(ctx, userID, maxPatterns)
		if err != nil {
			logger.Error("Cleanup failed", err)
			os.Exit(1)
		}
		fmt.Printf("Sweep complete for %s: %d patterns removed\n", userID, removed)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <user-id>",
	Short: "Forget everything learned about a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		userID := args[0]
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			fmt.Printf("This deletes all patterns and feedback for %s. Re-run with --yes to confirm.\n", userID)
			return
		}

		engine, closer, err := openEngine()
		if err != nil {
			logger.Error("Failed to start engine", err)
			os.Exit(1)
		}
		defer closer()

		if err := engine.ResetUserPatterns(context.Background(), userID); err != nil {
			logger.Error("Reset failed", err)
			os.Exit(1)
		}
		fmt.Printf("Reset personalization for %s\n", userID)
	},
}
