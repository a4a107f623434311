// Command edgeflow runs, analyzes, and generates JSON workflow documents,
// and serves the HTTP API.
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/jkoski/edgeflow"
	"github.com/jkoski/edgeflow/internal/broadcast"
	"github.com/jkoski/edgeflow/internal/engine"
	"github.com/jkoski/edgeflow/internal/history"
	"github.com/jkoski/edgeflow/internal/httpapi"
	"github.com/jkoski/edgeflow/internal/registry"
	"github.com/jkoski/edgeflow/nodes"
	"github.com/jkoski/edgeflow/pkg/api"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "edgeflow",
		Short:         "JSON workflow graph interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a config file")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cobra.OnInitialize(func() {
		if cfgFile, _ := root.PersistentFlags().GetString("config"); cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.SetConfigName("edgeflow")
			viper.SetConfigType("yaml")
			viper.AddConfigPath(".")
		}
		viper.SetEnvPrefix("EDGEFLOW")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		// A missing config file is fine; flags and env cover everything.
		_ = viper.ReadInConfig()
	})

	viper.SetDefault("server.addr", ":8090")
	viper.SetDefault("engine.max_steps", engine.DefaultMaxSteps)
	viper.SetDefault("broadcast.capacity", broadcast.DefaultCapacity)
	viper.SetDefault("history.db", "")

	root.AddCommand(newRunCmd())
	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newPatternsCmd())
	root.AddCommand(newServeCmd())
	return root
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	levelName, _ := cmd.Flags().GetString("log-level")
	level := slog.LevelInfo
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadDefinition(path string) (*edgeflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return edgeflow.ParseDefinition(data)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd() *cobra.Command {
	var stateFlags []string

	cmd := &cobra.Command{
		Use:   "run <workflow.json>",
		Short: "Execute a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd)
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}

			initial := make(map[string]any)
			for _, kv := range stateFlags {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, want key=value", kv)
				}
				initial[k] = v
			}

			runner := edgeflow.NewLocalRunner(&edgeflow.LocalRunnerOptions{
				Logger:   logger,
				MaxSteps: viper.GetInt("engine.max_steps"),
			})
			defer runner.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := runner.Run(ctx, def, initial)
			if res != nil {
				if printErr := printJSON(cmd, map[string]any{
					"runId":  res.RunID,
					"status": res.Status,
					"steps":  res.Steps,
					"state":  res.State,
				}); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}
	cmd.Flags().StringArrayVar(&stateFlags, "set", nil, "initial state entry, key=value (repeatable)")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <workflow.json>",
		Short: "Report structural findings for a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			rep, err := edgeflow.Analyze(def)
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		},
	}
}

func newPatternsCmd() *cobra.Command {
	patterns := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect and instantiate the workflow pattern catalog",
	}

	var category string
	list := &cobra.Command{
		Use:   "list",
		Short: "List cataloged patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := edgeflow.NewPatternLibrary()
			if err != nil {
				return err
			}
			for _, p := range lib.List(category) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-12s %s\n", p.ID, p.Category, p.Description)
			}
			return nil
		},
	}
	list.Flags().StringVar(&category, "category", "", "filter by category")

	detect := &cobra.Command{
		Use:   "detect <workflow.json>",
		Short: "Detect cataloged patterns in a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			lib, err := edgeflow.NewPatternLibrary()
			if err != nil {
				return err
			}
			res, err := lib.Detect(def)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	var paramsFile string
	generate := &cobra.Command{
		Use:   "generate <pattern-id>",
		Short: "Instantiate a pattern into a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make(map[string]any)
			if paramsFile != "" {
				data, err := os.ReadFile(paramsFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &params); err != nil {
					return fmt.Errorf("invalid parameters file: %w", err)
				}
			}
			lib, err := edgeflow.NewPatternLibrary()
			if err != nil {
				return err
			}
			def, err := lib.Generate(args[0], params)
			if err != nil {
				return err
			}
			return printJSON(cmd, def)
		},
	}
	generate.Flags().StringVar(&paramsFile, "params", "", "JSON file with parameter bindings")

	patterns.AddCommand(list, detect, generate)
	return patterns
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and WebSocket event channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd)

			reg := registry.New()
			reg.RegisterMany(nodes.All(logger))

			b := broadcast.New(nil,
				broadcast.WithCapacity(viper.GetInt("broadcast.capacity")),
				broadcast.WithLogger(logger),
			)
			defer b.Shutdown()

			store, closeStore, err := openHistory(logger)
			if err != nil {
				return err
			}
			defer closeStore()

			eng := engine.New(reg, engine.Options{
				MaxSteps: viper.GetInt("engine.max_steps"),
				Observer: api.NewCompositeObserver(
					api.NewLoggingObserver(logger),
					history.NewObserver(store, logger),
				),
				Emitter: b,
			})

			lib, err := edgeflow.NewPatternLibrary()
			if err != nil {
				return err
			}

			srv := httpapi.New(eng, lib, store, b, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(viper.GetString("server.addr")) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("shutting down")
				return srv.Close()
			}
		},
	}
	return cmd
}

// openHistory returns a SQLite-backed store when history.db is configured,
// an in-memory store otherwise.
func openHistory(logger *slog.Logger) (history.Store, func(), error) {
	path := viper.GetString("history.db")
	if path == "" {
		return history.NewMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open history db: %w", err)
	}
	store, err := history.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("run history on sqlite", "path", path)
	return store, func() { db.Close() }, nil
}
