package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/medtec-labs/caseship"
	"github.com/medtec-labs/caseship/internal/adapters/fs"
	logAdapter "github.com/medtec-labs/caseship/internal/adapters/log"
	"github.com/medtec-labs/caseship/internal/adapters/sqlite"
	"github.com/medtec-labs/caseship/internal/cliconfig"
)

const longHelp = `Sync agent for the repair-case offline write buffer.

Workstations keep writing cases while the shared database is unreachable;
their writes land in a durable local queue. caseship replays that queue in
original submission order once the database can be reached again: once at
startup, then periodically and whenever the queue file changes.

Configuration precedence: flags > CASESHIP_* environment > config file.`

const exampleUsage = `  caseship --db Z:\repairdesk\app.db
  caseship --config %APPDATA%\caseship\config.toml --once
  caseship status --db Z:\repairdesk\app.db`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	log := cliconfig.Logger()

	root := &cobra.Command{
		Use:     "caseship",
		Short:   "Replay offline-buffered repair-case writes against the shared database",
		Long:    longHelp,
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}

			lvl, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			log = log.Level(lvl)

			log.Info().
				Str("db", cfg.DBPath).
				Str("queue", cfg.QueuePath).
				Dur("flush_interval", cfg.FlushInterval).
				Bool("once", cfg.Once).
				Msg("configuration")

			cs, err := caseship.New(caseship.Config{
				DBPath:        cfg.DBPath,
				QueuePath:     cfg.QueuePath,
				FlushInterval: cfg.FlushInterval,
				Once:          cfg.Once,
			}, caseship.WithLogger(logAdapter.NewZerologAdapterWithLogger(log)))
			if err != nil {
				return fmt.Errorf("create caseship: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			if err := cs.Start(ctx); err != nil {
				return fmt.Errorf("start caseship: %w", err)
			}

			doneCh := make(chan struct{})
			go func() {
				ticker := time.NewTicker(100 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						status := cs.Status()
						if status == caseship.StateStopped || status == caseship.StateCrashed {
							close(doneCh)
							return
						}
					}
				}
			}()

			select {
			case <-sigCh:
				log.Info().Msg("received signal, stopping...")
			case <-doneCh:
				if cs.Status() == caseship.StateCrashed {
					return fmt.Errorf("caseship crashed")
				}
				return nil
			}

			if err := cs.Stop(); err != nil {
				return fmt.Errorf("stop caseship: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.caseship/config.toml)")
	root.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the shared case database")
	root.PersistentFlags().StringVar(&cfg.QueuePath, "queue", cfg.QueuePath, "path to the local buffer queue file")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "minimum log level (debug, info, warn, error)")
	root.Flags().DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "period between flush attempts while idle")
	root.Flags().BoolVar(&cfg.Once, "once", cfg.Once, "flush the queue once and exit")

	root.AddCommand(statusCommand(&cfg, &cfgPath))

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("caseship")
		os.Exit(1)
	}
}

// statusCommand reports queue depth and store reachability without starting
// the sync loop.
func statusCommand(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending queue depth and store reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, *cfgPath); err != nil {
				return err
			}

			queue := fs.NewQueueFile(cfg.QueuePath)
			ops, err := queue.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("read queue: %w", err)
			}

			reachable := false
			if store, err := sqlite.Open(cfg.DBPath); err == nil {
				reachable = store.Ping(cmd.Context()) == nil
				store.Close()
			}

			fmt.Printf("queue:     %s\n", cfg.QueuePath)
			fmt.Printf("pending:   %d\n", len(ops))
			fmt.Printf("store:     %s\n", cfg.DBPath)
			fmt.Printf("reachable: %t\n", reachable)
			for _, op := range ops {
				fmt.Printf("  seq=%-6d %-14s %s %s\n",
					op.Seq, op.Kind, op.Entity, op.SubmittedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// loadConfig resolves the effective configuration: config file, then
// environment, then flags (tracked via the changed map).
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}

	return cfg.Validate()
}
