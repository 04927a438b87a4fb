// Command botctl wires collab/loader, collab/configstore, collab/luavm,
// botpkg, botruntime and agent into a single runnable process: a demo
// entrypoint, not the core (§1 lists "CLI, language bindings, and
// process-level wiring" as out-of-scope collaborators).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/botscript-go/botscript/agent"
	"github.com/botscript-go/botscript/botpkg"
	"github.com/botscript-go/botscript/botruntime"
	"github.com/botscript-go/botscript/collab/configstore"
	"github.com/botscript-go/botscript/collab/loader"
	"github.com/botscript-go/botscript/collab/luavm"
	"github.com/botscript-go/botscript/config"
	"github.com/botscript-go/botscript/executor"
)

var (
	version = "dev"
	commit  = "none"
)

type runConfig struct {
	packageDir string
	identifier string
	username   string
	password   string
	server     string
	dbDriver   string
	dbDSN      string
	secretKey  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &runConfig{}

	root := &cobra.Command{
		Use:   "botctl",
		Short: "botctl — runs a single bot agent against a script package",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.packageDir, "package-dir", envOrDefault("BOTCTL_PACKAGE_DIR", "./package"), "Directory containing base.lua/servers.lua and module scripts")
	root.PersistentFlags().StringVar(&cfg.identifier, "identifier", envOrDefault("BOTCTL_IDENTIFIER", ""), "Stable identifier to load/save this agent's config under (defaults to username/server derived)")
	root.PersistentFlags().StringVar(&cfg.username, "username", envOrDefault("BOTCTL_USERNAME", ""), "Login username, used when no stored config exists yet")
	root.PersistentFlags().StringVar(&cfg.password, "password", envOrDefault("BOTCTL_PASSWORD", ""), "Login password, used when no stored config exists yet")
	root.PersistentFlags().StringVar(&cfg.server, "server", envOrDefault("BOTCTL_SERVER", ""), "Target server URL, used when no stored config exists yet")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("BOTCTL_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("BOTCTL_DB_DSN", "./botctl.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("BOTCTL_SECRET_KEY", ""), "Master key for encrypting the stored password at rest (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("BOTCTL_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("botctl %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg *runConfig) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or BOTCTL_SECRET_KEY")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := configstore.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	gormDB, err := configstore.Open(configstore.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("open configstore: %w", err)
	}
	store := configstore.New(gormDB)

	modules, err := loader.FromDirectory(cfg.packageDir)
	if err != nil {
		return fmt.Errorf("load package: %w", err)
	}
	pkgName := loader.NameFromPath(cfg.packageDir)

	pkg, err := botpkg.New(pkgName, modules, luavm.Resolver{})
	if err != nil {
		return fmt.Errorf("build package: %w", err)
	}

	identifier := cfg.identifier
	if identifier == "" {
		identifier = cfg.username + "/" + cfg.server
	}

	memCfg, err := loadOrInitConfig(ctx, store, identifier, cfg, pkgName)
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	exec := executor.New()
	defer exec.Stop()

	registry := botruntime.New()

	observer := func(agentIdentifier, key, value string) {
		logger.Debug("status update", zap.String("agent", agentIdentifier), zap.String("key", key), zap.String("value", value))
	}

	a := agent.New(memCfg, pkg, registry, luavm.Factory{}, exec, observer, logger)

	initDone := make(chan error, 1)
	a.Init(ctx, func(a *agent.Agent, err error) {
		initDone <- err
	})

	select {
	case err := <-initDone:
		if err != nil {
			return fmt.Errorf("agent init: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Info("agent running", zap.String("identifier", a.Identifier()))

	<-ctx.Done()
	logger.Info("shutting down botctl")

	a.Shutdown()

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer saveCancel()
	if err := store.Save(saveCtx, identifier, memCfg); err != nil {
		logger.Warn("failed to persist config on shutdown", zap.Error(err))
	}

	return nil
}

// loadOrInitConfig loads identifier's stored config, or — if none exists
// yet — builds a fresh one from the provided flags and persists it
// immediately so a later run finds it.
func loadOrInitConfig(ctx context.Context, store *configstore.Store, identifier string, cfg *runConfig, pkgName string) (*config.MemConfig, error) {
	memCfg, err := store.Load(ctx, identifier)
	if err == nil {
		return memCfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if cfg.username == "" || cfg.password == "" || cfg.server == "" {
		return nil, fmt.Errorf("no stored config for %q and --username/--password/--server were not all given", identifier)
	}

	memCfg = config.New(cfg.username, cfg.password, pkgName, cfg.server, map[string]map[string]string{
		"base": {"wait_time_factor": "1.00", "proxy": ""},
	})
	if err := store.Save(ctx, identifier, memCfg); err != nil {
		return nil, fmt.Errorf("persist new config: %w", err)
	}
	return memCfg, nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
