package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/ollama-cli/internal/handlers"
	"github.com/MegaGrindStone/ollama-cli/internal/services"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath string
	host       string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "ollama-cli",
		Short: "Interactive terminal client for a local Ollama daemon",
		Long: `ollama-cli lists, pulls, removes and unloads the models of a local Ollama daemon,
browses the public model library, and chats with installed models.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the config file (default <user config dir>/ollama-cli/config.yaml)")
	cmd.Flags().StringVar(&f.host, "host", "", "Ollama daemon address, overrides the config and OLLAMA_HOST")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")

	return cmd
}

func run(ctx context.Context, f flags, in io.Reader, out io.Writer) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}

	cfgPath := f.configPath
	if cfgPath == "" {
		var err error
		if cfgPath, err = defaultConfigPath(); err != nil {
			return err
		}
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if f.host != "" {
		cfg.Host = f.host
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ollama, err := services.NewOllama(cfg.ollamaHost(), cfg.RequestTimeout, logger)
	if err != nil {
		return err
	}

	registry, closeRegistry := newRegistry(cfg.Registry, logger)
	defer closeRegistry()

	files := services.NewLocalFiles(cfg.Storage.ServiceRoot, cfg.Storage.UserRoot, logger)

	m, err := handlers.NewMain(ollama, registry, files, handlers.NewLineReader(in), out, logger,
		handlers.WithChatExitKeywords(cfg.Chat.ExitKeywords),
		handlers.WithInlineProgress(isTerminal(out)))
	if err != nil {
		return err
	}

	logger.Info("Starting", slog.String("host", ollama.Host()), slog.String("config", cfgPath))
	return m.Run(ctx)
}

// newRegistry returns the library scraper, behind the on-disk cache when one is configured. A cache
// that cannot be opened, for example because another instance holds it, only disables caching.
func newRegistry(cfg registryConfig, logger *slog.Logger) (handlers.Registry, func()) {
	registry := services.NewRegistry(cfg.URL, cfg.Timeout, logger)
	if cfg.CacheTTL <= 0 {
		return registry, func() {}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0755); err != nil {
		logger.Warn("Listing cache disabled", slog.String("err", err.Error()))
		return registry, func() {}
	}
	boltDB, err := services.NewBoltDB(cfg.CachePath)
	if err != nil {
		logger.Warn("Listing cache disabled", slog.String("err", err.Error()))
		return registry, func() {}
	}

	return services.NewCachedRegistry(registry, boltDB, cfg.CacheTTL, logger), func() {
		if err := boltDB.Close(); err != nil {
			logger.Warn("Failed to close listing cache", slog.String("err", err.Error()))
		}
	}
}

func newLogger(cfg logConfig) (*slog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("error creating log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file: %w", err)
		}
		w = file
		closeFn = func() { _ = file.Close() }
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closeFn, nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
