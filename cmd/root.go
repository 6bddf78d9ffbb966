package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ghlabs/embedsrv/internal/config"
	"github.com/ghlabs/embedsrv/internal/embed"
	"github.com/ghlabs/embedsrv/internal/github"
	"github.com/ghlabs/embedsrv/internal/pipeline"
	"github.com/ghlabs/embedsrv/internal/provider"
	"github.com/ghlabs/embedsrv/internal/pubsub"
	"github.com/ghlabs/embedsrv/internal/store"

	gogithub "github.com/google/go-github/v60/github"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "embedsrv",
	Short: "Embed GitHub issues into fixed-dimension vectors",
	Long: `Embedsrv turns GitHub issue titles and bodies into vector embeddings.
It serves single embeddings over HTTP, bulk-embeds entire repositories
through the GitHub API, and keeps a per-repo embedding set that is
rebuilt incrementally as issues change.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(func() {
		// Optional .env file for local development; missing is fine.
		_ = godotenv.Load()
	})
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".embedsrv/config.yaml"
	}
	return home + "/.embedsrv/config.yaml"
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}

// components holds initialized components for use by subcommands.
type components struct {
	Config   *config.Config
	Store    *store.DB
	GHClient *gogithub.Client
	Service  *embed.Service
	Broker   *pubsub.Broker[pipeline.Progress]
	Logger   *slog.Logger
}

// initComponents creates all components from config.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		Config: cfg,
		Logger: logger,
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	c.Store = db

	client, err := newGitHubClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating GitHub client: %w", err)
	}
	c.GHClient = client

	embedder, err := provider.New(provider.Config{
		Type:       cfg.Provider.Type,
		Model:      cfg.Provider.Model,
		APIKey:     cfg.Provider.APIKey,
		URL:        cfg.Provider.URL,
		Dimensions: cfg.Provider.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	c.Service = embed.NewService(embedder,
		embed.WithDimensions(cfg.Provider.Dimensions),
		embed.WithMaxChars(cfg.Defaults.MaxChars),
	)

	c.Broker = pubsub.NewBroker[pipeline.Progress]()

	return c, nil
}

func newGitHubClient(cfg *config.Config) (*gogithub.Client, error) {
	if cfg.GitHub.Auth == "app" {
		appID, err := strconv.ParseInt(cfg.GitHub.AppID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing app_id: %w", err)
		}
		installID, err := strconv.ParseInt(cfg.GitHub.InstallationID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing installation_id: %w", err)
		}
		return github.NewAppClient(appID, installID, []byte(cfg.GitHub.PrivateKey), cfg.GitHub.PrivateKeyPath)
	}
	return github.NewTokenClient(cfg.GitHub.Token), nil
}

// newPipeline builds a Pipeline from components.
func newPipeline(c *components, workers int) *pipeline.Pipeline {
	if workers <= 0 {
		workers = c.Config.Defaults.Workers
	}
	timeout, err := c.Config.Defaults.RequestTimeout()
	if err != nil {
		timeout = 30 * time.Second
	}
	return pipeline.New(pipeline.Deps{
		NewFetcher: func(owner, repo string) pipeline.IssueFetcher {
			return github.NewFetcher(c.GHClient, owner, repo)
		},
		Service: c.Service,
		Store:   c.Store,
		Broker:  c.Broker,
		Logger:  c.Logger,
		Workers: workers,
		Timeout: timeout,
	})
}
