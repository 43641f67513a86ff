// Package main is the parenting Q&A CLI entry point: it runs the server and the terminal client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/wenhaiyang6/parenting/internal/ask"
	"github.com/wenhaiyang6/parenting/internal/config"
	"github.com/wenhaiyang6/parenting/internal/llm"
	"github.com/wenhaiyang6/parenting/internal/prompt"
	"github.com/wenhaiyang6/parenting/internal/recall"
	"github.com/wenhaiyang6/parenting/internal/search"
	"github.com/wenhaiyang6/parenting/internal/server"
	"github.com/wenhaiyang6/parenting/internal/storage"
	"github.com/wenhaiyang6/parenting/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "~/.parenting/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if present; when no file exists at all, defaults plus environment are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		path = expandHome(path)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func expandHome(path string) string {
	if len(path) > 1 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "ask":
		runAsk(args)
	case "list":
		runList(args)
	case "show":
		runShow(args)
	case "delete":
		runDelete(args)
	case "search":
		runSearch(args)
	case "export":
		runExport(args)
	case "status":
		runStatus(args)
	case "whoami":
		runWhoami(args)
	case "version", "--version", "-v":
		fmt.Printf("parenting version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	port := fs.Int("port", 0, "listen port (overrides config and PORT)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if cfg.Prompts.Watch {
		if err := components.Prompts.Watch(ctx); err != nil {
			logger.Warn("prompt watching disabled", zap.Error(err))
		}
	}

	diskPaths := []string{cfg.Storage.RecallIndexPath}
	if cfg.Storage.Driver == "sqlite" {
		diskPaths = append(diskPaths, cfg.Storage.DatabasePath)
	}
	srv := server.NewServer(components.Service, &cfg.Server, logger, diskPaths...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// Components holds the long-lived server dependencies.
type Components struct {
	Storage storage.Storage
	Recall  *recall.Index
	Model   llm.Model
	Prompts *prompt.Store
	Service *ask.Service
}

// Close releases all components.
func (c *Components) Close() {
	if c.Prompts != nil {
		c.Prompts.Close()
	}
	if c.Model != nil {
		_ = c.Model.Close()
	}
	if c.Recall != nil {
		_ = c.Recall.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	var err error

	if c.Storage, err = storage.Open(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if c.Recall, err = recall.Open(cfg.Storage.RecallIndexPath); err != nil {
		c.Close()
		return nil, err
	}
	if c.Prompts, err = prompt.NewStore(cfg.Prompts.Path, logger); err != nil {
		c.Close()
		return nil, err
	}
	if c.Model, err = llm.New(ctx, cfg.LLM); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create llm: %w", err)
	}
	searcher, err := newSearcher(ctx, cfg.Search)
	if err != nil {
		c.Close()
		return nil, err
	}

	retries := cfg.Ask.RetriesOrDefault()
	aggregator := search.NewAggregator(searcher, ask.NewAssistant(c.Model, c.Prompts),
		search.WithKeywordPolicy(utils.RetryPolicy{Timeout: cfg.Ask.KeywordTimeout, Retries: retries}),
		search.WithSearchPolicy(utils.RetryPolicy{Timeout: cfg.Ask.SearchTimeout, Retries: retries}),
		search.WithLogger(logger),
	)
	c.Service = ask.NewService(c.Storage, aggregator, c.Model, c.Prompts,
		ask.WithRecall(c.Recall),
		ask.WithAskConfig(cfg.Ask),
		ask.WithLogger(logger),
	)
	logger.Info("components ready", zap.String("model", c.Model.Name()))
	return c, nil
}

func newSearcher(ctx context.Context, cfg config.SearchConfig) (search.Searcher, error) {
	switch cfg.Provider {
	case "none":
		return search.NopSearcher{}, nil
	case "google", "":
		var opts []option.ClientOption
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
		g, err := search.NewGoogleSearcher(ctx, cfg.APIKey, cfg.EngineID, opts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}

func printUsage() {
	fmt.Print(`parenting - parenting Q&A with cited web sources

Usage:
  parenting server [--config path] [--debug] [--port n]
  parenting ask [-c conversation-id] [--raw] [--output text|json] <question>
  parenting list [--output text|json]
  parenting show <conversation-id>
  parenting delete <conversation-id>
  parenting search [--limit n] [--output text|json] <query>
  parenting export [-o file.html] <conversation-id>
  parenting status
  parenting whoami
  parenting version

Client commands talk to the server at client.server_url (or --server) and identify
themselves with the id stored at client.identity_path.

Environment:
  OPENAI_API_KEY, GEMINI_API_KEY, OLLAMA_HOST   model credentials
  GOOGLE_API_KEY, GOOGLE_SEARCH_ENGINE_ID       web search
  MONGODB_URI, DATABASE_URL                     storage
  FRONTEND_URL, PORT, PARENTING_SERVER_URL      server and client
`)
}
