// Otron is a multi-platform software engineering agent.
//
// It receives work from Linear, Slack, and GitHub webhooks (plus Slack
// Socket Mode), runs each request as a supervised agent session against
// the Anthropic API, and records sessions durably in Redis so they can
// be inspected, cancelled, or messaged while running.
//
// Usage:
//
//	otron serve              Start the webhook server and event streams
//	otron ask <question>     Run a single request from the command line
//	otron version            Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/otron-io/otron/internal/activity"
	"github.com/otron-io/otron/internal/agent"
	"github.com/otron-io/otron/internal/buildinfo"
	"github.com/otron-io/otron/internal/config"
	"github.com/otron-io/otron/internal/guidance"
	"github.com/otron-io/otron/internal/llm"
	"github.com/otron-io/otron/internal/memory"
	"github.com/otron-io/otron/internal/platform/github"
	"github.com/otron-io/otron/internal/platform/linear"
	"github.com/otron-io/otron/internal/platform/slack"
	"github.com/otron-io/otron/internal/prompts"
	"github.com/otron-io/otron/internal/repos"
	"github.com/otron-io/otron/internal/store"
	"github.com/otron-io/otron/internal/tools"
	"github.com/otron-io/otron/internal/webhook"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run],
// keeping os.Exit, os.Stdout, and os.Args out of the application logic
// so the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which makes it impossible to
// call run() concurrently from tests, and the argument surface here is
// small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: otron ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Otron - Software Engineering Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: otron [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the webhook server and event streams")
	fmt.Fprintln(w, "  ask          Run a single request from the command line")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// components holds everything runServe and runAsk assemble from config.
type components struct {
	cfg      *config.Config
	sessions *store.Redis
	memory   *memory.Store
	repos    *repos.Store
	registry *tools.Registry
	client   llm.Client
	linear   *linear.Client
	slackWeb *slack.WebClient
	loop     *agent.Loop
}

// buildComponents wires the agent stack from configuration. Platform
// clients and their tools are only constructed when configured; the
// agent runs with whatever subset is available.
func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	sessions := store.New(store.Config{
		Address:    cfg.Redis.Address,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		SessionTTL: time.Duration(cfg.Agent.SessionTTLMinutes) * time.Minute,
	}, logger)

	mem, err := memory.NewStore(filepath.Join(cfg.DataDir, "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	repoStore, err := repos.NewStore(filepath.Join(cfg.DataDir, "repos.db"))
	if err != nil {
		return nil, fmt.Errorf("open repo store: %w", err)
	}

	registry := tools.NewRegistry()
	registry.RegisterMemoryTools(mem)

	var linearClient *linear.Client
	if cfg.Linear.Configured() {
		linearClient = linear.NewClient(cfg.Linear.APIKey, logger)
		registry.RegisterLinearTools(linearClient)
	} else {
		logger.Info("linear disabled (not configured)")
	}

	var slackWeb *slack.WebClient
	if cfg.Slack.Configured() {
		slackWeb = slack.NewWebClient(cfg.Slack.BotToken, logger)
		registry.RegisterSlackTools(slackWeb)
	} else {
		logger.Info("slack disabled (not configured)")
	}

	if cfg.GitHub.Configured() {
		auth, err := github.NewAppAuth(cfg.GitHub.AppID, cfg.GitHub.PrivateKeyPath, logger)
		if err != nil {
			return nil, fmt.Errorf("github app auth: %w", err)
		}
		svc := github.NewService(auth, cfg.GitHub.InstallationID, logger)
		registry.RegisterGitHubTools(svc)
	} else {
		logger.Info("github disabled (not configured)")
	}

	client := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)

	docs, err := guidance.NewLoader(cfg.GuidanceDir).LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load guidance: %w", err)
	}
	if len(docs) > 0 {
		logger.Info("guidance loaded", "documents", len(docs), "dir", cfg.GuidanceDir)
	}

	loopCfg := agent.Config{
		Store:        sessions,
		Memory:       mem,
		RepoSource:   repoStore,
		Registry:     registry,
		Client:       client,
		Model:        cfg.Anthropic.Model,
		MaxSteps:     cfg.Agent.MaxSteps,
		Instructions: prompts.System,
		Guidance:     docs,
	}
	if linearClient != nil {
		loopCfg.ActivityLog = activity.NewIssueLog(linearClient, logger)
	}

	return &components{
		cfg:      cfg,
		sessions: sessions,
		memory:   mem,
		repos:    repoStore,
		registry: registry,
		client:   client,
		linear:   linearClient,
		slackWeb: slackWeb,
		loop:     agent.New(loopCfg, logger),
	}, nil
}

func (c *components) Close() {
	if c.memory != nil {
		c.memory.Close()
	}
	if c.repos != nil {
		c.repos.Close()
	}
	if c.sessions != nil {
		c.sessions.Close()
	}
}

// runServe starts the webhook server and, when configured, the Slack
// Socket Mode event stream. It blocks until the context is cancelled.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	logger := newLogger(stdout, level, cfg.LogFormat)
	logger.Info("starting Otron",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
		"config", cfgPath,
	)

	comps, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = comps.sessions.Ping(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Address, err)
	}

	var slackResponder webhook.SlackResponder
	if comps.slackWeb != nil {
		slackResponder = comps.slackWeb
	}
	var linearResponder webhook.LinearResponder
	if comps.linear != nil {
		linearResponder = comps.linear
	}

	server := webhook.NewServer(webhook.Config{
		Address: fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port),
		Agent:   comps.loop,
		Store:   comps.sessions,
		Slack:   slackResponder,
		Linear:  linearResponder,
		Secrets: webhook.Secrets{
			SlackSigning: cfg.Slack.SigningSecret,
			Linear:       cfg.Linear.WebhookSecret,
			GitHub:       cfg.GitHub.WebhookSecret,
		},
	}, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Slack Socket Mode runs alongside the webhook server; both feed
	// the same dispatch path.
	if cfg.Slack.Configured() && cfg.Slack.SocketModeEnabled() {
		socket := slack.NewSocketMode(cfg.Slack.AppToken, logger)
		bridge := newSlackBridge(comps.loop, comps.sessions, comps.slackWeb, logger)
		go func() {
			if err := socket.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("socket mode stream failed", "error", err)
			}
		}()
		go bridge.consume(ctx, socket.Events())
		logger.Info("slack socket mode enabled")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Otron stopped")
	return nil
}

// runAsk boots the agent stack and processes a single request from the
// command line. Useful for smoke tests without webhook plumbing.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, slog.LevelWarn, "text")
	logger.Info("config loaded", "path", cfgPath)

	comps, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	question := strings.Join(args, " ")
	response, err := comps.loop.ProcessRequest(ctx, agent.Request{
		Messages: []llm.Message{{Role: "user", Content: question}},
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, response)
	return nil
}

// newLogger creates a structured logger writing to w. Format must be
// "text" or "json"; anything else falls back to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
