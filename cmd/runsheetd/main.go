// runsheetd is an interactive chat frontend over the streaming
// orchestrator: it wires the configured generation backend, the circuit
// breaker, the session store, and telemetry, then runs a REPL that
// prints stream events as they arrive.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"runsheet/pkg/chat"
	"runsheet/pkg/config"
	"runsheet/pkg/llm/factory"
	"runsheet/pkg/logx"
	"runsheet/pkg/resilience/circuit"
	"runsheet/pkg/resilience/retry"
	"runsheet/pkg/session"
	"runsheet/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "runsheetd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "runsheet.yaml", "path to config file")
	sessionID := flag.String("session", "", "session id to resume (default: new session)")
	agentMode := flag.Bool("agent", false, "run in agent mode instead of chat mode")
	fallback := flag.Bool("fallback", false, "use the non-streaming fallback path")
	metricsAddr := flag.String("metrics-addr", ":9464", "address for the Prometheus metrics endpoint")
	flag.Parse()

	_ = godotenv.Load()
	logger := logx.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	secrets, err := loadSecrets()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := factory.NewClient(ctx, cfg, secrets)
	if err != nil {
		return err
	}

	breaker := circuit.New("llm", cfg.Resilience.Circuit.Breaker())
	gateway := session.NewGateway(
		session.NewSQLiteStore(cfg.Session.DBPath), cfg.Session.TTL.Std())
	defer func() {
		if err := gateway.Close(); err != nil {
			logger.Warn("failed to close session store: %v", err)
		}
	}()

	var recorder telemetry.Recorder = telemetry.NopRecorder{}
	if cfg.Telemetry.Enabled {
		recorder = telemetry.NewPrometheusRecorder()
		go serveMetrics(*metricsAddr, logger)
	}

	orch := chat.New(engine, breaker, gateway, recorder, chat.Config{
		MaxRetries:   cfg.Chat.MaxRetries,
		RetryDelay:   cfg.Chat.RetryDelay.Std(),
		SystemPrompt: cfg.Chat.SystemPrompt,
	})

	sid := *sessionID
	if sid == "" {
		sid = uuid.NewString()
	}
	mode := chat.ModeChat
	if *agentMode {
		mode = chat.ModeAgent
	}

	var usage *usageReporter
	if cfg.Telemetry.Enabled && cfg.Telemetry.PrometheusURL != "" {
		query, err := telemetry.NewQueryService(cfg.Telemetry.PrometheusURL)
		if err != nil {
			logger.Warn("usage queries disabled: %v", err)
		} else {
			usage = &usageReporter{
				query:   query,
				retrier: retry.NewExecutor(cfg.Resilience.Retry.Policy()),
			}
		}
	}

	logger.Info("model %s, session %s", engine.ModelName(), sid)
	return repl(ctx, orch, usage, engine.ModelName(), sid, mode, *fallback)
}

// loadSecrets opens the encrypted secrets file when present, prompting
// for its password. Without a file, keys come from the environment.
func loadSecrets() (*config.SecretStore, error) {
	if !config.SecretsFileExists(".") {
		return config.NewSecretStore(), nil
	}

	fmt.Fprint(os.Stderr, "secrets password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return config.LoadSecretsFile(".", string(password))
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped: %v", err)
	}
}

// usageReporter answers /usage by querying Prometheus, retrying
// transient query failures under the configured backoff policy.
type usageReporter struct {
	query   *telemetry.QueryService
	retrier *retry.Executor
}

func repl(ctx context.Context, orch *chat.Orchestrator, usage *usageReporter, model, sessionID string, mode chat.Mode, fallback bool) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/clear":
			if err := orch.ClearSession(ctx, sessionID); err != nil {
				fmt.Printf("could not clear session: %v\n", err)
			} else {
				fmt.Println("session cleared")
			}
			continue
		case line == "/usage":
			printUsage(ctx, usage, model)
			continue
		}

		if fallback {
			reply, err := orch.ChatFallback(ctx, sessionID, line, mode)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println(reply)
			continue
		}

		for ev := range orch.StreamChat(ctx, sessionID, line, mode) {
			printEvent(ev)
		}
		fmt.Println()

		if ctx.Err() != nil {
			return nil
		}
	}
}

func printUsage(ctx context.Context, usage *usageReporter, model string) {
	if usage == nil {
		fmt.Println("usage queries are disabled")
		return
	}
	queryCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var stats *telemetry.ModelUsage
	err := usage.retrier.Run(queryCtx, "usage query", func(ctx context.Context) error {
		var err error
		stats, err = usage.query.GetModelUsage(ctx, model)
		return err
	})
	if err != nil {
		fmt.Printf("could not query usage: %v\n", err)
		return
	}
	fmt.Printf("%s: %d requests (%d errors, %d retries), %d tokens, avg %.0fms\n",
		stats.Model, stats.Requests, stats.Errors, stats.Retries,
		stats.TotalTokens, stats.AvgResponseMs)
}

func printEvent(ev chat.StreamEvent) {
	switch ev.Type {
	case chat.EventTypeText:
		fmt.Print(ev.Content)
	case chat.EventTypeTool:
		fmt.Printf("\n[tool: %s]\n", ev.ToolName)
	case chat.EventTypeToolResult:
		fmt.Printf("[%s => %s]\n", ev.ToolName, ev.ToolOutput)
	case chat.EventTypeStatus:
		fmt.Printf("\n[%s]\n", ev.Content)
	case chat.EventTypeError:
		fmt.Printf("\n[%s] %s\n", ev.ErrorCode, ev.Content)
	case chat.EventTypeDone:
	}
}
