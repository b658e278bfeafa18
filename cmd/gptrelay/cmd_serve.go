package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/gptrelay/internal/completion"
	"github.com/user/gptrelay/internal/config"
	ctxengine "github.com/user/gptrelay/internal/context"
	"github.com/user/gptrelay/internal/dispatcher"
	"github.com/user/gptrelay/internal/gateway"
	"github.com/user/gptrelay/internal/scheduler"
	"github.com/user/gptrelay/internal/state"
	"github.com/user/gptrelay/internal/telegram"
	"github.com/user/gptrelay/internal/types"
	"github.com/user/gptrelay/internal/webhook"
	"github.com/user/gptrelay/pkg/llm"
	"github.com/user/gptrelay/pkg/llm/openai"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gptrelay daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "gptrelay.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func qaPath(dataDir string) string {
	return filepath.Join(dataDir, "qa_data.json")
}

func interactionsPath(dataDir string) string {
	return filepath.Join(dataDir, "interactions.db")
}

func retryPolicy(cfg *config.Config) completion.RetryPolicy {
	return completion.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Duration,
		MaxDelay:    cfg.Retry.MaxDelay.Duration,
		Deadline:    cfg.Retry.Deadline.Duration,
		Jitter:      cfg.Retry.Jitter,
	}
}

// promptHandler answers HTTP prompts through the gateway so they share the
// caller's lane and the global concurrency cap with chat messages.
func promptHandler(gw *gateway.Gateway) webhook.PromptHandler {
	return func(ctx context.Context, userID types.UserID, prompt string) (string, error) {
		done := make(chan string, 1)
		event := &types.InboundEvent{
			Source: "webhook",
			UserID: userID,
			Text:   prompt,
		}
		if err := gw.HandleInbound(ctx, event, gateway.WithOnComplete(func(response string) {
			done <- response
		})); err != nil {
			return "", err
		}
		select {
		case response := <-done:
			return response, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.LLM.Provider != "" && cfg.LLM.Provider != "openai" {
		return fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
	if cfg.Telegram.Token == "" && !cfg.HTTP.Enabled {
		return errors.New("nothing to serve: set telegram.token or enable http")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	// Stores
	sessions := state.NewSessionStore(cfg.History.MaxMessages)
	qa := state.NewQAStore(qaPath(cfg.DataDir))
	interactions, err := state.NewInteractionStore(interactionsPath(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("open interaction store: %w", err)
	}
	defer interactions.Close()

	// LLM provider
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	if cfg.LLM.APIKey == "" {
		slog.Warn("llm api key not set, every completion will fail")
	}

	// Context engine
	engine, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve, cfg.LLM.SystemPromptPath)
	if err != nil {
		return fmt.Errorf("create context engine: %w", err)
	}

	client := completion.NewClient(provider, retryPolicy(cfg), completion.WithPromptBuilder(engine))
	d := dispatcher.New(sessions, client, qa, dispatcher.Options{
		FailureReply: cfg.Messages.Failure,
		ClearedReply: cfg.Messages.Cleared,
		CacheEnabled: cfg.Cache.Enabled,
	})

	// Gateway
	gw := gateway.New(cfg.Messages.Failure, int64(cfg.MaxConcurrent))
	gw.Queue.SetProcessor(d.ProcessRun)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("gptrelay started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"llm_model", cfg.LLM.Model,
		"history", cfg.History.MaxMessages,
		"max_attempts", cfg.Retry.MaxAttempts,
		"cache_enabled", cfg.Cache.Enabled,
		"pid_file", pidFile,
	)

	g, gctx := errgroup.WithContext(ctx)

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, interactions, telegram.Messages{
			Welcome: cfg.Messages.Welcome,
			Help:    cfg.Messages.Help,
			Failure: cfg.Messages.Failure,
		}, cfg.Telegram.GroupID)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		g.Go(func() error {
			adapter.Start(gctx)
			return nil
		})
		slog.Info("telegram adapter started", "group_id", cfg.Telegram.GroupID)
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Maintenance scheduler
	sched := scheduler.New(
		scheduler.StatsJob(cfg.Maintenance.StatsSchedule, sessions),
		scheduler.PruneJob(cfg.Maintenance.QAPruneSchedule, qa, cfg.Cache.MaxEntries),
	)
	jobs := sched.Start(ctx)
	defer sched.Stop()
	slog.Info("scheduler started", "jobs", jobs)

	// Keep-alive and API server
	if cfg.HTTP.Enabled {
		srv := webhook.NewServer(promptHandler(gw), webhook.Deps{
			Sessions: sessions,
			QA:       qa,
			Members:  interactions,
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-gctx.Done():
			// A component failed.
			cancel()
			return g.Wait()
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				// Clean up PID file before re-exec
				os.Remove(pidFile)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
						slog.Error("failed to re-write PID file", "error", writeErr)
					}
					continue
				}
			}
			slog.Info("shutting down", "signal", sig)
			cancel()
			if err := g.Wait(); err != nil {
				slog.Error("shutdown error", "error", err)
			}
			return nil
		}
	}
}
