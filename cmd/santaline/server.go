package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/santaline/internal/api"
	"github.com/kalambet/santaline/internal/config"
	"github.com/kalambet/santaline/internal/gemini"
	"github.com/kalambet/santaline/internal/orchestrator"
	"github.com/kalambet/santaline/internal/persona"
	"github.com/kalambet/santaline/internal/render"
	"github.com/kalambet/santaline/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the santaline server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(cmd.Context(), mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running santaline server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show santaline status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "santaline.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func healthURL(cfg config.Config) string {
	return fmt.Sprintf("http://%s:%d/health", dialHost(cfg.Server.Host), cfg.Server.Port)
}

// newService wires the orchestrator from configuration.
func newService(cfg config.Config, client *gemini.Client, store *storage.Store, logger *slog.Logger) *orchestrator.Service {
	modelConfig := func(m config.ModelSelection) orchestrator.ModelConfig {
		return orchestrator.ModelConfig{
			Preferred: m.Preferred,
			Whitelist: m.Whitelist,
			Defaults:  m.FallbackList(),
		}
	}

	resolver := orchestrator.NewResolver(
		modelConfig(cfg.Models.Text),
		modelConfig(cfg.Models.Image),
		modelConfig(cfg.Models.Vision),
		client,
		logger,
	)
	ctrl := orchestrator.NewController(
		resolver,
		orchestrator.NewHTTPDispatcher(client, cfg.Retry.DefaultRetryAfter),
		orchestrator.WithPolicy(orchestrator.Policy{
			ServerErrorDelay: cfg.Retry.ServerErrorDelay,
			RateLimitDelay:   cfg.Retry.RateLimitDelay,
		}),
		orchestrator.WithLogger(logger),
	)
	return orchestrator.NewService(ctrl, orchestrator.NewStoreRecorder(store), logger)
}

func runServer(ctx context.Context, mcpStdio bool) error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("getting API token: %w", err)
	}
	logger.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL(cfg)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("santaline is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("santaline is already running on %s", cfg.Addr())
		return fmt.Errorf("server already running on %s", cfg.Addr())
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	client := gemini.NewClient(cfg.Gemini.APIKey,
		gemini.WithBaseURL(cfg.Gemini.BaseURL),
		gemini.WithAPIVersion(cfg.Gemini.APIVersion),
		gemini.WithTimeout(cfg.Gemini.Timeout),
	)
	svc := newService(cfg, client, store, logger)

	handler := api.NewHandler(api.Deps{
		Generator:    svc,
		Store:        store,
		Prompts:      persona.New(0),
		Token:        apiToken,
		APIKeyLength: client.APIKeyLength(),
		Version:      version,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	worker := render.NewWorker(store, svc, 500*time.Millisecond, cfg.Worker.Concurrency).
		WithLogger(logger.With("component", "render"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("santaline listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return worker.Run(gctx)
	})

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Generator: svc,
			Store:     store,
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		logger.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("santaline is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop santaline (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to santaline (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL(cfg))
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on %s", cfg.Addr())
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Text model", "%s", orDefault(cfg.Models.Text.Preferred, "built-in defaults"))
	printStatus("Image model", "%s", orDefault(cfg.Models.Image.Preferred, "built-in defaults"))
	printStatus("Vision model", "%s", orDefault(cfg.Models.Vision.Preferred, "built-in defaults"))

	if running {
		if ac, err := newAPIClient(); err == nil {
			if resp, err := ac.get(ctx, "/api/requests/stats"); err == nil {
				var stats map[string]int
				if decodeJSON(resp, &stats) == nil {
					total := 0
					for _, n := range stats {
						total += n
					}
					printStatus("Requests", "%d logged, %d succeeded", total, stats["success"])
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
