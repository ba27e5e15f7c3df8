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
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hargraph/internal/agent"
	"hargraph/internal/api"
	"hargraph/internal/config"
	"hargraph/internal/gemini"
	"hargraph/internal/graph"
	"hargraph/internal/har"
	"hargraph/internal/proxy"
	"hargraph/internal/sandbox"
	"hargraph/internal/scrape"
	"hargraph/internal/storage"
	"hargraph/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hargraph server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running hargraph server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hargraph system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "hargraph.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "hargraph version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Server.Token == "" {
		return fmt.Errorf("missing API token: set HARGRAPH_SERVER_TOKEN")
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Check whether a server is already running before claiming the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("hargraph is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("hargraph is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Wire the tool session onto the stores. Sessions are built per request
	// so dataset imports and selection changes take effect immediately.
	graphStore := graph.NewSQLiteStore(store.DB())
	linker := graph.NewLinker(graphStore)
	pipeline := scrape.NewPipeline(store)
	sandboxExec := sandbox.New(cfg.Sandbox.Timeout())
	proxyClient := proxy.NewClient(cfg.Proxy.BaseURL)

	newSession := func() (*tools.Session, error) {
		stored, err := store.ListHarRecords()
		if err != nil {
			return nil, fmt.Errorf("loading dataset records: %w", err)
		}
		records := make([]har.Record, len(stored))
		for i, r := range stored {
			records[i] = har.Record{
				Index:            r.Idx,
				ID:               r.ID,
				Method:           r.Method,
				URL:              r.URL,
				Status:           r.Status,
				Size:             r.Size,
				MimeType:         r.MimeType,
				ResponseBodyText: r.ResponseBodyText,
				Selected:         r.Selected,
			}
		}
		return &tools.Session{
			Records:    records,
			GraphStore: graphStore,
			Linker:     linker,
			Pipeline:   pipeline,
			Sandbox:    sandboxExec,
			Proxy:      proxyClient,
		}, nil
	}

	registry := tools.NewCatalog()
	var modelClient *gemini.Client
	if cfg.Gemini.BaseURL != "" {
		modelClient = gemini.NewClientWithBaseURL(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.BaseURL)
	} else {
		modelClient = gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model)
	}
	orchestrator := agent.New(modelClient, registry, store, nil)

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:      store,
		Graph:      graphStore,
		Agent:      orchestrator,
		NewSession: newSession,
		Token:      cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server: the same tool catalogue over SSE, on its own port.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Registry:   registry,
		NewSession: newSession,
	})
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	sseSrv := server.NewSSEServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "hargraph listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("MCP server started", "addr", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sseSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("mcp shutdown", "error", err)
		}
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
		printError("hargraph is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop hargraph (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to hargraph (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			running = true
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Gemini.Model)
	printStatus("MCP port", "%d", cfg.Server.MCPPort)
	if cfg.Proxy.BaseURL != "" {
		printStatus("Proxy", "%s", cfg.Proxy.BaseURL)
	}

	if running && cfg.Server.Token != "" {
		c := &apiClient{baseURL: serverURL, token: cfg.Server.Token, httpClient: client}

		var entries struct {
			Entries []struct {
				Selected bool `json:"selected"`
			} `json:"entries"`
		}
		if resp, err := c.get("/entries"); err == nil {
			if decodeJSON(resp, &entries) == nil {
				selected := 0
				for _, e := range entries.Entries {
					if e.Selected {
						selected++
					}
				}
				printStatus("Dataset", "%d records (%d selected)", len(entries.Entries), selected)
			}
		}

		var g struct {
			Nodes []any `json:"nodes"`
			Links []any `json:"links"`
		}
		if resp, err := c.get("/graph"); err == nil {
			if decodeJSON(resp, &g) == nil {
				printStatus("Graph", "%d nodes, %d links", len(g.Nodes), len(g.Links))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
