// Command densefeed opens x.com in Chrome and keeps it in a dense,
// monospace, text-first layout with a diagnostics overlay.
//
// Usage:
//
//	densefeed -config densefeed.yaml           # pages, sinks, control surfaces from YAML
//	densefeed -url https://x.com/home          # one page, stdout sink
//	densefeed -remote ws://127.0.0.1:9222/...  # attach to a running Chrome
//	densefeed -url https://x.com/home -report  # print one Markdown report and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/densefeed/densefeed"
	"github.com/hazyhaar/densefeed/diagnostics"
)

type options struct {
	config   string
	url      string
	remote   string
	db       string
	logLevel string
	mcp      bool
	listen   string
	report   bool
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "path to densefeed.yaml")
	flag.StringVar(&o.url, "url", "", "open a single page")
	flag.StringVar(&o.remote, "remote", "", "DevTools WebSocket URL of a running Chrome")
	flag.StringVar(&o.db, "db", "", "SQLite database holding the sites table")
	flag.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools on stdio")
	flag.StringVar(&o.listen, "listen", "", "loopback address for the status API (e.g. 127.0.0.1:8787)")
	flag.BoolVar(&o.report, "report", false, "print one Markdown diagnostics report per page and exit")
	flag.Parse()

	level := new(slog.LevelVar)
	level.Set(parseLevel(o.logLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	os.Exit(exitCode(logger, level, o))
}

// errUsage is returned by run when no page or browser source is configured.
var errUsage = errors.New("usage: densefeed -config <file> | -url <url> | -remote <ws-url>")

// exitCode runs the command and maps its error to a process exit status.
// Deferred cleanup finishes before main calls os.Exit.
func exitCode(logger *slog.Logger, level *slog.LevelVar, o options) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, logger, level, o)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		return 2
	default:
		logger.Error("densefeed: fatal", "error", err)
		return 1
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func run(ctx context.Context, logger *slog.Logger, level *slog.LevelVar, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	if len(cfg.Pages) == 0 && cfg.Database == "" && cfg.Browser.Remote == "" {
		return errUsage
	}

	// stdout carries the MCP protocol when enabled.
	var out io.Writer = os.Stdout
	if cfg.Control.MCP {
		out = os.Stderr
	}
	sinks, err := densefeed.SinksFromConfig(cfg.Sinks, out)
	if err != nil {
		return err
	}
	if o.report {
		sinks = nil
	}

	coord, err := densefeed.New(cfg,
		densefeed.WithLogger(logger),
		densefeed.WithLogLevel(level),
		densefeed.WithSinks(sinks...),
	)
	if err != nil {
		return err
	}
	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	if o.report {
		return printReports(ctx, coord, os.Stdout)
	}

	if cfg.Control.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Control.Listen,
			Handler:           coord.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("densefeed: status api listening", "addr", cfg.Control.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("densefeed: status api", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	if cfg.Control.MCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "densefeed", Version: "1.0.0"}, nil)
		coord.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("densefeed: mcp", "error", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}

func loadConfig(o options) (*densefeed.Config, error) {
	cfg := densefeed.DefaultConfig()
	if o.config != "" {
		var err error
		if cfg, err = densefeed.LoadConfigFile(o.config); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.url != "" {
		cfg.Pages = append(cfg.Pages, densefeed.PageConfig{ID: "cli", URL: o.url})
	}
	if o.remote != "" {
		cfg.Browser.Remote = o.remote
	}
	if o.db != "" {
		cfg.Database = o.db
	}
	if o.mcp {
		cfg.Control.MCP = true
	}
	if o.listen != "" {
		cfg.Control.Listen = o.listen
	}
	return cfg, nil
}

func printReports(ctx context.Context, coord *densefeed.Coordinator, w io.Writer) error {
	sessions := coord.Sessions()
	if len(sessions) == 0 {
		return errors.New("no page opened")
	}
	for _, s := range sessions {
		md, err := diagnostics.Markdown(s.Rescan(ctx))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "<!-- %s -->\n%s\n", s.ID(), md)
	}
	return nil
}
