package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"relvanta-edge/internal/edge"
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relvanta-edge",
		Short: "Edge front end for the Relvanta site",
		Long: `relvanta-edge sits in front of the page-rendering origin.

It answers requests matching the content service's redirect table with
307/308 redirects, serves robots.txt and sitemap.xml, and proxies
everything else to the origin.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getenvDefault("RELVANTA_EDGE_CONFIG", "/relvanta-edge.yaml"), "path to relvanta-edge.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd(), newResolveCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the edge server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [path]...",
		Short: "Fetch the redirect table once and print the decision for each path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			svc, err := edge.NewService(cfg, logger)
			if err != nil {
				return fmt.Errorf("init service: %w", err)
			}
			defer svc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ContentTimeout())
			defer cancel()
			if res := svc.Warm(ctx); res.Err != nil {
				return fmt.Errorf("fetch redirects: %w", res.Err)
			}
			return printDecisions(cmd, svc.Resolver(), args)
		},
	}
}

func printDecisions(cmd *cobra.Command, r *edge.Resolver, paths []string) error {
	out := cmd.OutOrStdout()
	for _, p := range paths {
		act := r.Resolve(cmd.Context(), p)
		var err error
		if act.Kind == edge.Redirect {
			_, err = fmt.Fprintf(out, "%s\t%d\t%s\n", p, act.Status, act.Location)
		} else {
			_, err = fmt.Fprintf(out, "%s\t%s\n", p, act.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func setup() (edge.Config, *zap.Logger, error) {
	cfg, err := edge.LoadConfig(configPath)
	if err != nil {
		return edge.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger, err := edge.NewLogger(level)
	if err != nil {
		return edge.Config{}, nil, err
	}
	return cfg, logger, nil
}

func serve(parent context.Context, cfg edge.Config, logger *zap.Logger) error {
	svc, err := edge.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer svc.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           h2c.NewHandler(svc.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	warmCtx, cancel := context.WithTimeout(ctx, cfg.ContentTimeout())
	svc.Warm(warmCtx)
	cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relvanta-edge listening",
			zap.String("addr", addr),
			zap.String("origin", cfg.Server.Origin),
			zap.String("content_api", cfg.Content.APIURL),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
