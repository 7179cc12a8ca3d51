package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tlcrun/internal/auth"
	"tlcrun/internal/check"
	"tlcrun/internal/config"
	"tlcrun/internal/runner"
	"tlcrun/internal/server"
	"tlcrun/internal/sink"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the live view and run checks on request",
	Long: `Serve an HTTP live view. Checks are started with POST /api/check and stopped
with POST /api/stop. Results are available as JSON, Markdown and HTML, and
updates are pushed over Server-Sent Events (/api/events) and WebSockets (/ws).

Every request needs the access token, either as "Authorization: Bearer <token>"
or as ?token=<token>. Without serve.token in the config a random token is
generated and printed.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		addr := cfg.Serve.Addr
		if cmd.Flags().Changed("listen") {
			addr = listenAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		results := sink.New(slog.Default())
		m := newManager(cfg, runner.WithPublisher(results))
		srv, err := newServer(cfg, results, m)
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		srv.Follow(check.SourceProcess)
		defer srv.Close()

		err = srv.Serve(ctx, addr)
		if m.Stop() {
			if run := m.Active(); run != nil {
				<-run.Done()
			}
		}
		return err
	},
}

func newServer(cfg config.Config, results *sink.Sink, m *runner.Manager) (*server.Server, error) {
	a, token, err := auth.New(cfg.Serve.Token)
	if err != nil {
		return nil, err
	}
	if cfg.Serve.Token == "" {
		slog.Info("Generated live view token", "token", token)
	} else {
		slog.Info("Live view token configured", "tokenHash", auth.TokenHash(token))
	}
	return server.New(results, m,
		server.WithLogger(slog.Default()),
		server.WithAuth(a),
		server.WithUpdateInterval(cfg.Serve.UpdateInterval),
		server.WithRunOptions(func(files check.SpecFiles, ignoreDeadlock bool) runner.Options {
			return runOptions(cfg, files, ignoreDeadlock)
		}),
	), nil
}

var initConfigCmd = &cobra.Command{
	Use:           "init-config",
	Short:         "Write the default config file",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			p, err := config.DefaultPath()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil {
			return &exitError{code: exitUsage, err: fmt.Errorf("%s: %w", path, os.ErrExist)}
		}
		if err := config.Write(path, config.Default()); err != nil {
			return err
		}
		slog.Info("Wrote default config", "path", path)
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on (default from config: 127.0.0.1:8421)")
}
