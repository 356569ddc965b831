package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"habitcal/internal/agenda"
	"habitcal/internal/clock"
	"habitcal/internal/config"
	"habitcal/internal/credential"
	"habitcal/internal/gateway"
	"habitcal/internal/habit"
	appLog "habitcal/internal/log"
	"habitcal/internal/tzclock"
	"habitcal/internal/web"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "habitcal",
		Short:         "Turn habits into recurring calendar events",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/habitcal/config.yaml", "Path to config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newScheduleCmd(&configPath))
	return root
}

func loadConfig(path string) (*config.Config, error) {
	conf, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	appLog.Configure(os.Stderr, conf.Log.Format, conf.Log.Level)
	return conf, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the agenda refresher",
		RunE: func(_ *cobra.Command, _ []string) error {
			conf, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			// --listen overrides config file listen if provided.
			if listen != "" {
				conf.Listen = listen
			}
			return serve(conf)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func serve(conf *config.Config) error {
	appLog.Info("habitcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"provider", conf.Calendar.Provider,
		"calendar_id", conf.Calendar.CalendarID,
		"refresh", conf.RefreshCron,
		"agenda_size", conf.AgendaSize,
		"min_confidence", conf.MinConfidence,
		"basic_auth", conf.BasicAuth != nil,
	)

	zone, err := tzclock.Load(conf.Timezone)
	if err != nil {
		return err
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real()
	gw, err := newGateway(ctx, conf, clk)
	if err != nil {
		return err
	}
	svc := habit.NewService(gw, clk, habit.Options{
		Timezone:               conf.Timezone,
		DefaultDurationMinutes: conf.DefaultDurationMinutes,
		MinConfidence:          conf.MinConfidence,
	})
	timeout := time.Duration(conf.Calendar.TimeoutSeconds) * time.Second
	ag := agenda.New(svc, clk, conf.AgendaSize, timeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := ag.Start(conf.RefreshCron, zone.Location()); err != nil {
		return fmt.Errorf("agenda schedule %q: %w", conf.RefreshCron, err)
	}
	go func() {
		// Warm the cache; a failure is logged and retried on schedule.
		_ = ag.Refresh(ctx)
	}()

	err = web.NewServer(conf, svc, ag).Run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	ag.Stop(stopCtx)

	appLog.Info("habitcal exiting")
	return err
}

// newGateway picks the calendar backend. A static token from the
// environment takes precedence over the connection broker, whose tokens are
// reused until shortly before they expire.
func newGateway(ctx context.Context, conf *config.Config, clk clock.Clock) (gateway.Gateway, error) {
	if conf.Calendar.Provider == "memory" {
		appLog.Info("using in-memory calendar")
		return gateway.NewMemory(clk), nil
	}

	timeout := time.Duration(conf.Calendar.TimeoutSeconds) * time.Second
	var tokens oauth2.TokenSource
	if env := conf.Calendar.AccessTokenEnv; env != "" && os.Getenv(env) != "" {
		appLog.Info("using static calendar token", "env", env)
		tokens = credential.Static(os.Getenv(env))
	} else {
		// Requests still draining after shutdown may need a token.
		broker := credential.NewConnector(context.WithoutCancel(ctx), connectorConfig(conf, os.Getenv), &http.Client{Timeout: timeout}, clk)
		tokens = credential.NewSource(broker, credential.DefaultSkew)
	}

	return gateway.NewGoogle(gateway.GoogleConfig{
		BaseURL:           conf.Calendar.BaseURL,
		CalendarID:        conf.Calendar.CalendarID,
		RequestsPerSecond: conf.Calendar.RequestsPerSecond,
		Timeout:           timeout,
	}, tokens, nil, clk)
}

func connectorConfig(conf *config.Config, getenv func(string) string) credential.ConnectorConfig {
	host := conf.Connector.Hostname
	if host == "" {
		host = getenv("REPLIT_CONNECTORS_HOSTNAME")
	}
	var baseURL string
	if host != "" {
		baseURL = "https://" + strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	}

	var identity string
	if conf.Connector.IdentityEnv != "" {
		identity = getenv(conf.Connector.IdentityEnv)
	} else {
		identity = credential.IdentityFromEnv(getenv)
	}

	return credential.ConnectorConfig{
		BaseURL:       baseURL,
		ConnectorName: conf.Connector.ConnectorName,
		Identity:      identity,
	}
}
