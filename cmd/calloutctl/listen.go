package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/config"
	"github.com/athena-dhcpd/dhcp-callout/internal/events"
	"github.com/athena-dhcpd/dhcp-callout/internal/journal"
	"github.com/athena-dhcpd/dhcp-callout/internal/macvendor"
	"github.com/athena-dhcpd/dhcp-callout/internal/metrics"
	"github.com/athena-dhcpd/dhcp-callout/internal/peer"
)

const (
	journalPruneInterval = time.Hour
	shutdownTimeout      = 5 * time.Second
)

func listenCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Attach to the channel as the callout module and answer calls",
		Long: `Attach to the callout channel and answer every call with the configured
policy chain: [[peer.rule]] entries first, then [peer.script]. Calls no
policy claims are answered with proceed.`,
		Example: "calloutctl listen -c /etc/dhcp-callout/config.toml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			return runListener(cmd.Context(), cfg, logger)
		},
	}
}

func runListener(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	chain, err := peer.ChainFromConfig(cfg.Peer)
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Hooks.EventBufferSize, logger)
	go bus.Start()
	defer bus.Stop()

	if cfg.Peer.Journal != "" {
		j, err := journal.Open(cfg.Peer.Journal, logger)
		if err != nil {
			return err
		}
		defer j.Close()

		sub := bus.Subscribe(0)
		journaled := j.Follow(sub)
		defer func() {
			bus.Unsubscribe(sub)
			<-journaled
		}()

		done := make(chan struct{})
		defer close(done)
		go j.RunRetention(cfg.JournalRetention(), journalPruneInterval, done)
		logger.Info("callout journal opened", "path", cfg.Peer.Journal, "records", j.Count())
	}

	dispatcher := newDispatcher(cfg, bus, logger)
	if !dispatcher.Empty() {
		go dispatcher.Start()
		defer dispatcher.Stop()
	}

	ch, err := callout.Open(channelConfig(cfg, logger))
	if err != nil {
		return err
	}
	defer ch.Close()

	metrics.StartTime.SetToCurrentTime()
	metrics.Info.WithLabelValues(version, events.SidePeer).Set(1)

	logger.Info("calloutctl listening",
		"dir", cfg.Channel.Dir,
		"policies", len(chain),
		"metrics_listen", cfg.Peer.MetricsListen)

	handler := peer.NewHandler(chain, bus, logger)
	if cfg.Peer.VendorDB != "" {
		vendors, err := macvendor.Open(cfg.Peer.VendorDB)
		if err != nil {
			return err
		}
		handler.SetVendors(vendors)
		logger.Info("vendor database loaded", "path", cfg.Peer.VendorDB, "prefixes", vendors.Count())
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return ch.Serve(ctx, handler)
	})

	if cfg.Peer.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              cfg.Peer.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		eg.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = eg.Wait()
	logger.Info("calloutctl stopped")
	return err
}

// newDispatcher registers the configured notification hooks.
func newDispatcher(cfg *config.Config, bus *events.Bus, logger *slog.Logger) *events.Dispatcher {
	h := cfg.Hooks
	d := events.NewDispatcher(bus, logger, h.ScriptConcurrency,
		config.ParseDuration(h.WebhookTimeout, config.DefaultWebhookTimeout))

	scriptTimeout := config.ParseDuration(h.ScriptTimeout, config.DefaultScriptTimeout)
	for _, s := range h.Scripts {
		d.AddScript(events.ScriptConfig{
			Name:    s.Name,
			Events:  s.Events,
			Command: s.Command,
			Timeout: config.ParseDuration(s.Timeout, scriptTimeout),
		})
	}
	for _, w := range h.Webhooks {
		d.AddWebhook(events.WebhookConfig{
			Name:         w.Name,
			Events:       w.Events,
			URL:          w.URL,
			Method:       w.Method,
			Headers:      w.Headers,
			Retries:      w.Retries,
			RetryBackoff: config.ParseDuration(w.RetryBackoff, config.DefaultWebhookRetryBackoff),
			Secret:       w.Secret,
		})
	}
	return d
}
