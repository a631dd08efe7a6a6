package peer

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/config"
	"github.com/athena-dhcpd/dhcp-callout/internal/events"
	"github.com/athena-dhcpd/dhcp-callout/internal/macvendor"
	"github.com/athena-dhcpd/dhcp-callout/internal/metrics"
)

// Handler adapts a policy chain to callout.Handler. A failing policy falls
// back to proceed, so the server always gets an answer.
type Handler struct {
	chain   Chain
	bus     *events.Bus
	vendors *macvendor.DB
	logger  *slog.Logger
}

// NewHandler creates a handler. bus may be nil.
func NewHandler(chain Chain, bus *events.Bus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chain:  chain,
		bus:    bus,
		logger: logger.With("component", "peer"),
	}
}

// SetVendors sets the database used to resolve Request.Vendor.
func (h *Handler) SetVendors(db *macvendor.DB) {
	h.vendors = db
}

// HandleCallout implements callout.Handler.
func (h *Handler) HandleCallout(ctx context.Context, env callout.Envelope) (callout.Envelope, error) {
	hook := env.Hook().String()
	req := NewRequest(env)
	req.Vendor = h.vendors.Lookup(req.MAC)
	if req.Packet == nil && env.Hook() != callout.HookClientDelete {
		metrics.PacketErrors.WithLabelValues("decode").Inc()
	}

	start := time.Now()
	d, policy, err := h.chain.Decide(ctx, req)
	took := time.Since(start)
	if policy != "" {
		metrics.PolicyDuration.WithLabelValues(policy).Observe(took.Seconds())
	}
	if err != nil {
		metrics.PolicyErrors.WithLabelValues(policy).Inc()
		h.logger.Warn("policy failed, proceeding",
			"hook", hook,
			"policy", policy,
			"mac", req.MAC.String(),
			"error", err)
		d.Control = callout.ControlProceed
	}

	out := Apply(env, d)
	metrics.CalloutsHandled.WithLabelValues(hook, d.Control.String()).Inc()

	evt := events.NewCalloutEvent(events.SidePeer, out, policy, took)
	evt.Reason = d.Reason
	h.bus.Publish(evt)

	h.logger.Info("callout handled",
		"hook", hook,
		"mac", req.MAC.String(),
		"ip", ipString(req.IP),
		"control", d.Control.String(),
		"policy", policy,
		"duration", took.String())
	return out, nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

// ChainFromConfig builds the configured policies: rules first, then the
// script policy when enabled.
func ChainFromConfig(cfg config.PeerConfig) (Chain, error) {
	var chain Chain
	if len(cfg.Rules) > 0 {
		rules, err := NewRulePolicy(cfg.Rules)
		if err != nil {
			return nil, err
		}
		chain = append(chain, rules)
	}
	if cfg.Script.Enabled {
		script, err := NewScriptPolicy(cfg.Script)
		if err != nil {
			return nil, err
		}
		chain = append(chain, script)
	}
	return chain, nil
}
