package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/config"
	"github.com/athena-dhcpd/dhcp-callout/internal/events"
	"github.com/athena-dhcpd/dhcp-callout/internal/metrics"
)

// ScriptPolicy runs an external command per callout. The command gets the
// callout as CALLOUT_* environment variables and as JSON on stdin, and
// answers with a JSON decision on stdout:
//
//	{"control": "override", "ip": "10.0.0.9", "lease_time": 600, "reason": "..."}
//
// Empty output defers to the next policy, as does a callout throttled by
// the configured rate limits.
type ScriptPolicy struct {
	command string
	timeout time.Duration
	hooks   []callout.HookType
	limiter *RateLimiter
}

// NewScriptPolicy builds the policy from configuration.
func NewScriptPolicy(cfg config.ScriptPolicyConfig) (*ScriptPolicy, error) {
	hooks, err := ParseHooks(cfg.Hooks)
	if err != nil {
		return nil, fmt.Errorf("script policy: %w", err)
	}
	return &ScriptPolicy{
		command: cfg.Command,
		timeout: config.ParseDuration(cfg.Timeout, config.DefaultPolicyScriptTimeout),
		hooks:   hooks,
		limiter: NewRateLimiter(cfg.MaxPerSecond, cfg.MaxPerClient),
	}, nil
}

func (p *ScriptPolicy) Name() string { return "script" }

type scriptDecision struct {
	Control   string `json:"control"`
	IP        string `json:"ip"`
	AltIP     string `json:"alt_ip"`
	LeaseTime uint32 `json:"lease_time"`
	Reason    string `json:"reason"`
}

func (p *ScriptPolicy) Decide(ctx context.Context, req *Request) (Decision, bool, error) {
	if len(p.hooks) > 0 && !containsHook(p.hooks, req.Hook()) {
		return Decision{}, false, nil
	}
	if !p.limiter.Allow(req.MAC) {
		metrics.ScriptExecutions.WithLabelValues("throttled").Inc()
		return Decision{}, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	evt := events.Event{
		Type:      events.TypeForHook(req.Hook()),
		Timestamp: time.Now(),
		Callout:   events.NewCalloutData(events.SidePeer, req.Env),
	}
	stdin, err := json.Marshal(evt)
	if err != nil {
		return Decision{}, false, fmt.Errorf("marshalling callout for script: %w", err)
	}

	env := evt.ToEnvVars()
	if req.Vendor != "" {
		env["CALLOUT_VENDOR"] = req.Vendor
	}
	res, err := events.ExecScript(ctx, p.command, env, stdin)
	if err != nil {
		return Decision{}, false, fmt.Errorf("%w (stderr: %s)", err, bytes.TrimSpace(res.Stderr))
	}

	out := bytes.TrimSpace(res.Stdout)
	if len(out) == 0 {
		return Decision{}, false, nil
	}
	var sd scriptDecision
	if err := json.Unmarshal(out, &sd); err != nil {
		return Decision{}, false, fmt.Errorf("parsing script decision: %w", err)
	}
	return sd.decision()
}

func (sd scriptDecision) decision() (Decision, bool, error) {
	d := Decision{Reason: sd.Reason, LeaseTime: sd.LeaseTime}
	switch sd.Control {
	case "", config.ActionProceed:
		d.Control = callout.ControlProceed
	case config.ActionReject:
		d.Control = callout.ControlReject
	case config.ActionOverride:
		d.Control = callout.ControlOverride
	default:
		return Decision{}, false, fmt.Errorf("script decision: unknown control %q", sd.Control)
	}

	for _, f := range []struct {
		dst  *net.IP
		name string
		val  string
	}{
		{&d.IP, "ip", sd.IP},
		{&d.AltIP, "alt_ip", sd.AltIP},
	} {
		if f.val == "" {
			continue
		}
		ip := net.ParseIP(f.val).To4()
		if ip == nil {
			return Decision{}, false, fmt.Errorf("script decision: %s %q is not an IPv4 address", f.name, f.val)
		}
		*f.dst = ip
	}
	return d, true, nil
}
