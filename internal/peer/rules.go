package peer

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path"
	"strings"
	"time"

	"github.com/athena-dhcpd/dhcp-callout/internal/callout"
	"github.com/athena-dhcpd/dhcp-callout/internal/config"
)

// Rule matches callouts and maps them to a decision. Empty matchers match
// everything.
type Rule struct {
	Name        string
	Hooks       []callout.HookType
	MACPrefixes []net.HardwareAddr
	Hostname    string // glob, case-insensitive
	Vendor      string // glob over the OUI vendor name, case-insensitive
	Subnet      *net.IPNet
	Decision    Decision
}

// Matches reports whether every set matcher accepts req.
func (r *Rule) Matches(req *Request) bool {
	if len(r.Hooks) > 0 && !containsHook(r.Hooks, req.Hook()) {
		return false
	}
	if len(r.MACPrefixes) > 0 {
		ok := false
		for _, p := range r.MACPrefixes {
			if bytes.HasPrefix(req.MAC, p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if r.Hostname != "" && !globMatch(r.Hostname, req.Hostname()) {
		return false
	}
	if r.Vendor != "" && !globMatch(r.Vendor, req.Vendor) {
		return false
	}
	if r.Subnet != nil && (req.IP == nil || !r.Subnet.Contains(req.IP)) {
		return false
	}
	return true
}

// globMatch matches s against pattern case-insensitively. An empty s
// never matches.
func globMatch(pattern, s string) bool {
	if s == "" {
		return false
	}
	ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(s))
	return ok
}

func containsHook(hooks []callout.HookType, h callout.HookType) bool {
	for _, x := range hooks {
		if x == h {
			return true
		}
	}
	return false
}

// ParseHook maps a configured hook name to its type.
func ParseHook(name string) (callout.HookType, error) {
	for _, h := range []callout.HookType{callout.HookAddressOffer, callout.HookAddressDelete, callout.HookClientDelete} {
		if h.String() == name {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unknown hook %q", name)
}

// ParseHooks maps configured hook names to types.
func ParseHooks(names []string) ([]callout.HookType, error) {
	out := make([]callout.HookType, 0, len(names))
	for _, n := range names {
		h, err := ParseHook(n)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// NewRule compiles a configured rule.
func NewRule(rc config.RuleConfig) (Rule, error) {
	r := Rule{Name: rc.Name, Hostname: rc.Hostname, Vendor: rc.Vendor}

	var err error
	if r.Hooks, err = ParseHooks(rc.Hooks); err != nil {
		return r, fmt.Errorf("rule %s: %w", rc.Name, err)
	}
	for _, m := range rc.MAC {
		p, err := config.ParseMACPrefix(m)
		if err != nil {
			return r, fmt.Errorf("rule %s: %w", rc.Name, err)
		}
		r.MACPrefixes = append(r.MACPrefixes, p)
	}
	if rc.Subnet != "" {
		if _, r.Subnet, err = net.ParseCIDR(rc.Subnet); err != nil {
			return r, fmt.Errorf("rule %s: subnet: %w", rc.Name, err)
		}
	}
	for field, pattern := range map[string]string{"hostname": r.Hostname, "vendor": r.Vendor} {
		if _, err := path.Match(pattern, ""); err != nil {
			return r, fmt.Errorf("rule %s: %s pattern %q: %w", rc.Name, field, pattern, err)
		}
	}

	switch rc.Action {
	case config.ActionProceed, "":
		r.Decision.Control = callout.ControlProceed
	case config.ActionReject:
		r.Decision.Control = callout.ControlReject
	case config.ActionOverride:
		r.Decision.Control = callout.ControlOverride
		r.Decision.IP = parseIPv4(rc.IP)
		r.Decision.AltIP = parseIPv4(rc.AltIP)
		if rc.LeaseTime != "" {
			d, err := time.ParseDuration(rc.LeaseTime)
			if err != nil {
				return r, fmt.Errorf("rule %s: lease_time: %w", rc.Name, err)
			}
			r.Decision.LeaseTime = uint32(d / time.Second)
		}
	default:
		return r, fmt.Errorf("rule %s: unknown action %q", rc.Name, rc.Action)
	}
	r.Decision.Reason = "rule " + rc.Name
	return r, nil
}

func parseIPv4(s string) net.IP {
	if s == "" {
		return nil
	}
	return net.ParseIP(s).To4()
}

// RulePolicy decides by the first matching rule.
type RulePolicy struct {
	rules []Rule
}

// NewRulePolicy compiles configured rules in order.
func NewRulePolicy(cfgs []config.RuleConfig) (*RulePolicy, error) {
	p := &RulePolicy{}
	for _, rc := range cfgs {
		r, err := NewRule(rc)
		if err != nil {
			return nil, err
		}
		p.rules = append(p.rules, r)
	}
	return p, nil
}

func (p *RulePolicy) Name() string { return "rules" }

// Len returns the number of rules.
func (p *RulePolicy) Len() int { return len(p.rules) }

func (p *RulePolicy) Decide(_ context.Context, req *Request) (Decision, bool, error) {
	for i := range p.rules {
		if p.rules[i].Matches(req) {
			return p.rules[i].Decision, true, nil
		}
	}
	return Decision{}, false, nil
}
