package events

import (
	"log/slog"
	"strings"
	"time"
)

// Dispatcher routes events from the bus to notification scripts and
// webhooks. It only observes: nothing it does can change a callout's
// outcome, and failures stay in its own goroutines.
type Dispatcher struct {
	bus         *Bus
	scripts     *ScriptRunner
	webhooks    *WebhookSender
	logger      *slog.Logger
	scriptCfgs  []ScriptConfig
	webhookCfgs []WebhookConfig
	ch          chan Event
	done        chan struct{}
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(bus *Bus, logger *slog.Logger, scriptConcurrency int, webhookTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		scripts:  NewScriptRunner(scriptConcurrency, logger),
		webhooks: NewWebhookSender(webhookTimeout, logger),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// AddScript registers a notification script.
func (d *Dispatcher) AddScript(cfg ScriptConfig) {
	d.scriptCfgs = append(d.scriptCfgs, cfg)
}

// AddWebhook registers a webhook.
func (d *Dispatcher) AddWebhook(cfg WebhookConfig) {
	d.webhookCfgs = append(d.webhookCfgs, cfg)
}

// Empty reports whether no hooks are registered.
func (d *Dispatcher) Empty() bool {
	return len(d.scriptCfgs) == 0 && len(d.webhookCfgs) == 0
}

// Start subscribes to the event bus and dispatches until Stop. Call in a
// goroutine.
func (d *Dispatcher) Start() {
	d.ch = d.bus.Subscribe(1000)

	d.logger.Info("event dispatcher started",
		"script_hooks", len(d.scriptCfgs),
		"webhook_hooks", len(d.webhookCfgs))

	for {
		select {
		case evt, ok := <-d.ch:
			if !ok {
				return
			}
			d.dispatch(evt)
		case <-d.done:
			return
		}
	}
}

// Stop shuts down the dispatcher and waits for pending hooks.
func (d *Dispatcher) Stop() {
	close(d.done)
	if d.ch != nil {
		d.bus.Unsubscribe(d.ch)
	}
	d.scripts.Wait()
	d.webhooks.Wait()
	d.logger.Info("event dispatcher stopped")
}

func (d *Dispatcher) dispatch(evt Event) {
	evtType := string(evt.Type)

	for _, cfg := range d.scriptCfgs {
		if matchesEvent(cfg.Events, evtType) {
			d.scripts.Run(cfg, evt)
		}
	}
	for _, cfg := range d.webhookCfgs {
		if matchesEvent(cfg.Events, evtType) {
			d.webhooks.Send(cfg, evt)
		}
	}
}

// matchesEvent checks the event type against configured patterns: exact
// names, "*", or a "callout.*" style prefix wildcard. No patterns match all.
func matchesEvent(patterns []string, eventType string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p == "*" || p == eventType {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, ".*"); ok && strings.HasPrefix(eventType, prefix+".") {
			return true
		}
	}
	return false
}
