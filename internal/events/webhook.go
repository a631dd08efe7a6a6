package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WebhookSender posts events to HTTP endpoints with retry and HMAC signing.
type WebhookSender struct {
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// WebhookConfig describes a single webhook binding.
type WebhookConfig struct {
	Name         string
	Events       []string
	URL          string
	Method       string
	Headers      map[string]string
	Retries      int
	RetryBackoff time.Duration
	Secret       string // HMAC-SHA256 key for X-Callout-Signature
}

// NewWebhookSender creates a new webhook sender with a shared HTTP client pool.
func NewWebhookSender(timeout time.Duration, logger *slog.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Send delivers an event in the background.
func (w *WebhookSender) Send(cfg WebhookConfig, evt Event) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deliver(context.Background(), cfg, evt)
	}()
}

func (w *WebhookSender) deliver(ctx context.Context, cfg WebhookConfig, evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Error("failed to marshal webhook payload",
			"hook_name", cfg.Name,
			"error", err)
		return
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	interval := cfg.RetryBackoff
	if interval <= 0 {
		interval = time.Second
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = interval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		return w.doRequest(ctx, cfg, method, body)
	}
	notify := func(err error, next time.Duration) {
		w.logger.Warn("webhook delivery failed, retrying",
			"hook_name", cfg.Name,
			"url", cfg.URL,
			"attempt", attempt,
			"max_retries", retries,
			"next", next.String(),
			"error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries-1)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		w.logger.Error("webhook delivery failed after all retries",
			"hook_name", cfg.Name,
			"url", cfg.URL,
			"retries", retries,
			"error", err)
		return
	}
	w.logger.Debug("webhook delivered",
		"hook_name", cfg.Name,
		"url", cfg.URL,
		"event", string(evt.Type),
		"attempt", attempt)
}

func (w *WebhookSender) doRequest(ctx context.Context, cfg WebhookConfig, method string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "dhcp-callout/1.0")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Secret != "" {
		req.Header.Set("X-Callout-Signature", "sha256="+computeHMAC(body, cfg.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
}

func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Wait blocks until all pending webhooks complete.
func (w *WebhookSender) Wait() {
	w.wg.Wait()
}
