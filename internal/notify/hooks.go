package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"moneygo/internal/resilience"
)

// LogHook writes every event to the structured log.
type LogHook struct {
	logger *slog.Logger
}

func NewLogHook(logger *slog.Logger) *LogHook {
	return &LogHook{logger: logger}
}

func (h *LogHook) Name() string {
	return "log"
}

func (h *LogHook) Notify(ctx context.Context, e Event) error {
	msg, ok := Format(e)
	if !ok {
		return fmt.Errorf("no formatter for event %s", e.Name())
	}
	level := slog.LevelInfo
	if e.Name() == EventLargeAmountDetected || e.Name() == EventScheduledFailed {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, msg, "event", e.Name(), "occurred_at", e.OccurredAt())
	return nil
}

const SignatureHeader = "X-Moneygo-Signature"

type webhookPayload struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Message    string    `json:"message"`
	Data       Event     `json:"data"`
}

// WebhookHook POSTs every event as JSON. The body is signed with
// HMAC-SHA256 when a secret is configured; calls go through a circuit
// breaker so a failing endpoint is skipped quickly.
type WebhookHook struct {
	url     string
	secret  []byte
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewWebhookHook(url, secret string, timeout time.Duration, logger *slog.Logger) *WebhookHook {
	return &WebhookHook{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker("webhook", func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
		logger: logger,
	}
}

func (h *WebhookHook) Name() string {
	return "webhook"
}

func (h *WebhookHook) Notify(ctx context.Context, e Event) error {
	msg, _ := Format(e)
	body, err := json.Marshal(webhookPayload{
		Event:      e.Name(),
		OccurredAt: e.OccurredAt(),
		Message:    msg,
		Data:       e,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	_, err = h.breaker.Execute(func() (interface{}, error) {
		return nil, h.send(ctx, body)
	})
	return err
}

func (h *WebhookHook) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MoneyGo-Webhook/1.0")
	if len(h.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(h.secret, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
