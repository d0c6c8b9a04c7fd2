// Package notify delivers chat messages for new feed items and operator
// alerts. Sender is the external collaborator boundary any chat backend
// implements; DiscordSender is the one concrete implementation wired up by
// default, following the teacher's DiscordNotifier in structure (rate
// limiting, retry-with-backoff, typed webhook error classification) but
// addressed by chat id and carrying arbitrary pre-formatted text rather
// than an Article/Source pair.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"feedpoller/internal/resilience/circuitbreaker"
	"feedpoller/internal/resilience/retry"
	"feedpoller/internal/sanitize"
)

// ParseMode selects how a chat backend should interpret Text.
type ParseMode string

const (
	ParseHTML  ParseMode = "html"
	ParsePlain ParseMode = "plain"
	ParseNone  ParseMode = "none"
)

// Message is the result of a successful send.
type Message struct {
	ID     string
	ChatID int64
	Text   string
}

// Sender is the chat-backend interface the engine delivers through. A nil
// Message with a nil error means the backend silently declined the send
// (for example, a disabled no-op backend, or a backend electing not to
// render the requested parse mode); the caller's contract is to retry
// once with ParsePlain before giving up.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, mode ParseMode) (*Message, error)
}

// RateLimitError is returned by DiscordSender when the webhook itself
// reports 429, carrying the retry_after duration it requested.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("chat webhook rate limited, retry after %v", e.RetryAfter)
}

// ClientError is a non-retryable 4xx response from the webhook.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string { return e.Message }

// ServerError is a retryable 5xx response from the webhook.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string { return e.Message }

// isRetryableError reports whether a webhook failure is worth another
// attempt: server errors and network failures are, client errors (other
// than the separately-handled 429) are not.
func isRetryableError(err error) bool {
	switch err.(type) {
	case *ClientError:
		return false
	default:
		return true
	}
}

// DiscordConfig configures outbound Discord webhook delivery.
type DiscordConfig struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// DefaultDiscordConfig returns sane defaults for a configured-but-not-yet-
// filled-in webhook.
func DefaultDiscordConfig() DiscordConfig {
	return DiscordConfig{Timeout: 10 * time.Second}
}

// DiscordSender posts plain text (Discord webhooks do not render arbitrary
// HTML; a ParseHTML request is reduced to its plain-text form before
// sending) to a single configured webhook URL, rate limited to Discord's
// published webhook ceiling of 30 requests/minute.
type DiscordSender struct {
	config     DiscordConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
	breaker    *circuitbreaker.CircuitBreaker
}

// NewDiscordSender builds a DiscordSender from cfg. Outbound posts run
// through a circuitbreaker.WebhookConfig breaker so a noisy Discord outage
// trips after a burst of failures instead of every alert and digest send
// individually paying the full retry schedule against a backend that's down.
func NewDiscordSender(cfg DiscordConfig) *DiscordSender {
	return &DiscordSender{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(0.5), 3),
		retryCfg:   retry.WebhookConfig(),
		breaker:    circuitbreaker.New(circuitbreaker.WebhookConfig()),
	}
}

type discordPayload struct {
	Content string `json:"content"`
}

type discordErrorResponse struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

// SendMessage posts text to the configured webhook. chatID is accepted for
// interface compatibility but unused: a Discord incoming webhook addresses
// exactly one channel, fixed at configuration time.
func (d *DiscordSender) SendMessage(ctx context.Context, chatID int64, text string, mode ParseMode) (*Message, error) {
	if !d.config.Enabled {
		return nil, nil
	}
	if mode == ParseHTML {
		text = sanitize.PlainText(text)
	}

	requestID := uuid.New().String()

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("notify: rate limiter: %w", err)
	}

	if err := d.sendWithRetry(ctx, text, requestID); err != nil {
		return nil, err
	}

	return &Message{ID: requestID, ChatID: chatID, Text: text}, nil
}

// sendWithRetry mirrors the teacher's Discord retry loop: rate-limit (429)
// errors sleep for the backend's own requested retry_after rather than the
// generic backoff schedule, since the backend is telling us exactly how
// long to wait; everything else retryable uses retryCfg's exponential
// schedule. Client errors (4xx other than 429) fail immediately.
func (d *DiscordSender) sendWithRetry(ctx context.Context, text, requestID string) error {
	delay := d.retryCfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= d.retryCfg.MaxAttempts; attempt++ {
		err := d.guardedPost(ctx, text, requestID)
		if err == nil {
			return nil
		}
		lastErr = err

		if rle, ok := err.(*RateLimitError); ok {
			slog.Warn("chat webhook rate limited, backing off",
				slog.String("request_id", requestID), slog.Duration("retry_after", rle.RetryAfter), slog.Int("attempt", attempt))
			select {
			case <-time.After(rle.RetryAfter):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !isRetryableError(err) {
			return err
		}

		if attempt == d.retryCfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * d.retryCfg.Multiplier)
		if delay > d.retryCfg.MaxDelay {
			delay = d.retryCfg.MaxDelay
		}
	}

	return fmt.Errorf("notify: webhook delivery failed after %d attempts: %w", d.retryCfg.MaxAttempts, lastErr)
}

// guardedPost runs post through the webhook circuit breaker. A tripped
// breaker is reported as a ClientError so sendWithRetry's isRetryableError
// fails the attempt immediately rather than burning the backoff schedule
// against a backend already known to be down.
func (d *DiscordSender) guardedPost(ctx context.Context, text, requestID string) error {
	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.post(ctx, text, requestID)
	})
	if err == gobreaker.ErrOpenState {
		return &ClientError{Message: "chat webhook circuit breaker open"}
	}
	return err
}

func (d *DiscordSender) post(ctx context.Context, text, requestID string) error {
	body, err := json.Marshal(discordPayload{Content: text})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.Info("chat message delivered", slog.String("request_id", requestID))
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: extractRetryAfter(resp, respBody)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &ClientError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("webhook client error: %s", respBody)}
	}
	return &ServerError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("webhook server error: %s", respBody)}
}

func extractRetryAfter(resp *http.Response, body []byte) time.Duration {
	var errResp discordErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.RetryAfter > 0 {
		return time.Duration(errResp.RetryAfter * float64(time.Second))
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 5 * time.Second
}

// NoOpSender discards every message, for disabled or test configurations.
// It always returns (nil, nil), matching Sender's silent-decline contract.
type NoOpSender struct{}

// SendMessage does nothing.
func (NoOpSender) SendMessage(ctx context.Context, chatID int64, text string, mode ParseMode) (*Message, error) {
	return nil, nil
}
