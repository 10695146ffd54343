package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/anungis437/nzila-automation-sub010/pkg/hashops"
)

// SignatureHeader carries the HMAC-SHA-256 of the request body.
const SignatureHeader = "X-Nzila-Signature"

// WebhookPublisher POSTs records as a JSON batch to a single endpoint.
type WebhookPublisher struct {
	url        string
	secret     []byte
	httpClient *http.Client
	delays     []time.Duration
	logger     *zap.Logger
}

// NewWebhookPublisher creates a WebhookPublisher. An empty secret disables
// signing.
func NewWebhookPublisher(url string, secret []byte, logger *zap.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Retry with backoff: immediately, then 1s, 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetHTTPClient replaces the HTTP client.
func (p *WebhookPublisher) SetHTTPClient(c *http.Client) {
	p.httpClient = c
}

// SetRetryDelays replaces the delay before each attempt. Its length is the
// number of attempts.
func (p *WebhookPublisher) SetRetryDelays(delays []time.Duration) {
	p.delays = delays
}

// Sign returns the signature header value for body.
func Sign(body, secret []byte) string {
	return "sha256=" + hashops.HMACHex(secret, body)
}

// VerifySignature checks a signature header value in constant time.
func VerifySignature(body, secret []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	return hashops.VerifyHMAC(secret, body, header[len(prefix):])
}

type webhookBatch struct {
	Records []Record  `json:"records"`
	SentAt  time.Time `json:"sentAt"`
}

// Publish implements Publisher. Delivery is attempted until one attempt gets a
// 2xx response or the retries run out.
func (p *WebhookPublisher) Publish(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	body, err := json.Marshal(webhookBatch{Records: records, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("webhook: marshal batch: %w", err)
	}
	var signature string
	if len(p.secret) > 0 {
		signature = Sign(body, p.secret)
	}

	var lastErr error
	for attempt, delay := range p.delays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = p.deliver(ctx, body, signature)
		if lastErr == nil {
			return nil
		}
		p.logger.Warn("webhook: delivery failed",
			zap.String("url", p.url),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return fmt.Errorf("webhook: giving up after %d attempts: %w", len(p.delays), lastErr)
}

func (p *WebhookPublisher) deliver(ctx context.Context, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
