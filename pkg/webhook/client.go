package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/crmkit/broadcast-service/environments"
	"github.com/crmkit/broadcast-service/internal/domain"
	"github.com/crmkit/broadcast-service/pkg/logger"
)

// Client is the outbound messaging transport. The wire protocol is a black
// box to the scheduler: one POST per message, 202 means accepted.
type Client struct {
	httpClient   *resty.Client
	transportURL string
}

func NewClient(cfg environments.TransportConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("x-crm-auth-key", cfg.AuthKey)

	return &Client{
		httpClient:   client,
		transportURL: cfg.URL,
	}
}

// Send delivers one rendered message. The idempotency key lets the provider
// deduplicate the resty-level retries of a single dispatch.
func (c *Client) Send(
	ctx context.Context,
	recipientAddress, content, idempotencyKey string,
) (*domain.TransportResponse, error) {
	payload := domain.TransportRequest{
		To:             recipientAddress,
		Content:        content,
		IdempotencyKey: idempotencyKey,
	}

	var transportResp domain.TransportResponse

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&transportResp).
		Post(c.transportURL)

	duration := time.Since(startTime)

	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	logger.Debugf("Transport request to %s completed in %v (status: %d)", c.transportURL, duration, resp.StatusCode())

	if resp.StatusCode() != http.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d (expected 202), body: %s", resp.StatusCode(), resp.String())
	}

	return &transportResp, nil
}

func (c *Client) GetURL() string {
	return c.transportURL
}
