package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/crmkit/broadcast-service/environments"
	"github.com/crmkit/broadcast-service/internal/domain"
	"github.com/crmkit/broadcast-service/pkg/logger"
)

// Client caches delivery receipts so operators can inspect recent sends
// without hitting the queue table. Best effort only: the processor keeps
// working when redis is down.
type Client struct {
	client valkey.Client
}

const (
	receiptKeyPrefix = "receipt:"
	receiptTTL       = 24 * time.Hour
)

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client}, nil
}

func receiptKey(campaignID, itemID int64) string {
	return fmt.Sprintf("%s%d:%d", receiptKeyPrefix, campaignID, itemID)
}

func (c *Client) CacheReceipt(
	ctx context.Context,
	campaignID, itemID int64,
	transportMessageID string,
	sentAt time.Time,
) error {
	receipt := domain.DeliveryReceipt{
		TransportMessageID: transportMessageID,
		SentAt:             sentAt,
	}

	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	key := receiptKey(campaignID, itemID)

	err = c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(data)).Ex(receiptTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to cache receipt: %w", err)
	}

	logger.Debugf("Cached receipt for queue item %d -> %s", itemID, transportMessageID)

	return nil
}

// GetReceipts returns all cached receipts for one campaign, keyed by queue
// item id.
func (c *Client) GetReceipts(ctx context.Context, campaignID int64) (map[int64]*domain.DeliveryReceipt, error) {
	pattern := fmt.Sprintf("%s%d:*", receiptKeyPrefix, campaignID)

	var keys []string
	var cursor uint64
	for {
		result := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build())
		if result.Error() != nil {
			return nil, fmt.Errorf("failed to scan receipt keys: %w", result.Error())
		}

		scanResult, err := result.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to parse scan result: %w", err)
		}

		keys = append(keys, scanResult.Elements...)
		cursor = scanResult.Cursor

		if cursor == 0 {
			break
		}
	}

	receipts := make(map[int64]*domain.DeliveryReceipt)

	for _, key := range keys {
		getResult := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
		if getResult.Error() != nil {
			continue
		}

		data, err := getResult.ToString()
		if err != nil {
			continue
		}

		var receipt domain.DeliveryReceipt
		if err := json.Unmarshal([]byte(data), &receipt); err != nil {
			continue
		}

		var gotCampaignID, itemID int64
		if _, err := fmt.Sscanf(key, receiptKeyPrefix+"%d:%d", &gotCampaignID, &itemID); err != nil {
			logger.Warnf("failed to parse receipt key %q: %v", key, err)
			continue
		}

		receipts[itemID] = &receipt
	}

	return receipts, nil
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
