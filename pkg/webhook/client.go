// Package webhook 向联系人配置的 webhook 地址投递 JSON 通知。
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// StatusError 对端返回非 2xx
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

// Retryable 4xx（408/429 除外）视为对端配置问题
func (e *StatusError) Retryable() bool {
	if e.StatusCode == 408 || e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500
}

// Client 带签名的 webhook 客户端
type Client struct {
	httpClient *resty.Client
	secret     []byte
	logger     *zap.Logger
	nowFn      func() time.Time
}

func NewClient(timeout time.Duration, secret string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "LegacyVault-Webhook/1.0")

	return &Client{
		httpClient: client,
		secret:     []byte(secret),
		logger:     logger,
		nowFn:      time.Now,
	}
}

// sign HMAC-SHA256(timestamp + "." + body)
func (c *Client) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Send POST JSON；deliveryID 供接收方去重
func (c *Client) Send(ctx context.Context, url, deliveryID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	ts := strconv.FormatInt(c.nowFn().Unix(), 10)
	req := c.httpClient.R().
		SetContext(ctx).
		SetHeader("X-LegacyVault-Delivery", deliveryID).
		SetHeader("X-LegacyVault-Timestamp", ts).
		SetBody(body)
	if len(c.secret) > 0 {
		req.SetHeader("X-LegacyVault-Signature", "sha256="+c.sign(ts, body))
	}

	resp, err := req.Post(url)
	if err != nil {
		c.logger.Warn("Webhook call failed",
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call webhook: %w", err)
	}

	if resp.IsError() {
		c.logger.Warn("Webhook returned error",
			zap.String("delivery_id", deliveryID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return &StatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}

	c.logger.Debug("Webhook delivered",
		zap.String("delivery_id", deliveryID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
