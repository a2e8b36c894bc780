package sms

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"LegacyVault/config"
	"LegacyVault/pkg/logger"
)

// Client SMS 客户端接口
type Client interface {
	// SendSingle 发送单条短信
	// templateParam: 模板参数（JSON 字符串）
	SendSingle(ctx context.Context, phone, signName, templateCode, templateParam string) (*SendResponse, error)
}

// SendResponse 短信发送响应
type SendResponse struct {
	MessageID  string // 服务商返回的 BizId
	StatusCode string
	Message    string
	RequestID  string
	Provider   string
	Template   string
}

// NonRetryableError 签名、模板等配置错误，重试没有意义
type NonRetryableError struct {
	Code    string
	Message string
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("sms rejected: %s - %s", e.Code, e.Message)
}

var (
	smsClient Client
	smsOnce   sync.Once
	smsErr    error
)

// Init 初始化 SMS 客户端
func Init() error {
	smsOnce.Do(func() {
		cfg := config.Cfg

		switch cfg.SMSProvider {
		case "aliyun":
			smsClient, smsErr = NewAliyunClient()
		case "mock":
			smsClient = NewMockClient()
		default:
			smsErr = fmt.Errorf("unsupported SMS provider: %s", cfg.SMSProvider)
		}

		if smsErr != nil {
			logger.Logger.Error("Failed to initialize SMS client", zap.Error(smsErr))
			return
		}

		logger.Logger.Info("SMS client initialized successfully",
			zap.String("provider", cfg.SMSProvider),
		)
	})

	return smsErr
}

func GetClient() Client {
	if smsClient == nil {
		panic("SMS client not initialized, call sms.Init() first")
	}
	return smsClient
}
