package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	openapiutil "github.com/alibabacloud-go/openapi-util/service"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	credential "github.com/aliyun/credentials-go/credentials"
	"go.uber.org/zap"

	"LegacyVault/pkg/logger"
)

type AliyunClient struct {
	client *openapi.Client
}

// NewAliyunClient 创建阿里云 SMS 客户端
// 凭据从环境变量获取：ALIBABA_CLOUD_ACCESS_KEY_ID 和 ALIBABA_CLOUD_ACCESS_KEY_SECRET
func NewAliyunClient() (*AliyunClient, error) {
	cred, err := credential.NewCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun credential: %w", err)
	}

	client, err := openapi.NewClient(&openapi.Config{
		Credential: cred,
		Endpoint:   tea.String("dysmsapi.aliyuncs.com"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun client: %w", err)
	}

	return &AliyunClient{client: client}, nil
}

func (c *AliyunClient) createApiInfo(action string) *openapi.Params {
	return &openapi.Params{
		Action:      tea.String(action),
		Version:     tea.String("2017-05-25"),
		Protocol:    tea.String("HTTPS"),
		Method:      tea.String("POST"),
		AuthType:    tea.String("AK"),
		Style:       tea.String("RPC"),
		Pathname:    tea.String("/"),
		ReqBodyType: tea.String("json"),
		BodyType:    tea.String("json"),
	}
}

func (c *AliyunClient) SendSingle(ctx context.Context, phone, signName, templateCode, templateParam string) (*SendResponse, error) {
	if signName == "" {
		return nil, &NonRetryableError{Code: "SignNameRequired", Message: "sign name is required"}
	}
	if templateCode == "" {
		return nil, &NonRetryableError{Code: "TemplateCodeRequired", Message: "template code is required"}
	}

	queries := map[string]interface{}{
		"PhoneNumbers":  tea.String(phone),
		"SignName":      tea.String(signName),
		"TemplateCode":  tea.String(templateCode),
		"TemplateParam": tea.String(templateParam),
	}

	resp, err := c.client.CallApi(c.createApiInfo("SendSms"), &openapi.OpenApiRequest{
		Query: openapiutil.Query(queries),
	}, &util.RuntimeOptions{})
	if err != nil {
		logger.Logger.Error("Failed to send SMS",
			zap.String("template", templateCode),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to send SMS: %w", err)
	}

	if resp["statusCode"] != nil {
		statusCode, err := parseStatusCode(resp["statusCode"])
		if err != nil {
			return nil, err
		}
		if statusCode != 200 {
			logger.Logger.Error("SMS API returned error",
				zap.Int("statusCode", statusCode),
				zap.Any("body", resp["body"]),
			)
			return nil, fmt.Errorf("SMS API error: statusCode=%d", statusCode)
		}
	}

	response := &SendResponse{Provider: "aliyun", Template: templateCode}
	if resp["body"] != nil {
		bodyBytes, err := json.Marshal(resp["body"])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response body: %w", err)
		}

		var body struct {
			BizId     string `json:"BizId"`
			Code      string `json:"Code"`
			Message   string `json:"Message"`
			RequestId string `json:"RequestId"`
		}
		if err := json.Unmarshal(bodyBytes, &body); err == nil {
			response.MessageID = body.BizId
			response.StatusCode = body.Code
			response.Message = body.Message
			response.RequestID = body.RequestId

			if body.Code != "OK" {
				logger.Logger.Error("SMS send failed",
					zap.String("code", body.Code),
					zap.String("message", body.Message),
					zap.String("request_id", body.RequestId),
				)
				if isNonRetryableError(body.Code) {
					return nil, &NonRetryableError{Code: body.Code, Message: body.Message}
				}
				return nil, fmt.Errorf("SMS send failed: %s - %s", body.Code, body.Message)
			}
		}
	}

	logger.Logger.Debug("SMS sent successfully",
		zap.String("template", templateCode),
		zap.String("message_id", response.MessageID),
	)
	return response, nil
}

func parseStatusCode(v interface{}) (int, error) {
	switch code := v.(type) {
	case int:
		return code, nil
	case int32:
		return int(code), nil
	case int64:
		return int(code), nil
	case float64:
		return int(code), nil
	case *int:
		if code != nil {
			return *code, nil
		}
	}
	return 0, fmt.Errorf("unexpected SMS status code type %T", v)
}

// isNonRetryableError 签名、模板、号码类错误
func isNonRetryableError(code string) bool {
	switch {
	case strings.HasPrefix(code, "isv.SMS_SIGNATURE"),
		strings.HasPrefix(code, "isv.SMS_TEMPLATE"),
		code == "isv.INVALID_PARAMETERS",
		code == "isv.MOBILE_NUMBER_ILLEGAL",
		code == "isv.TEMPLATE_MISSING_PARAMETERS",
		code == "isv.INVALID_JSON_PARAM":
		return true
	}
	return false
}
