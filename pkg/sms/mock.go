package sms

import (
	"context"
	"errors"
	"sync"
)

type MockCall struct {
	Phone         string
	SignName      string
	TemplateCode  string
	TemplateParam string
}

// MockClient 可配置的短信客户端 mock，实现 Client 接口
type MockClient struct {
	mu    sync.Mutex
	calls []MockCall

	// failNext 大于 0 时，接下来的调用返回 mock 错误
	failNext int
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

// FailNext 接下来 n 次调用失败
func (m *MockClient) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockClient) SendSingle(_ context.Context, phone, signName, templateCode, templateParam string) (*SendResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{
		Phone:         phone,
		SignName:      signName,
		TemplateCode:  templateCode,
		TemplateParam: templateParam,
	})

	if m.failNext > 0 {
		m.failNext--
		return nil, errors.New("mock sms send failure")
	}

	return &SendResponse{
		MessageID:  "mock-message-id",
		StatusCode: "OK",
		Message:    "mock send success",
		RequestID:  "mock-request-id",
		Provider:   "mock",
		Template:   templateCode,
	}, nil
}
