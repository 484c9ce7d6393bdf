// Package sms 短信服务，用于向收款方推送提现结果
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dysmsapi "github.com/alibabacloud-go/dysmsapi-20170525/v3/client"
	"github.com/alibabacloud-go/tea/tea"
	"go.uber.org/zap"
)

// Sender 短信发送器接口
type Sender interface {
	Send(ctx context.Context, phone, templateCode string, params map[string]string) error
}

// AliyunConfig 阿里云短信配置
type AliyunConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	SignName        string
	Endpoint        string
}

// AliyunSender 阿里云短信发送器
type AliyunSender struct {
	client   *dysmsapi.Client
	signName string
}

// NewAliyunSender 创建阿里云短信发送器
func NewAliyunSender(cfg *AliyunConfig) (*AliyunSender, error) {
	config := &openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
	}
	if cfg.Endpoint != "" {
		config.Endpoint = tea.String(cfg.Endpoint)
	} else {
		config.Endpoint = tea.String("dysmsapi.aliyuncs.com")
	}

	client, err := dysmsapi.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sms client: %w", err)
	}
	return &AliyunSender{client: client, signName: cfg.SignName}, nil
}

// Send 发送短信
func (s *AliyunSender) Send(ctx context.Context, phone, templateCode string, params map[string]string) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("序列化参数失败: %w", err)
	}

	req := &dysmsapi.SendSmsRequest{
		PhoneNumbers:  tea.String(phone),
		SignName:      tea.String(s.signName),
		TemplateCode:  tea.String(templateCode),
		TemplateParam: tea.String(string(paramsJSON)),
	}

	resp, err := s.client.SendSms(req)
	if err != nil {
		return fmt.Errorf("发送短信失败: %w", err)
	}
	if resp.Body == nil || resp.Body.Code == nil || *resp.Body.Code != "OK" {
		msg := "未知错误"
		if resp.Body != nil && resp.Body.Message != nil {
			msg = *resp.Body.Message
		}
		return fmt.Errorf("发送短信失败: %s", msg)
	}
	return nil
}

// SentMessage 已发送的短信记录
type SentMessage struct {
	Phone        string
	TemplateCode string
	Params       map[string]string
	SentAt       time.Time
}

// MockSender 模拟发送器，记录消息并打印日志（开发与测试使用）
type MockSender struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	log          *zap.Logger
}

// NewMockSender 创建模拟发送器
func NewMockSender(log *zap.Logger) *MockSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &MockSender{log: log.Named("mock_sms")}
}

// Send 记录短信
func (s *MockSender) Send(_ context.Context, phone, templateCode string, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SentMessages = append(s.SentMessages, SentMessage{
		Phone:        phone,
		TemplateCode: templateCode,
		Params:       params,
		SentAt:       time.Now(),
	})
	s.log.Info("模拟发送短信", zap.String("phone", phone), zap.String("template", templateCode), zap.Any("params", params))
	return nil
}

// Messages 返回已发送短信副本
func (s *MockSender) Messages() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.SentMessages...)
}

// GetLastMessage 获取最后一条短信
func (s *MockSender) GetLastMessage() *SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.SentMessages) == 0 {
		return nil
	}
	msg := s.SentMessages[len(s.SentMessages)-1]
	return &msg
}

// Clear 清空记录
func (s *MockSender) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SentMessages = nil
}
