// Package oss 对象存储服务，用于保存对账单等导出文件
package oss

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// Storage 对象存储接口
type Storage interface {
	Put(ctx context.Context, objectKey string, reader io.Reader, contentType string) (string, error)
	SignedURL(objectKey string, expires time.Duration) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

// AliyunConfig 阿里云 OSS 配置
type AliyunConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
	Domain          string // 自定义域名（可选）
	BasePath        string // 基础路径，如 "statements/"
}

// AliyunStorage 阿里云 OSS 存储
type AliyunStorage struct {
	bucket *oss.Bucket
	config *AliyunConfig
}

// NewAliyunStorage 创建阿里云 OSS 存储
func NewAliyunStorage(config *AliyunConfig) (*AliyunStorage, error) {
	client, err := oss.New(config.Endpoint, config.AccessKeyID, config.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("创建 OSS 客户端失败: %w", err)
	}

	bucket, err := client.Bucket(config.BucketName)
	if err != nil {
		return nil, fmt.Errorf("获取 Bucket 失败: %w", err)
	}

	return &AliyunStorage{bucket: bucket, config: config}, nil
}

// Put 上传对象，返回访问地址
func (s *AliyunStorage) Put(_ context.Context, objectKey string, reader io.Reader, contentType string) (string, error) {
	fullKey := s.fullKey(objectKey)
	opts := []oss.Option{oss.ContentDisposition("attachment")}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	if err := s.bucket.PutObject(fullKey, reader, opts...); err != nil {
		return "", fmt.Errorf("上传文件失败: %w", err)
	}
	return s.url(fullKey), nil
}

// SignedURL 获取带签名的临时下载地址
func (s *AliyunStorage) SignedURL(objectKey string, expires time.Duration) (string, error) {
	return s.bucket.SignURL(s.fullKey(objectKey), oss.HTTPGet, int64(expires.Seconds()))
}

// Delete 删除对象
func (s *AliyunStorage) Delete(_ context.Context, objectKey string) error {
	return s.bucket.DeleteObject(s.fullKey(objectKey))
}

func (s *AliyunStorage) url(fullKey string) string {
	if s.config.Domain != "" {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(s.config.Domain, "/"), fullKey)
	}
	return fmt.Sprintf("https://%s.%s/%s", s.config.BucketName, s.config.Endpoint, fullKey)
}

func (s *AliyunStorage) fullKey(objectKey string) string {
	if s.config.BasePath == "" {
		return objectKey
	}
	return path.Join(s.config.BasePath, objectKey)
}

// MockStorage 内存存储（开发与测试使用）
type MockStorage struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Types   map[string]string
}

// NewMockStorage 创建内存存储
func NewMockStorage() *MockStorage {
	return &MockStorage{
		Objects: make(map[string][]byte),
		Types:   make(map[string]string),
	}
}

// Put 保存对象
func (s *MockStorage) Put(_ context.Context, objectKey string, reader io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[objectKey] = data
	s.Types[objectKey] = contentType
	return "https://mock-oss.example.com/" + objectKey, nil
}

// SignedURL 返回模拟签名地址
func (s *MockStorage) SignedURL(objectKey string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://mock-oss.example.com/%s?expires=%d", objectKey, time.Now().Add(expires).Unix()), nil
}

// Delete 删除对象
func (s *MockStorage) Delete(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, objectKey)
	delete(s.Types, objectKey)
	return nil
}

// Get 读取对象
func (s *MockStorage) Get(objectKey string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Objects[objectKey]
	return data, ok
}
