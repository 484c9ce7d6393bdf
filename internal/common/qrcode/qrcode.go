// Package qrcode 生成推荐链接二维码
package qrcode

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// RecoveryLevel 纠错级别
type RecoveryLevel int

const (
	// Low 7% 纠错
	Low RecoveryLevel = iota
	// Medium 15% 纠错
	Medium
	// High 25% 纠错
	High
	// Highest 30% 纠错
	Highest
)

const (
	defaultSize = 256
	minSize     = 64
	maxSize     = 1024
)

// Generator 二维码生成器
type Generator struct {
	size          int
	recoveryLevel RecoveryLevel
}

// Option 生成器选项
type Option func(*Generator)

// WithSize 设置边长（像素），超出范围时取边界值
func WithSize(size int) Option {
	return func(g *Generator) {
		switch {
		case size <= 0:
			g.size = defaultSize
		case size < minSize:
			g.size = minSize
		case size > maxSize:
			g.size = maxSize
		default:
			g.size = size
		}
	}
}

// WithRecoveryLevel 设置纠错级别
func WithRecoveryLevel(level RecoveryLevel) Option {
	return func(g *Generator) {
		g.recoveryLevel = level
	}
}

// NewGenerator 创建二维码生成器
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		size:          defaultSize,
		recoveryLevel: Medium,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Size 二维码边长
func (g *Generator) Size() int {
	return g.size
}

func (g *Generator) level() qrcode.RecoveryLevel {
	switch g.recoveryLevel {
	case Low:
		return qrcode.Low
	case High:
		return qrcode.High
	case Highest:
		return qrcode.Highest
	default:
		return qrcode.Medium
	}
}

// PNG 生成 PNG 图片
func (g *Generator) PNG(content string) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("二维码内容为空")
	}
	data, err := qrcode.Encode(content, g.level(), g.size)
	if err != nil {
		return nil, fmt.Errorf("生成二维码失败: %w", err)
	}
	return data, nil
}

// DataURL 生成可直接嵌入页面的 data URL
func (g *Generator) DataURL(content string) (string, error) {
	data, err := g.PNG(content)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}
