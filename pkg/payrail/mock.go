package payrail

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ProviderMock 通道标识
const ProviderMock = "mock"

// MockTransfer 模拟转账记录
type MockTransfer struct {
	Ref   string
	Input TransferInput
}

// MockGateway 测试与本地开发用的内存通道
//
// 与真实通道一致，同一幂等键只会产生一笔转账。
type MockGateway struct {
	mu        sync.Mutex
	log       *zap.Logger
	seq       int
	byKey     map[string]string
	transfers []MockTransfer
	failures  []error
	disabled  map[string]bool
	calls     int
}

// NewMockGateway 创建模拟通道
func NewMockGateway(log *zap.Logger) *MockGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &MockGateway{
		log:      log.Named("payrail.mock"),
		byKey:    make(map[string]string),
		disabled: make(map[string]bool),
	}
}

// FailNext 依次让后续调用返回给定错误
func (g *MockGateway) FailNext(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = append(g.failures, errs...)
}

// DisableAccount 标记收款账户未开通转账
func (g *MockGateway) DisableAccount(destination string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabled[destination] = true
}

// CreateTransfer 模拟转账
func (g *MockGateway) CreateTransfer(ctx context.Context, in TransferInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Transient("context done", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++

	if len(g.failures) > 0 {
		err := g.failures[0]
		g.failures = g.failures[1:]
		return "", err
	}
	if ref, ok := g.byKey[in.IdempotencyKey]; ok {
		return ref, nil
	}

	g.seq++
	ref := fmt.Sprintf("tr_mock_%06d", g.seq)
	g.byKey[in.IdempotencyKey] = ref
	g.transfers = append(g.transfers, MockTransfer{Ref: ref, Input: in})
	g.log.Info("模拟转账", zap.String("transfer_ref", ref), zap.String("destination", in.Destination),
		zap.Int64("amount", in.Amount.Amount), zap.String("currency", in.Amount.Currency))
	return ref, nil
}

// PayoutsEnabled 模拟账户查询
func (g *MockGateway) PayoutsEnabled(_ context.Context, destination string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.disabled[destination], nil
}

// Transfers 已产生的转账
func (g *MockGateway) Transfers() []MockTransfer {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]MockTransfer, len(g.transfers))
	copy(out, g.transfers)
	return out
}

// Calls 调用次数，包含失败与幂等命中
func (g *MockGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
