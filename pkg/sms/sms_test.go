package sms

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSender_Send(t *testing.T) {
	sender := NewMockSender(nil)
	ctx := context.Background()

	t.Run("发送短信", func(t *testing.T) {
		err := sender.Send(ctx, "13800138000", "SMS_PAYOUT_FAILED", map[string]string{
			"amount": "37.50 USD",
		})
		require.NoError(t, err)

		msg := sender.GetLastMessage()
		require.NotNil(t, msg)
		assert.Equal(t, "13800138000", msg.Phone)
		assert.Equal(t, "SMS_PAYOUT_FAILED", msg.TemplateCode)
		assert.Equal(t, "37.50 USD", msg.Params["amount"])
		assert.NotZero(t, msg.SentAt)
	})

	t.Run("清空记录", func(t *testing.T) {
		sender.Clear()
		assert.Nil(t, sender.GetLastMessage())
		assert.Empty(t, sender.Messages())
	})
}

func TestMockSender_Concurrent(t *testing.T) {
	sender := NewMockSender(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sender.Send(context.Background(), "13800138000", "T", nil)
		}()
	}
	wg.Wait()
	assert.Len(t, sender.Messages(), 20)
}

func TestNewAliyunSender(t *testing.T) {
	sender, err := NewAliyunSender(&AliyunConfig{
		AccessKeyID:     "test-key",
		AccessKeySecret: "test-secret",
		SignName:        "结算中心",
	})
	require.NoError(t, err)
	assert.Equal(t, "结算中心", sender.signName)
}

var _ Sender = (*AliyunSender)(nil)
var _ Sender = (*MockSender)(nil)
