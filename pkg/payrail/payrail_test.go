package payrail

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"

	"github.com/dumeirei/merch-settlement/pkg/money"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func event(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2020-08-27","data":{"object":%s}}`, id, typ, object))
}

func TestStripeParseEvent(t *testing.T) {
	g := NewStripeWebhookParser(testSecret)

	tests := []struct {
		name    string
		payload []byte
		ref     string
		status  string
		reason  string
	}{
		{"转账成功", event("evt_1", "transfer.paid", `{"id":"tr_1"}`), "tr_1", StatusSucceeded, ""},
		{"转账被撤回", event("evt_2", "transfer.reversed", `{"id":"tr_2"}`), "tr_2", StatusFailed, "transfer.reversed"},
		{"payout 失败带原因", event("evt_3", "payout.failed", `{"id":"po_1","failure_message":"account closed","metadata":{"transfer_ref":"tr_3"}}`), "tr_3", StatusFailed, "account closed"},
		{"payout 成功", event("evt_4", "payout.paid", `{"id":"po_2","metadata":{"transfer_ref":"tr_4"}}`), "tr_4", StatusSucceeded, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := g.ParseEvent(tt.payload, sign(tt.payload, testSecret, time.Now()))
			require.NoError(t, err)
			assert.Equal(t, ProviderStripe, e.Provider)
			assert.Equal(t, tt.ref, e.TransferRef)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.reason, e.FailureReason)
		})
	}
}

func TestStripeParseEvent_Rejects(t *testing.T) {
	g := NewStripeWebhookParser(testSecret)
	payload := event("evt_1", "transfer.paid", `{"id":"tr_1"}`)

	_, err := g.ParseEvent(payload, sign(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = g.ParseEvent(payload, sign(payload, testSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	other := event("evt_9", "account.updated", `{"id":"acct_1"}`)
	_, err = g.ParseEvent(other, sign(other, testSecret, time.Now()))
	assert.ErrorIs(t, err, ErrIgnoredEvent)

	noRef := event("evt_8", "payout.paid", `{"id":"po_1"}`)
	_, err = g.ParseEvent(noRef, sign(noRef, testSecret, time.Now()))
	assert.Error(t, err)
}

func TestClassifyStripeError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"网络错误", errors.New("connection reset"), false},
		{"限流", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, false},
		{"通道故障", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, false},
		{"参数错误", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest, Msg: "No such destination"}, true},
		{"幂等键冲突", &stripe.Error{HTTPStatusCode: http.StatusConflict, Type: stripe.ErrorTypeIdempotency}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, IsPermanent(classifyStripeError(tt.err)))
		})
	}
}

func TestMockGateway(t *testing.T) {
	g := NewMockGateway(nil)
	ctx := context.Background()
	in := TransferInput{Destination: "acct_1", Amount: money.New(3750, "USD"), IdempotencyKey: "payout-1"}

	g.FailNext(Transient("timeout", nil), Permanent("account_invalid", "bad account"))
	_, err := g.CreateTransfer(ctx, in)
	assert.False(t, IsPermanent(err))
	_, err = g.CreateTransfer(ctx, in)
	assert.True(t, IsPermanent(err))

	ref, err := g.CreateTransfer(ctx, in)
	require.NoError(t, err)
	again, err := g.CreateTransfer(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Len(t, g.Transfers(), 1)
	assert.Equal(t, 4, g.Calls())

	enabled, err := g.PayoutsEnabled(ctx, "acct_1")
	require.NoError(t, err)
	assert.True(t, enabled)
	g.DisableAccount("acct_1")
	enabled, _ = g.PayoutsEnabled(ctx, "acct_1")
	assert.False(t, enabled)
}
