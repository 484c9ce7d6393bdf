package payrail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

// ProviderStripe 通道标识
const ProviderStripe = "stripe"

// StripeConfig Stripe Connect 配置
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// StripeGateway 基于 Stripe Connect transfers 的转账通道
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway 创建 Stripe 通道
func NewStripeGateway(cfg *StripeConfig) *StripeGateway {
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}
}

// NewStripeWebhookParser 仅解析回调，不需要 API 密钥
func NewStripeWebhookParser(secret string) *StripeGateway {
	return &StripeGateway{webhookSecret: secret}
}

// CreateTransfer 向关联账户转账
func (g *StripeGateway) CreateTransfer(ctx context.Context, in TransferInput) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(in.Amount.Amount),
		Currency:    stripe.String(strings.ToLower(in.Amount.Currency)),
		Destination: stripe.String(in.Destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(in.IdempotencyKey)
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	return tr.ID, nil
}

// PayoutsEnabled 查询关联账户是否已开通转账
func (g *StripeGateway) PayoutsEnabled(ctx context.Context, destination string) (bool, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := g.api.Accounts.GetByID(destination, params)
	if err != nil {
		return false, classifyStripeError(err)
	}
	return acct.PayoutsEnabled, nil
}

// classifyStripeError 4xx 请求错误不可重试，限流、5xx 与网络错误可重试
func classifyStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return Transient("stripe request failed", err)
	}
	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode == http.StatusConflict && se.Type != stripe.ErrorTypeIdempotency,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.HTTPStatusCode == 0:
		return &Error{Code: string(se.Code), Message: se.Msg, Err: err}
	default:
		return &Error{Permanent: true, Code: string(se.Code), Message: se.Msg, Err: err}
	}
}

// stripe 回调事件到转账终态的映射
var stripeEventStatus = map[string]string{
	"transfer.paid":     StatusSucceeded,
	"payout.paid":       StatusSucceeded,
	"transfer.failed":   StatusFailed,
	"transfer.reversed": StatusFailed,
	"payout.failed":     StatusFailed,
}

type stripeObject struct {
	ID             string            `json:"id"`
	FailureCode    string            `json:"failure_code"`
	FailureMessage string            `json:"failure_message"`
	Metadata       map[string]string `json:"metadata"`
}

// ParseEvent 校验签名并解析回调
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*TransferStatusEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	eventType := string(evt.Type)
	status, ok := stripeEventStatus[eventType]
	if !ok {
		return nil, ErrIgnoredEvent
	}
	if evt.Data == nil {
		return nil, errors.New("payrail: stripe event without data")
	}

	var obj stripeObject
	if err := json.Unmarshal(evt.Data.Raw, &obj); err != nil {
		return nil, err
	}

	ref := obj.ID
	if strings.HasPrefix(eventType, "payout.") {
		// 关联账户的 payout 事件通过 metadata 回指平台侧转账
		ref = obj.Metadata["transfer_ref"]
	}
	if ref == "" {
		return nil, errors.New("payrail: stripe event without transfer reference")
	}

	out := &TransferStatusEvent{
		Provider:    ProviderStripe,
		EventID:     evt.ID,
		Type:        eventType,
		TransferRef: ref,
		Status:      status,
	}
	if status == StatusFailed {
		out.FailureReason = firstNonEmpty(obj.FailureMessage, obj.FailureCode, eventType)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
