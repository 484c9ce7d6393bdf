package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/pkg/payrail"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubParser struct {
	evt *payrail.TransferStatusEvent
	err error
	sig string
}

func (p *stubParser) ParseEvent(_ []byte, signature string) (*payrail.TransferStatusEvent, error) {
	p.sig = signature
	return p.evt, p.err
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, evt *payrail.TransferStatusEvent) (string, error) {
	args := m.Called(ctx, evt)
	return args.String(0), args.Error(1)
}

func serve(h *Handler) *httptest.ResponseRecorder {
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestStripeWebhook_Applied(t *testing.T) {
	evt := &payrail.TransferStatusEvent{Provider: payrail.ProviderStripe, EventID: "evt_1", TransferRef: "tr_1", Status: payrail.StatusSucceeded}
	parser := &stubParser{evt: evt}
	rec := &mockReconciler{}
	rec.On("Reconcile", mock.Anything, evt).Return(models.TransferOutcomeApplied, nil).Once()

	w := serve(NewHandler(parser, rec, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t=1,v1=abc", parser.sig)
	assert.Contains(t, w.Body.String(), `"outcome":"applied"`)
	rec.AssertExpectations(t)
}

func TestStripeWebhook_InvalidSignatureSkipsReconcile(t *testing.T) {
	parser := &stubParser{err: fmt.Errorf("%w: no matching v1", payrail.ErrInvalidSignature)}
	rec := &mockReconciler{}

	w := serve(NewHandler(parser, rec, nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrWebhookSignature.Code, decode(t, w).Code)
	rec.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestStripeWebhook_IgnoredEvent(t *testing.T) {
	rec := &mockReconciler{}
	w := serve(NewHandler(&stubParser{err: payrail.ErrIgnoredEvent}, rec, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"ignored"`)
	rec.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestStripeWebhook_ReconcileErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"数据库故障让通道重投", errors.ErrDatabaseError.WithError(fmt.Errorf("conn reset")), http.StatusInternalServerError},
		{"无法识别的状态", errors.ErrWebhookPayload, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := &payrail.TransferStatusEvent{EventID: "evt_2", TransferRef: "tr_2", Status: "weird"}
			rec := &mockReconciler{}
			rec.On("Reconcile", mock.Anything, evt).Return("", tt.err)

			w := serve(NewHandler(&stubParser{evt: evt}, rec, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestStripeWebhook_MalformedPayload(t *testing.T) {
	w := serve(NewHandler(&stubParser{err: fmt.Errorf("unexpected end of JSON input")}, &mockReconciler{}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrWebhookPayload.Code, decode(t, w).Code)
}
