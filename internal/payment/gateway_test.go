package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefundConfirmed(t *testing.T) {
	var got refundRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		assert.Equal(t, "refund-to-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(refundResponse{Status: "SUCCESS", RefundID: "rf-9"})
	}))
	defer srv.Close()

	out, err := NewGateway(srv.URL+"/", 0).Refund(context.Background(), "tok-1", decimal.RequireFromString("80.00"), "USER_CANCEL", "refund-to-1")
	require.NoError(t, err)
	assert.True(t, out.Confirmed)
	assert.Equal(t, "rf-9", out.RefundID)
	assert.Equal(t, "tok-1", got.OutTradeNo)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(80)))
}

func TestRefundPendingIsNotConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(refundResponse{Status: "PENDING", Message: "queued"})
	}))
	defer srv.Close()

	out, err := NewGateway(srv.URL, 0).Refund(context.Background(), "tok-1", decimal.NewFromInt(1), "TIMEOUT", "refund-to-1")
	require.NoError(t, err)
	assert.False(t, out.Confirmed)
	assert.Equal(t, "queued", out.Message)
}

func TestRefundServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewGateway(srv.URL, 0).Refund(context.Background(), "tok-1", decimal.NewFromInt(1), "TIMEOUT", "refund-to-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "maintenance")
}
