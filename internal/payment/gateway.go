// Package payment is the refund client of the payment channel.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/trade"
	"github.com/shopspring/decimal"
)

type Gateway struct {
	baseURL string
	hc      *http.Client
}

func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

type refundRequest struct {
	OutTradeNo string          `json:"out_trade_no"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	RequestID  string          `json:"request_id"`
}

type refundResponse struct {
	Status   string `json:"status"` // SUCCESS | PENDING | FAILED
	RefundID string `json:"refund_id"`
	Message  string `json:"message"`
}

// Refund asks the channel to return amount. requestID is sent as the
// idempotency key so a retried refund is not paid out twice.
func (g *Gateway) Refund(ctx context.Context, outTradeNo string, amount decimal.Decimal, reason, requestID string) (trade.RefundOutcome, error) {
	body, err := json.Marshal(refundRequest{
		OutTradeNo: outTradeNo,
		Amount:     amount,
		Reason:     reason,
		RequestID:  requestID,
	})
	if err != nil {
		return trade.RefundOutcome{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return trade.RefundOutcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", requestID)

	resp, err := g.hc.Do(req)
	if err != nil {
		return trade.RefundOutcome{}, fmt.Errorf("refund %s: %w", outTradeNo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return trade.RefundOutcome{}, fmt.Errorf("refund %s: status %d: %s", outTradeNo, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out refundResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return trade.RefundOutcome{}, fmt.Errorf("refund %s: decode response: %w", outTradeNo, err)
	}
	return trade.RefundOutcome{
		Confirmed: out.Status == "SUCCESS",
		RefundID:  out.RefundID,
		Message:   out.Message,
	}, nil
}
