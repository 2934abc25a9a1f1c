package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/ariefcatur/go-group-buy/internal/trade"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Locker interface {
	LockOrder(ctx context.Context, cmd trade.LockCommand) (orders.TradeOrderResult, error)
	QueryTradeOrder(ctx context.Context, tradeOrderID string) (orders.TradeOrderResult, error)
}

type Refunder interface {
	RefundTradeOrder(ctx context.Context, tradeOrderID string, reason trade.RefundReason) error
	OnPaymentClosed(ctx context.Context, outTradeNo string) error
}

type Settler interface {
	OnPaymentSucceeded(ctx context.Context, outTradeNo string, amount decimal.Decimal) error
	SettleCompletedOrder(ctx context.Context, teamOrderID string) (int, error)
}

type TradeHandler struct {
	Trade      Locker
	Refunds    Refunder
	Settlement Settler
	Log        *slog.Logger
}

func (h *TradeHandler) Register(r chi.Router) {
	r.Post("/trade/lock", h.lock)
	r.Get("/trade/orders/{id}", h.getOrder)
	r.Post("/trade/orders/{id}/refund", h.refund)
	r.Post("/payments/callback", h.paymentCallback)
	r.Post("/teams/{id}/settle", h.settleTeam)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// statusFor maps domain errors to HTTP; unknown errors are 500 and their
// text is not echoed back.
func statusFor(err error) (int, errorBody) {
	var rej *orders.Rejection
	if errors.As(err, &rej) {
		return http.StatusConflict, errorBody{Error: rej.Error(), Stage: rej.Stage}
	}
	body := errorBody{Error: err.Error()}
	switch {
	case errors.Is(err, orders.ErrInvalidRequest):
		return http.StatusBadRequest, body
	case errors.Is(err, orders.ErrTradeOrderNotFound),
		errors.Is(err, orders.ErrTeamNotFound),
		errors.Is(err, orders.ErrActivityNotFound),
		errors.Is(err, orders.ErrSkuNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, orders.ErrPriceMismatch),
		errors.Is(err, orders.ErrPaymentAmountMismatch),
		errors.Is(err, orders.ErrSkuFamilyMismatch),
		errors.Is(err, orders.ErrInvalidNotify):
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, orders.ErrTeamNotLockable),
		errors.Is(err, orders.ErrTeamFull),
		errors.Is(err, orders.ErrTeamClosed),
		errors.Is(err, orders.ErrChannelBlocked),
		errors.Is(err, orders.ErrConcurrentUpdate),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrRefundNotAllowed),
		errors.Is(err, orders.ErrRefundWindowClosed):
		return http.StatusConflict, body
	case errors.Is(err, orders.ErrRefundNotConfirmed):
		return http.StatusBadGateway, body
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error"}
}

func (h *TradeHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, body := statusFor(err)
	if code >= 500 {
		logging.Or(h.Log).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, body)
}

type lockReq struct {
	UserID         string               `json:"user_id"`
	ActivityID     string               `json:"activity_id"`
	SkuID          string               `json:"sku_id"`
	TeamOrderID    string               `json:"team_order_id"`
	OutTradeNo     string               `json:"out_trade_no"`
	Channel        string               `json:"channel"`
	OriginalPrice  decimal.Decimal      `json:"original_price"`
	DeductionPrice decimal.Decimal      `json:"deduction_price"`
	PayPrice       decimal.Decimal      `json:"pay_price"`
	Notify         *orders.NotifyConfig `json:"notify,omitempty"`
}

func (h *TradeHandler) lock(w http.ResponseWriter, r *http.Request) {
	var req lockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Trade.LockOrder(ctx, trade.LockCommand{
		UserID:      req.UserID,
		ActivityID:  req.ActivityID,
		SkuID:       req.SkuID,
		TeamOrderID: req.TeamOrderID,
		OutTradeNo:  req.OutTradeNo,
		Channel:     req.Channel,
		Price: orders.Price{
			Original:  req.OriginalPrice,
			Deduction: req.DeductionPrice,
			Pay:       req.PayPrice,
		},
		Notify: req.Notify,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *TradeHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Trade.QueryTradeOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type refundReq struct {
	Reason string `json:"reason"`
}

func (h *TradeHandler) refund(w http.ResponseWriter, r *http.Request) {
	req := refundReq{Reason: string(trade.ReasonUserCancel)}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
			return
		}
	}
	// other reasons are raised by the worker and sweeper, never by callers
	reason := trade.RefundReason(req.Reason)
	if reason == "" {
		reason = trade.ReasonUserCancel
	}
	if reason != trade.ReasonUserCancel {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unsupported reason"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := h.Refunds.RefundTradeOrder(ctx, id, reason); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Trade.QueryTradeOrder(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type paymentCallbackReq struct {
	OutTradeNo string          `json:"out_trade_no"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"` // SUCCESS | CLOSED
}

func (h *TradeHandler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if req.OutTradeNo == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing out_trade_no"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var err error
	switch req.Status {
	case "SUCCESS":
		err = h.Settlement.OnPaymentSucceeded(ctx, req.OutTradeNo, req.Amount)
	case "CLOSED":
		err = h.Refunds.OnPaymentClosed(ctx, req.OutTradeNo)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown status"})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (h *TradeHandler) settleTeam(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	n, err := h.Settlement.SettleCompletedOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"settled": n})
}
