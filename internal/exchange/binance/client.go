// Package binance implements the live ExchangeClient against Binance
// Futures: HMAC-signed REST for order submission/account inspection
// (spec §6, "REST interface ... HMAC-SHA256 authenticated") and a
// resilient WebSocket stream for market data.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market_maker/internal/apperrors"
	"market_maker/internal/logging"
	"market_maker/internal/model"
)

const defaultBaseURL = "https://fapi.binance.com"

// Config holds the credentials and endpoint override for a Client.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
}

// Client is the live Binance Futures ExchangeClient. Only the order
// executor is ever handed a *Client (spec §4.1 visibility constraint).
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logging.Logger

	// wireToPair maps Binance's unseparated symbol ("BTCUSDT") back to the
	// "BTC/USDT" pair notation used everywhere else in the core.
	wireToPair map[string]string
}

// New creates a Binance REST client. baseURL defaults to the production
// Futures API host when cfg.BaseURL is empty. pairs lists every configured
// trading pair so wire symbols can be mapped back to "BASE/QUOTE" notation.
func New(cfg Config, pairs []string, logger logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	wireToPair := make(map[string]string, len(pairs))
	for _, p := range pairs {
		wireToPair[strings.ReplaceAll(p, "/", "")] = p
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		wireToPair: wireToPair,
	}
}

// SubmitOrder places the order via signed REST POST /fapi/v1/order. It is
// time-bounded by the caller's context (spec §4.6, 10s default) and is
// never retried here; the executor does not retry failed submissions
// either.
func (c *Client) SubmitOrder(ctx context.Context, order model.Order) (model.Fill, error) {
	q := url.Values{}
	q.Set("symbol", strings.ReplaceAll(order.Pair, "/", ""))
	q.Set("side", order.Side.String())
	q.Set("type", orderTypeParam(order.Kind))
	q.Set("quantity", order.Quantity.String())
	if order.ClientOrderID != "" {
		q.Set("newClientOrderId", order.ClientOrderID)
	}

	body, status, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", q)
	if err != nil {
		return model.Fill{}, err
	}
	if status != http.StatusOK {
		return model.Fill{}, classifyHTTPError(status, body)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Fill{}, &apperrors.SubmissionError{Kind: apperrors.Transport, Retryable: true, Err: err}
	}

	price, _ := decimal.NewFromString(resp.AvgPrice)
	if price.IsZero() {
		price, _ = decimal.NewFromString(resp.Price)
	}
	qty, _ := decimal.NewFromString(resp.ExecutedQty)

	return model.Fill{
		Pair:          order.Pair,
		Side:          order.Side,
		ExecutedPrice: price,
		ExecutedQty:   qty,
		ExecutedAt:    time.UnixMilli(resp.UpdateTime),
		ExchangeID:    strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Mode:          model.Live,
		Origin:        order.Origin,
	}, nil
}

// OpenPositions lists positions Binance currently reports, for the
// startup/reconnect reconciliation pass (spec §4.2).
func (c *Client) OpenPositions(ctx context.Context) ([]model.Position, error) {
	body, status, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyHTTPError(status, body)
	}

	var raw []positionRisk
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode positions: %w", err)
	}

	var out []model.Position
	for _, p := range raw {
		amt, _ := decimal.NewFromString(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)
		side := model.Buy
		if amt.IsNegative() {
			side = model.Sell
			amt = amt.Abs()
		}
		pair, known := c.wireToPair[p.Symbol]
		if !known {
			continue
		}
		out = append(out, model.Position{
			Pair:     pair,
			Side:     side,
			Entry:    entry,
			Quantity: amt,
			Mode:     model.Live,
		})
	}
	return out, nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
	UpdateTime    int64  `json:"updateTime"`
}

type positionRisk struct {
	Symbol       string `json:"symbol"`
	PositionAmt  string `json:"positionAmt"`
	EntryPrice   string `json:"entryPrice"`
}

func orderTypeParam(k model.OrderKind) string {
	if k == model.Limit {
		return "LIMIT"
	}
	return "MARKET"
}

// signedRequest adds timestamp+HMAC-SHA256 signature and executes the request.
func (c *Client) signedRequest(ctx context.Context, method, path string, q url.Values) ([]byte, int, error) {
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("recvWindow", "5000")

	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &apperrors.SubmissionError{Kind: apperrors.Transport, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &apperrors.SubmissionError{Kind: apperrors.Transport, Retryable: true, Err: err}
	}
	return body, resp.StatusCode, nil
}

func classifyHTTPError(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case status == http.StatusUnauthorized || apiErr.Code == -2015:
		return &apperrors.SubmissionError{Kind: apperrors.Rejected, Reason: "authentication failed", Err: apperrors.ErrAuthFailed}
	case apiErr.Code == -2019 || apiErr.Code == -2018:
		return &apperrors.SubmissionError{Kind: apperrors.InsufficientFunds, Err: apperrors.ErrInsufficientFunds}
	case status == http.StatusTooManyRequests || status == http.StatusIMUsed:
		return &apperrors.SubmissionError{Kind: apperrors.Transport, Retryable: true, Err: apperrors.ErrRateLimitExceeded}
	case status >= 500:
		return &apperrors.SubmissionError{Kind: apperrors.Transport, Retryable: true, Err: fmt.Errorf("binance: server error %d", status)}
	default:
		return &apperrors.SubmissionError{Kind: apperrors.Rejected, Reason: apiErr.Msg, Err: apperrors.ErrOrderRejected}
	}
}
