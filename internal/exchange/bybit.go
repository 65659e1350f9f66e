package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"trend_bot/internal/helper"
	"trend_bot/internal/models"
	"trend_bot/pkg/logger"
)

const recvWindow = "5000"

// BybitGateway — live-реализация Gateway поверх Bybit v5 REST.
type BybitGateway struct {
	http      *http.Client
	host      string
	apiKey    string
	apiSecret string

	mu    sync.RWMutex
	rules map[string]instrumentRule
}

func NewBybitGateway(host, apiKey, apiSecret string) *BybitGateway {
	return &BybitGateway{
		http:      &http.Client{Timeout: 10 * time.Second},
		host:      strings.TrimSuffix(host, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		rules:     make(map[string]instrumentRule),
	}
}

// instrumentRule — шаги инструмента: qty и цены должны быть кратны
// шагу, иначе биржа отвергает ордер.
type instrumentRule struct {
	qtyStep  float64
	tickSize float64
}

func (g *BybitGateway) rule(ctx context.Context, symbol string) instrumentRule {
	g.mu.RLock()
	r, ok := g.rules[symbol]
	g.mu.RUnlock()
	if ok {
		return r
	}

	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	var res struct {
		List []struct {
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := g.do(ctx, http.MethodGet, "/v5/market/instruments-info", q, nil, &res); err != nil || len(res.List) == 0 {
		// без шагов отправляем как есть, биржа сама решит
		logger.Warn("[BYBIT] instrument info %s unavailable: %v", symbol, err)
		return instrumentRule{}
	}
	step, _ := strconv.ParseFloat(res.List[0].LotSizeFilter.QtyStep, 64)
	tick, _ := strconv.ParseFloat(res.List[0].PriceFilter.TickSize, 64)

	r = instrumentRule{qtyStep: step, tickSize: tick}
	g.mu.Lock()
	g.rules[symbol] = r
	g.mu.Unlock()
	return r
}

func roundQty(q decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return q
	}
	return decimal.NewFromFloat(helper.RoundDownToTick(q.InexactFloat64(), step))
}

// roundPrice прижимает цену к тику: для лонга вниз, для шорта вверх —
// стоп не становится ближе к входу, чем посчитал риск-движок.
func roundPrice(p decimal.Decimal, tick float64, down bool) decimal.Decimal {
	if tick <= 0 || p.IsZero() {
		return p
	}
	if down {
		return decimal.NewFromFloat(helper.RoundDownToTick(p.InexactFloat64(), tick))
	}
	return decimal.NewFromFloat(helper.RoundUpToTick(p.InexactFloat64(), tick))
}

type bybitResp struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  sonicRawMessage `json:"result"`
}

type sonicRawMessage []byte

func (m *sonicRawMessage) UnmarshalJSON(b []byte) error {
	*m = append((*m)[:0], b...)
	return nil
}

func (g *BybitGateway) sign(ts, payload string) string {
	h := hmac.New(sha256.New, []byte(g.apiSecret))
	h.Write([]byte(ts + g.apiKey + recvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

func (g *BybitGateway) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var (
		payload string
		reader  io.Reader
	)
	if body != nil {
		bs, err := sonic.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		payload = string(bs)
		reader = strings.NewReader(payload)
	} else if len(query) > 0 {
		payload = query.Encode()
		path = path + "?" + payload
	}

	req, err := http.NewRequestWithContext(ctx, method, g.host+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", g.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", g.sign(ts, payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return errors.Wrapf(models.ErrSubmissionFailed, "http: %v", err)
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return errors.Wrapf(models.ErrSubmissionFailed, "http %d: %s", resp.StatusCode, string(rb))
	}

	var br bybitResp
	if err := sonic.Unmarshal(rb, &br); err != nil {
		return errors.Wrap(err, "unmarshal response")
	}
	if br.RetCode != 0 {
		return errors.Wrapf(models.ErrSubmissionFailed, "bybit retCode=%d msg=%s", br.RetCode, br.RetMsg)
	}
	if out != nil {
		if err := sonic.Unmarshal(br.Result, out); err != nil {
			return errors.Wrap(err, "unmarshal result")
		}
	}
	return nil
}

func (g *BybitGateway) Submit(ctx context.Context, intent models.OrderIntent) (models.Fill, error) {
	side := "Buy"
	if intent.Direction == models.DirectionShort {
		side = "Sell"
	}

	linkID := intent.ID
	if linkID == "" {
		linkID = uuid.NewString()
	}

	r := g.rule(ctx, intent.Symbol)
	down := intent.Direction == models.DirectionLong
	qty := roundQty(intent.Quantity, r.qtyStep)

	body := map[string]string{
		"category":    "linear",
		"symbol":      intent.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         qty.String(),
		"orderLinkId": linkID,
		"stopLoss":    roundPrice(intent.StopPrice, r.tickSize, down).String(),
	}
	if !intent.TakeProfit.IsZero() {
		body["takeProfit"] = roundPrice(intent.TakeProfit, r.tickSize, down).String()
	}

	var res struct {
		OrderID string `json:"orderId"`
	}
	if err := g.do(ctx, http.MethodPost, "/v5/order/create", nil, body, &res); err != nil {
		return models.Fill{}, err
	}

	// маркет-ордер: берём цену исполнения из тикера
	px, err := g.lastPrice(ctx, intent.Symbol)
	if err != nil {
		// ордер уже размещён, цену не достали — считаем по интенту
		logger.Warn("[BYBIT] %s: fill price fallback to intent entry: %v", intent.Symbol, err)
		px = intent.Entry
	}

	return models.Fill{
		OrderID:  res.OrderID,
		Symbol:   intent.Symbol,
		Price:    px,
		Quantity: qty,
		At:       time.Now(),
	}, nil
}

func (g *BybitGateway) ClosePosition(ctx context.Context, symbol string, dir models.Direction, qty, refPrice decimal.Decimal) (models.Fill, error) {
	// закрывающий ордер — противоположной стороной, reduceOnly
	side := "Sell"
	if dir == models.DirectionShort {
		side = "Buy"
	}
	body := map[string]any{
		"category":   "linear",
		"symbol":     symbol,
		"side":       side,
		"orderType":  "Market",
		"qty":        roundQty(qty, g.rule(ctx, symbol).qtyStep).String(),
		"reduceOnly": true,
	}

	var res struct {
		OrderID string `json:"orderId"`
	}
	if err := g.do(ctx, http.MethodPost, "/v5/order/create", nil, body, &res); err != nil {
		return models.Fill{}, err
	}

	px, err := g.lastPrice(ctx, symbol)
	if err != nil {
		px = refPrice
	}
	return models.Fill{
		OrderID:  res.OrderID,
		Symbol:   symbol,
		Price:    px,
		Quantity: qty,
		At:       time.Now(),
	}, nil
}

func (g *BybitGateway) Cancel(ctx context.Context, orderID string) error {
	body := map[string]string{
		"category": "linear",
		"orderId":  orderID,
	}
	return g.do(ctx, http.MethodPost, "/v5/order/cancel", nil, body, nil)
}

func (g *BybitGateway) Balance(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	q.Set("coin", "USDT")

	var res struct {
		List []struct {
			Coin []struct {
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := g.do(ctx, http.MethodGet, "/v5/account/wallet-balance", q, nil, &res); err != nil {
		return decimal.Zero, err
	}
	if len(res.List) == 0 || len(res.List[0].Coin) == 0 {
		return decimal.Zero, errors.New("empty wallet balance response")
	}
	return decimal.NewFromString(res.List[0].Coin[0].WalletBalance)
}

func (g *BybitGateway) OpenPositions(ctx context.Context) ([]models.ExternalPosition, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("settleCoin", "USDT")

	var res struct {
		List []struct {
			Symbol   string `json:"symbol"`
			Side     string `json:"side"` // Buy/Sell
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
			MarkPx   string `json:"markPrice"`
		} `json:"list"`
	}
	if err := g.do(ctx, http.MethodGet, "/v5/position/list", q, nil, &res); err != nil {
		return nil, err
	}

	out := make([]models.ExternalPosition, 0, len(res.List))
	for _, p := range res.List {
		size, err := decimal.NewFromString(p.Size)
		if err != nil || size.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.AvgPrice)
		mark, _ := decimal.NewFromString(p.MarkPx)
		dir := models.DirectionLong
		if p.Side == "Sell" {
			dir = models.DirectionShort
		}
		out = append(out, models.ExternalPosition{
			Symbol:    p.Symbol,
			Direction: dir,
			Quantity:  size,
			Entry:     entry,
			LastPrice: mark,
		})
	}
	return out, nil
}

func (g *BybitGateway) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	var res struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := g.do(ctx, http.MethodGet, "/v5/market/tickers", q, nil, &res); err != nil {
		return decimal.Zero, err
	}
	if len(res.List) == 0 {
		return decimal.Zero, errors.Errorf("no ticker for %s", symbol)
	}
	return decimal.NewFromString(res.List[0].LastPrice)
}
