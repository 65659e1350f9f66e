package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
)

// History — REST-загрузка закрытых свечей для прогрева индикаторов.
type History struct {
	cfg  *config.Config
	http *http.Client
}

func NewHistory(cfg *config.Config) *History {
	return &History{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type klineResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// Klines тянет последние limit свечей, отдаёт их по возрастанию времени.
// Последняя свеча у Bybit незакрытая — её отбрасываем.
func (h *History) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]models.CandleTick, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("interval", BybitInterval(timeframe))
	q.Set("limit", strconv.Itoa(limit+1))

	u := fmt.Sprintf("%s/v5/market/kline?%s", h.cfg.Exchange.RESTHost, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "kline request")
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "kline %s %s", symbol, timeframe)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "kline body")
	}
	var kr klineResp
	if err := sonic.Unmarshal(raw, &kr); err != nil {
		return nil, errors.Wrap(err, "kline decode")
	}
	if kr.RetCode != 0 {
		return nil, errors.Errorf("kline %s: retCode=%d %s", symbol, kr.RetCode, kr.RetMsg)
	}

	// список приходит от новых к старым: [ts, o, h, l, c, vol, turnover]
	list := kr.Result.List
	bars := make([]models.CandleTick, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		row := list[i]
		if len(row) < 6 {
			continue
		}
		tsMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		end := tsMs + tfMillis(timeframe)
		tick, ok := rowToTick(symbol, timeframe, row[1], row[2], row[3], row[4], row[5], tsMs, end)
		if !ok {
			continue
		}
		bars = append(bars, tick)
	}
	if len(bars) > 0 {
		// последняя свеча ещё идёт
		bars = bars[:len(bars)-1]
	}
	return bars, nil
}

func rowToTick(symbol, timeframe, o, hi, lo, cl, vol string, startMs, endMs int64) (models.CandleTick, bool) {
	open, err1 := strconv.ParseFloat(o, 64)
	high, err2 := strconv.ParseFloat(hi, 64)
	low, err3 := strconv.ParseFloat(lo, 64)
	closep, err4 := strconv.ParseFloat(cl, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || closep <= 0 {
		return models.CandleTick{}, false
	}
	volume, _ := strconv.ParseFloat(vol, 64)
	return models.CandleTick{
		Symbol:       symbol,
		Open:         open,
		High:         high,
		Low:          low,
		Close:        closep,
		Volume:       volume,
		Start:        time.UnixMilli(startMs),
		End:          time.UnixMilli(endMs),
		TimeframeRaw: timeframe,
	}, true
}

func tfMillis(tf string) int64 {
	switch BybitInterval(tf) {
	case "D":
		return 24 * 60 * 60 * 1000
	default:
		m, err := strconv.ParseInt(BybitInterval(tf), 10, 64)
		if err != nil {
			return 0
		}
		return m * 60 * 1000
	}
}
