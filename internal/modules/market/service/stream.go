package service

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"trend_bot/internal/models"
	"trend_bot/internal/modules/config"
	"trend_bot/pkg/logger"
)

// Client — стример закрытых свечей Bybit v5 (public linear).
type Client struct {
	cfg      *config.Config
	wsDialer *websocket.Dialer
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:      cfg,
		wsDialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// BybitInterval переводит "5m"/"1h" в сырой интервал Bybit ("5"/"60").
func BybitInterval(tf string) string {
	tf = strings.ToLower(strings.TrimSpace(tf))
	switch {
	case strings.HasSuffix(tf, "m"):
		return strings.TrimSuffix(tf, "m")
	case strings.HasSuffix(tf, "h"):
		switch tf {
		case "1h":
			return "60"
		case "2h":
			return "120"
		case "4h":
			return "240"
		case "6h":
			return "360"
		case "12h":
			return "720"
		}
	case tf == "1d":
		return "D"
	}
	return tf
}

type klineFrame struct {
	Topic string `json:"topic"`
	Data  []struct {
		Start    int64  `json:"start"`
		End      int64  `json:"end"`
		Interval string `json:"interval"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
		Confirm  bool   `json:"confirm"`
	} `json:"data"`
}

// StreamKlines — один WebSocket на таймфрейм с пачкой символов в подписке.
// Наружу уходят только подтверждённые (закрытые) свечи.
func (c *Client) StreamKlines(ctx context.Context, symbols []string, timeframe string) <-chan models.CandleTick {
	ch := make(chan models.CandleTick)

	go func() {
		defer close(ch)

		if len(symbols) == 0 {
			return
		}

		interval := BybitInterval(timeframe)
		args := make([]string, 0, len(symbols))
		for _, s := range symbols {
			args = append(args, "kline."+interval+"."+s)
		}

		for {
			logger.Info("[WS] connect %s %d symbols", timeframe, len(symbols))
			conn, _, err := c.wsDialer.Dial(c.cfg.Exchange.WSHost, nil)
			if err != nil {
				logger.Info("[WS] dial error %s: %v", timeframe, err)
				if sleepOrDone(ctx, time.Second) {
					return
				}
				continue
			}

			sub := map[string]any{"op": "subscribe", "args": args}
			if err := conn.WriteJSON(sub); err != nil {
				logger.Info("[WS] subscribe error %s: %v", timeframe, err)
				_ = conn.Close()
				continue
			}

			// keepalive ping каждые 20s — иначе Bybit рвёт соединение
			stopPing := make(chan struct{})
			go func() {
				t := time.NewTicker(20 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-stopPing:
						return
					case <-t.C:
						_ = conn.WriteJSON(map[string]string{"op": "ping"})
					}
				}
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					logger.Info("[WS] read error %s: %v", timeframe, err)
					_ = conn.Close()
					close(stopPing)
					break
				}

				var frame klineFrame
				if err := sonic.Unmarshal(msg, &frame); err != nil {
					continue
				}
				if !strings.HasPrefix(frame.Topic, "kline.") || len(frame.Data) == 0 {
					continue
				}
				// topic: kline.{interval}.{symbol}
				parts := strings.SplitN(frame.Topic, ".", 3)
				if len(parts) != 3 {
					continue
				}
				symbol := parts[2]

				for _, row := range frame.Data {
					if !row.Confirm {
						continue // ждём закрытую свечу
					}
					tick, ok := rowToTick(symbol, timeframe, row.Open, row.High, row.Low, row.Close, row.Volume, row.Start, row.End)
					if !ok {
						continue
					}
					select {
					case ch <- tick:
					case <-ctx.Done():
						_ = conn.Close()
						return
					}
				}
			}

			if sleepOrDone(ctx, time.Second) {
				return
			}
		}
	}()

	return ch
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}
