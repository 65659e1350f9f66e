package exchange

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend_bot/internal/models"
	"trend_bot/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// стаб Bybit v5: отдаёт шаги инструмента и складывает тела ордеров
type bybitStub struct {
	srv        *httptest.Server
	orders     []map[string]any
	infoCalled int
}

func newBybitStub(t *testing.T) *bybitStub {
	t.Helper()
	s := &bybitStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/instruments-info", func(w http.ResponseWriter, _ *http.Request) {
		s.infoCalled++
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[`+
			`{"lotSizeFilter":{"qtyStep":"0.001"},"priceFilter":{"tickSize":"0.5"}}]}}`)
	})
	mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, sonic.Unmarshal(raw, &body))
		s.orders = append(s.orders, body)
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"orderId":"oid-1"}}`)
	})
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"lastPrice":"50005.5"}]}}`)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func TestSubmitRoundsToInstrumentSteps(t *testing.T) {
	stub := newBybitStub(t)
	gw := NewBybitGateway(stub.srv.URL, "key", "secret")

	intent := models.OrderIntent{
		ID:         "link-1",
		Symbol:     "BTCUSDT",
		Direction:  models.DirectionLong,
		Quantity:   decimal.NewFromFloat(0.123456),
		Entry:      decimal.NewFromInt(50000),
		StopPrice:  decimal.NewFromFloat(49500.25),
		TakeProfit: decimal.NewFromFloat(51000.3),
	}
	fill, err := gw.Submit(context.Background(), intent)
	require.NoError(t, err)

	require.Len(t, stub.orders, 1)
	body := stub.orders[0]
	// qty вниз до шага лота, стоп лонга вниз до тика, цель тоже вниз
	assert.Equal(t, "0.123", body["qty"])
	assert.Equal(t, "49500", body["stopLoss"])
	assert.Equal(t, "51000", body["takeProfit"])

	// fill несёт фактически отправленное количество и цену из тикера
	assert.True(t, fill.Quantity.Equal(decimal.NewFromFloat(0.123)), "qty=%s", fill.Quantity)
	assert.True(t, fill.Price.Equal(decimal.NewFromFloat(50005.5)), "price=%s", fill.Price)
}

func TestClosePositionRoundsQtyAndCachesRules(t *testing.T) {
	stub := newBybitStub(t)
	gw := NewBybitGateway(stub.srv.URL, "key", "secret")

	_, err := gw.ClosePosition(context.Background(), "BTCUSDT",
		models.DirectionLong, decimal.NewFromFloat(0.123456), decimal.NewFromInt(50000))
	require.NoError(t, err)

	require.Len(t, stub.orders, 1)
	assert.Equal(t, "0.123", stub.orders[0]["qty"])
	assert.Equal(t, true, stub.orders[0]["reduceOnly"])

	// шаги инструмента кэшируются, повторный запрос их не дёргает
	_, err = gw.ClosePosition(context.Background(), "BTCUSDT",
		models.DirectionLong, decimal.NewFromFloat(0.2), decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.Equal(t, 1, stub.infoCalled)
}
