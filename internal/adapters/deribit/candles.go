package deribit

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/alejandrodnm/perpbot/internal/timeutil"
)

const sourceName = "deribit"

// chartData es el payload de public/get_tradingview_chart_data:
// arrays paralelos indexados por tick.
type chartData struct {
	Status string    `json:"status"`
	Ticks  []int64   `json:"ticks"`
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume"`
}

// FetchCandles trae las velas de [startTs, endTs] para el instrumento y
// resolución dados, ascendentes por ts. Deribit acota el tamaño de la
// respuesta por su cuenta; limit recorta por encima de eso.
func (c *Client) FetchCandles(ctx context.Context, symbol string, tfMin int, startTs, endTs int64, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("instrument_name", symbol)
	q.Set("resolution", fmt.Sprint(tfMin))
	q.Set("start_timestamp", fmt.Sprint(startTs))
	q.Set("end_timestamp", fmt.Sprint(endTs))

	var data chartData
	endpoint := c.baseURL + "/public/get_tradingview_chart_data?" + q.Encode()
	if err := c.get(ctx, endpoint, &data); err != nil {
		return nil, fmt.Errorf("deribit.FetchCandles: %w", err)
	}

	if data.Status == "no_data" || len(data.Ticks) == 0 {
		return nil, nil
	}
	n := len(data.Ticks)
	if len(data.Open) != n || len(data.High) != n || len(data.Low) != n ||
		len(data.Close) != n || len(data.Volume) != n {
		return nil, fmt.Errorf("deribit.FetchCandles: ragged chart arrays (ticks=%d)", n)
	}

	candles := make([]domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, domain.Candle{
			Symbol:       symbol,
			TimeframeMin: tfMin,
			Ts:           timeutil.FloorMinutes(data.Ticks[i], tfMin),
			Open:         data.Open[i],
			High:         data.High[i],
			Low:          data.Low[i],
			Close:        data.Close[i],
			Volume:       data.Volume[i],
			Source:       sourceName,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Ts < candles[j].Ts })

	if limit > 0 && len(candles) > limit {
		candles = candles[:limit]
	}
	return candles, nil
}
