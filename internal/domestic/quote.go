// Package domestic covers the KRX market endpoints: quotes, chart
// history, and cash orders.
package domestic

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"KisBridge/internal/model"
	"KisBridge/internal/paginate"
	"KisBridge/internal/transport"
)

// windowSpan is the widest date range the daily-chart endpoint honors per
// call.
const windowSpan = 99

// HistoryQuery selects a chart-history range.
type HistoryQuery struct {
	Symbol string
	// Start bounds the window below; nil walks back until the listing date.
	Start *time.Time
	// End bounds the window above; zero means today.
	End time.Time
	// Period is the bar granularity: "D", "W", "M", or "Y".
	Period string
	// Adjust requests prices adjusted for corporate actions.
	Adjust bool
	// Ascending requests oldest-first output.
	Ascending bool
	// Limit caps the number of bars; 0 means unbounded.
	Limit int
}

// Quote reads domestic market data.
type Quote struct {
	TR *transport.Transport

	now func() time.Time
}

// NewQuote creates a domestic quote reader.
func NewQuote(tr *transport.Transport) *Quote {
	return &Quote{TR: tr, now: time.Now}
}

// Price returns the current traded price as the upstream's decimal string.
func (q *Quote) Price(ctx context.Context, symbol string) (string, error) {
	env, err := q.TR.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/uapi/domestic-stock/v1/quotations/inquire-price",
		TrID:   "FHKST01010100",
		Query: url.Values{
			"fid_cond_mrkt_div_code": {"J"},
			"fid_input_iscd":         {symbol},
		},
	})
	if err != nil {
		return "", fmt.Errorf("domestic price %s: %w", symbol, err)
	}
	var out paginate.Raw
	if err := env.Field("output", &out); err != nil {
		return "", fmt.Errorf("domestic price %s: %w", symbol, err)
	}
	return out["stck_prpr"], nil
}

// History walks the daily-chart endpoint backward through 99-day windows
// until the requested range is assembled.
func (q *Quote) History(ctx context.Context, hq HistoryQuery) ([]model.OHLCV, error) {
	period := hq.Period
	if period == "" {
		period = "D"
	}
	adjFlag := "1"
	if hq.Adjust {
		adjFlag = "0"
	}

	walk := paginate.DateWalk{
		Fetch: func(ctx context.Context, end time.Time) ([]paginate.Raw, error) {
			date1 := end.AddDate(0, 0, -windowSpan)
			if hq.Start != nil && hq.Start.After(date1) {
				date1 = *hq.Start
			}
			env, err := q.TR.Do(ctx, transport.Request{
				Method: http.MethodGet,
				Path:   "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice",
				TrID:   "FHKST03010100",
				Query: url.Values{
					"FID_COND_MRKT_DIV_CODE": {"J"},
					"FID_INPUT_ISCD":         {hq.Symbol},
					"FID_INPUT_DATE_1":       {date1.Format("20060102")},
					"FID_INPUT_DATE_2":       {end.Format("20060102")},
					"FID_PERIOD_DIV_CODE":    {period},
					"FID_ORG_ADJ_PRC":        {adjFlag},
				},
			})
			if err != nil {
				return nil, err
			}
			var rows []paginate.Raw
			if err := env.Field("output2", &rows); err != nil {
				return nil, fmt.Errorf("decode chart page: %w", err)
			}
			return rows, nil
		},
		DateOf: func(r paginate.Raw) (time.Time, error) {
			return time.Parse("20060102", r["stck_bsop_date"])
		},
		KeyOf:     func(r paginate.Raw) string { return r["stck_bsop_date"] },
		Start:     hq.Start,
		End:       hq.End,
		Limit:     hq.Limit,
		Ascending: hq.Ascending,
		Now:       q.now,
	}

	raws, err := walk.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("domestic history %s: %w", hq.Symbol, err)
	}
	return model.MapOHLCV(raws, model.OHLCVFromDomestic)
}

// MinuteBars returns today's minute bars ending at the given HHMMSS time,
// most recent first, up to 30 per call. The upstream serves the current
// session only. An empty at means now; includeOffHours adds the
// after-hours single-price session.
func (q *Quote) MinuteBars(ctx context.Context, symbol, at string, includeOffHours bool) ([]model.OHLCV, error) {
	if at == "" {
		at = q.now().Format("150405")
	}
	offHours := "N"
	if includeOffHours {
		offHours = "Y"
	}
	env, err := q.TR.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice",
		TrID:   "FHKST03010200",
		Query: url.Values{
			"FID_COND_MRKT_DIV_CODE": {"J"},
			"FID_INPUT_ISCD":         {symbol},
			"FID_INPUT_HOUR_1":       {at},
			"FID_PW_DATA_INCU_YN":    {offHours},
			"FID_ETC_CLS_CODE":       {""},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("domestic minute bars %s: %w", symbol, err)
	}
	var rows []paginate.Raw
	if err := env.Field("output2", &rows); err != nil {
		return nil, fmt.Errorf("decode minute page: %w", err)
	}
	return model.MapOHLCV(rows, model.OHLCVFromDomesticMinute)
}
