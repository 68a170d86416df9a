// Package overseas covers the non-KRX market endpoints: quotes, chart
// history, orders, and account state.
package overseas

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"KisBridge/internal/model"
	"KisBridge/internal/paginate"
	"KisBridge/internal/transport"
)

// minutePageSize is the record count requested per minute-chart call.
const minutePageSize = 120

// HistoryQuery selects a daily-chart range on one exchange.
type HistoryQuery struct {
	Symbol   string
	Exchange string
	// Start bounds the window below; nil walks back until listing.
	Start *time.Time
	// End bounds the window above; zero means today.
	End time.Time
	// Period is the bar granularity: "D", "W", or "M".
	Period    string
	Adjust    bool
	Ascending bool
	Limit     int
}

// MinuteQuery selects an intraday range on one exchange.
type MinuteQuery struct {
	Symbol   string
	Exchange string
	// Interval is the bar width in minutes; 0 means 1.
	Interval  int
	Start     *time.Time
	End       time.Time
	Ascending bool
	Limit     int
}

var periodCodes = map[string]string{"D": "0", "W": "1", "M": "2"}

// Quote reads overseas market data.
type Quote struct {
	TR *transport.Transport

	now func() time.Time
}

// NewQuote creates an overseas quote reader.
func NewQuote(tr *transport.Transport) *Quote {
	return &Quote{TR: tr, now: time.Now}
}

// Price returns the last traded price as the upstream's decimal string.
// The exchange code is the quote variant (NAS, NYS, ...).
func (q *Quote) Price(ctx context.Context, exchange, symbol string) (string, error) {
	env, err := q.TR.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/uapi/overseas-price/v1/quotations/price",
		TrID:   "HHDFS00000300",
		Query: url.Values{
			"AUTH": {""},
			"EXCD": {exchange},
			"SYMB": {symbol},
		},
	})
	if err != nil {
		return "", fmt.Errorf("overseas price %s/%s: %w", exchange, symbol, err)
	}
	var out paginate.Raw
	if err := env.Field("output", &out); err != nil {
		return "", fmt.Errorf("overseas price %s/%s: %w", exchange, symbol, err)
	}
	return out["last"], nil
}

// History walks the dailyprice endpoint backward. The endpoint takes only
// an end date (BYMD) and returns a fixed-size page before it, so the
// window's start bound is enforced client-side.
func (q *Quote) History(ctx context.Context, hq HistoryQuery) ([]model.OHLCV, error) {
	gubn, ok := periodCodes[hq.Period]
	if !ok {
		if hq.Period == "" {
			gubn = "0"
		} else {
			return nil, fmt.Errorf("invalid period %q", hq.Period)
		}
	}
	modp := "0"
	if hq.Adjust {
		modp = "1"
	}

	walk := paginate.DateWalk{
		Fetch: func(ctx context.Context, end time.Time) ([]paginate.Raw, error) {
			env, err := q.TR.Do(ctx, transport.Request{
				Method: http.MethodGet,
				Path:   "/uapi/overseas-price/v1/quotations/dailyprice",
				TrID:   "HHDFS76240000",
				Query: url.Values{
					"AUTH": {""},
					"EXCD": {hq.Exchange},
					"SYMB": {hq.Symbol},
					"GUBN": {gubn},
					"BYMD": {end.Format("20060102")},
					"MODP": {modp},
					"KEYB": {""},
				},
			})
			if err != nil {
				return nil, err
			}
			var rows []paginate.Raw
			if err := env.Field("output2", &rows); err != nil {
				return nil, fmt.Errorf("decode dailyprice page: %w", err)
			}
			// The upstream pads short pages with empty objects.
			kept := rows[:0]
			for _, r := range rows {
				if r["xymd"] != "" {
					kept = append(kept, r)
				}
			}
			return kept, nil
		},
		DateOf: func(r paginate.Raw) (time.Time, error) {
			return time.Parse("20060102", r["xymd"])
		},
		KeyOf:     func(r paginate.Raw) string { return r["xymd"] },
		Start:     hq.Start,
		End:       hq.End,
		Limit:     hq.Limit,
		Ascending: hq.Ascending,
		Now:       q.now,
	}

	raws, err := walk.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("overseas history %s/%s: %w", hq.Exchange, hq.Symbol, err)
	}
	return model.MapOHLCV(raws, model.OHLCVFromOverseas)
}

// MinuteBars walks the minute-chart endpoint backward through KEYB
// cursors. The endpoint has no "fetch ending at time T" parameter, so the
// walk first probes the latest available bar: if the requested end is at
// or past it the walk starts from now with no cursor, otherwise it seeds
// the cursor at the requested end. The probe is best-effort; the upstream
// can advance between the probe and the first page.
func (q *Quote) MinuteBars(ctx context.Context, mq MinuteQuery) ([]model.OHLCV, error) {
	interval := mq.Interval
	if interval <= 0 {
		interval = 1
	}

	seed := ""
	if !mq.End.IsZero() && mq.End.Before(q.now()) {
		latest, err := q.probeLatestBar(ctx, mq, interval)
		if err != nil {
			return nil, fmt.Errorf("overseas minute bars %s/%s: %w", mq.Exchange, mq.Symbol, err)
		}
		if !latest.IsZero() && mq.End.Before(latest) {
			seed = mq.End.Format("20060102150405")
		}
	}

	walk := paginate.CursorWalk{
		Fetch: func(ctx context.Context, cur paginate.Cursor) (paginate.CursorPage, error) {
			rows, err := q.fetchMinutePage(ctx, mq, interval, cur.Seed, minutePageSize)
			if err != nil {
				return paginate.CursorPage{}, err
			}
			page := paginate.CursorPage{Items: rows}
			if len(rows) > 0 {
				oldest, err := minuteStamp(rows[len(rows)-1])
				if err != nil {
					return paginate.CursorPage{}, err
				}
				page.Next = paginate.Cursor{
					Seed: oldest.Add(-time.Duration(interval) * time.Minute).Format("20060102150405"),
				}
			}
			return page, nil
		},
		KeyOf: func(r paginate.Raw) string { return r["xymd"] + r["xhms"] },
		Keep: func(r paginate.Raw) (bool, error) {
			ts, err := minuteStamp(r)
			if err != nil {
				return false, err
			}
			if mq.Start != nil && ts.Before(*mq.Start) {
				return false, nil
			}
			if !mq.End.IsZero() && ts.After(mq.End) {
				return false, nil
			}
			return true, nil
		},
		Seed:      seed,
		Limit:     mq.Limit,
		Ascending: mq.Ascending,
	}

	raws, err := walk.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("overseas minute bars %s/%s: %w", mq.Exchange, mq.Symbol, err)
	}
	return model.MapOHLCV(raws, model.OHLCVFromOverseasMinute)
}

// probeLatestBar fetches the single most recent bar's timestamp. A zero
// time means the upstream has no bars yet.
func (q *Quote) probeLatestBar(ctx context.Context, mq MinuteQuery, interval int) (time.Time, error) {
	rows, err := q.fetchMinutePage(ctx, mq, interval, "", 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	return minuteStamp(rows[0])
}

func (q *Quote) fetchMinutePage(ctx context.Context, mq MinuteQuery, interval int, keyb string, nrec int) ([]paginate.Raw, error) {
	next := ""
	if keyb != "" {
		next = "1"
	}
	env, err := q.TR.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/uapi/overseas-price/v1/quotations/inquire-time-itemchartprice",
		TrID:   "HHDFS76950200",
		Query: url.Values{
			"AUTH": {""},
			"EXCD": {mq.Exchange},
			"SYMB": {mq.Symbol},
			"NMIN": {strconv.Itoa(interval)},
			"PINC": {"1"},
			"NEXT": {next},
			"NREC": {strconv.Itoa(nrec)},
			"FILL": {""},
			"KEYB": {keyb},
		},
	})
	if err != nil {
		return nil, err
	}
	var rows []paginate.Raw
	if err := env.Field("output2", &rows); err != nil {
		return nil, fmt.Errorf("decode minute page: %w", err)
	}
	return rows, nil
}

func minuteStamp(r paginate.Raw) (time.Time, error) {
	ts, err := time.Parse("20060102150405", r["xymd"]+r["xhms"])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse minute timestamp %q: %w", r["xymd"]+r["xhms"], err)
	}
	return ts, nil
}
