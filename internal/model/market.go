package model

import (
	"fmt"
	"time"

	"KisBridge/internal/paginate"
)

// OHLCV is a single normalized candlestick bar. Prices and volume stay as
// the upstream's decimal strings; parsing them to binary floats and back
// drifts the low digits over repeated round-trips.
type OHLCV struct {
	Date   time.Time
	Open   string
	High   string
	Low    string
	Close  string
	Volume string
}

// Symbol is one row of the overseas master file.
type Symbol struct {
	Ticker         string
	ExchangeCode   string
	RealtimeTicker string
}

// OHLCVFromDomestic maps a domestic daily-chart record
// (inquire-daily-itemchartprice output2).
func OHLCVFromDomestic(r paginate.Raw) (OHLCV, error) {
	d, err := time.Parse("20060102", r["stck_bsop_date"])
	if err != nil {
		return OHLCV{}, fmt.Errorf("parse stck_bsop_date %q: %w", r["stck_bsop_date"], err)
	}
	return OHLCV{
		Date:   d,
		Open:   r["stck_oprc"],
		High:   r["stck_hgpr"],
		Low:    r["stck_lwpr"],
		Close:  r["stck_clpr"],
		Volume: r["acml_vol"],
	}, nil
}

// OHLCVFromDomesticMinute maps a domestic minute-bar record
// (inquire-time-itemchartprice output2).
func OHLCVFromDomesticMinute(r paginate.Raw) (OHLCV, error) {
	d, err := time.Parse("20060102150405", r["stck_bsop_date"]+r["stck_cntg_hour"])
	if err != nil {
		return OHLCV{}, fmt.Errorf("parse minute timestamp %q: %w",
			r["stck_bsop_date"]+r["stck_cntg_hour"], err)
	}
	return OHLCV{
		Date:   d,
		Open:   r["stck_oprc"],
		High:   r["stck_hgpr"],
		Low:    r["stck_lwpr"],
		Close:  r["stck_prpr"],
		Volume: r["cntg_vol"],
	}, nil
}

// OHLCVFromOverseas maps an overseas daily-price record (dailyprice output2).
func OHLCVFromOverseas(r paginate.Raw) (OHLCV, error) {
	d, err := time.Parse("20060102", r["xymd"])
	if err != nil {
		return OHLCV{}, fmt.Errorf("parse xymd %q: %w", r["xymd"], err)
	}
	return OHLCV{
		Date:   d,
		Open:   r["open"],
		High:   r["high"],
		Low:    r["low"],
		Close:  r["clos"],
		Volume: r["tvol"],
	}, nil
}

// OHLCVFromOverseasMinute maps an overseas minute-bar record
// (inquire-time-itemchartprice output2).
func OHLCVFromOverseasMinute(r paginate.Raw) (OHLCV, error) {
	d, err := time.Parse("20060102150405", r["xymd"]+r["xhms"])
	if err != nil {
		return OHLCV{}, fmt.Errorf("parse minute timestamp %q: %w", r["xymd"]+r["xhms"], err)
	}
	return OHLCV{
		Date:   d,
		Open:   r["open"],
		High:   r["high"],
		Low:    r["low"],
		Close:  r["last"],
		Volume: r["evol"],
	}, nil
}

// MapOHLCV applies one of the mappers above to a full walk result.
func MapOHLCV(raws []paginate.Raw, mapper func(paginate.Raw) (OHLCV, error)) ([]OHLCV, error) {
	out := make([]OHLCV, 0, len(raws))
	for _, r := range raws {
		bar, err := mapper(r)
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	return out, nil
}
