package overseas

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"KisBridge/internal/auth"
	"KisBridge/internal/model"
	"KisBridge/internal/paginate"
	"KisBridge/internal/transport"
)

// Per-exchange transaction IDs for real accounts. Virtual accounts use the
// same IDs with the leading T swapped for a V.
var (
	buyTrIDs = map[string]string{
		"NASD": "TTTT1002U",
		"NYSE": "TTTT1002U",
		"AMEX": "TTTT1002U",
		"SEHK": "TTTS1002U",
		"SHAA": "TTTS0202U",
		"SZAA": "TTTS0305U",
		"TKSE": "TTTS0308U",
		"HASE": "TTTS0311U",
		"VNSE": "TTTS0311U",
	}
	sellTrIDs = map[string]string{
		"NASD": "TTTT1006U",
		"NYSE": "TTTT1006U",
		"AMEX": "TTTT1006U",
		"SEHK": "TTTS1001U",
		"SHAA": "TTTS1005U",
		"SZAA": "TTTS0304U",
		"TKSE": "TTTS0307U",
		"HASE": "TTTS0310U",
		"VNSE": "TTTS0310U",
	}
	reviseCancelTrIDs = map[string]string{
		"NASD": "TTTT1004U",
		"NYSE": "TTTT1004U",
		"AMEX": "TTTT1004U",
		"SEHK": "TTTS1003U",
		"SHAA": "TTTS0302U",
		"SZAA": "TTTS0306U",
		"TKSE": "TTTS0309U",
		"HASE": "TTTS0312U",
		"VNSE": "TTTS0312U",
	}
)

func trID(table map[string]string, exchange string, isReal bool) (string, error) {
	id, ok := table[exchange]
	if !ok {
		return "", fmt.Errorf("unsupported order exchange %q", exchange)
	}
	if !isReal {
		id = "V" + id[1:]
	}
	return id, nil
}

// ExecutionQuery selects an execution-history range.
type ExecutionQuery struct {
	// Start bounds the window below.
	Start time.Time
	// End bounds the window above; zero means today.
	End time.Time
	// OrderID stops the walk at the first page containing the order,
	// returning only its records.
	OrderID   string
	Ascending bool
	Limit     int
}

// Order places and inspects overseas orders. Exchange codes here are the
// order variant (NASD, NYSE, ...).
type Order struct {
	TR    *transport.Transport
	Creds auth.Credentials

	now func() time.Time
}

// NewOrder creates an overseas order writer.
func NewOrder(tr *transport.Transport, creds auth.Credentials) *Order {
	return &Order{TR: tr, Creds: creds, now: time.Now}
}

// Buy places a limit buy order. Price stays a decimal string end to end.
func (o *Order) Buy(ctx context.Context, exchange, symbol string, quantity int, price string) (model.OrderReceipt, error) {
	id, err := trID(buyTrIDs, exchange, o.Creds.IsReal)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	return o.place(ctx, id, map[string]string{
		"CANO":            o.Creds.CANO(),
		"ACNT_PRDT_CD":    o.Creds.ProductCode(),
		"OVRS_EXCG_CD":    exchange,
		"PDNO":            symbol,
		"ORD_QTY":         fmt.Sprintf("%d", quantity),
		"OVRS_ORD_UNPR":   price,
		"ORD_SVR_DVSN_CD": "0",
		"ORD_DVSN":        "00",
	})
}

// Sell places a limit sell order.
func (o *Order) Sell(ctx context.Context, exchange, symbol string, quantity int, price string) (model.OrderReceipt, error) {
	id, err := trID(sellTrIDs, exchange, o.Creds.IsReal)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	return o.place(ctx, id, map[string]string{
		"CANO":            o.Creds.CANO(),
		"ACNT_PRDT_CD":    o.Creds.ProductCode(),
		"OVRS_EXCG_CD":    exchange,
		"PDNO":            symbol,
		"ORD_QTY":         fmt.Sprintf("%d", quantity),
		"OVRS_ORD_UNPR":   price,
		"ORD_SVR_DVSN_CD": "0",
		"SLL_TYPE":        "00",
		"ORD_DVSN":        "00",
	})
}

// Update revises an open order's quantity and price. The revised quantity
// must match the order's outstanding quantity or the upstream rejects it.
func (o *Order) Update(ctx context.Context, exchange, symbol, orderNo string, quantity int, price string) (model.OrderReceipt, error) {
	return o.reviseCancel(ctx, exchange, symbol, orderNo, "01", fmt.Sprintf("%d", quantity), price)
}

// Cancel cancels an open order. The upstream ignores quantity and price on
// cancellation.
func (o *Order) Cancel(ctx context.Context, exchange, symbol, orderNo string) (model.OrderReceipt, error) {
	return o.reviseCancel(ctx, exchange, symbol, orderNo, "02", "1", "0")
}

func (o *Order) reviseCancel(ctx context.Context, exchange, symbol, orderNo, division, quantity, price string) (model.OrderReceipt, error) {
	id, err := trID(reviseCancelTrIDs, exchange, o.Creds.IsReal)
	if err != nil {
		return model.OrderReceipt{}, err
	}
	env, err := o.TR.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/uapi/overseas-stock/v1/trading/order-rvsecncl",
		TrID:   id,
		Body: map[string]string{
			"CANO":              o.Creds.CANO(),
			"ACNT_PRDT_CD":      o.Creds.ProductCode(),
			"OVRS_EXCG_CD":      exchange,
			"PDNO":              symbol,
			"ORGN_ODNO":         orderNo,
			"RVSE_CNCL_DVSN_CD": division,
			"ORD_QTY":           quantity,
			"OVRS_ORD_UNPR":     price,
		},
	})
	if err != nil {
		return model.OrderReceipt{}, fmt.Errorf("overseas revise/cancel %s: %w", orderNo, err)
	}
	var out paginate.Raw
	if err := env.Field("output", &out); err != nil {
		return model.OrderReceipt{}, fmt.Errorf("decode order receipt: %w", err)
	}
	return model.ReceiptFromOutput(out), nil
}

func (o *Order) place(ctx context.Context, trID string, body map[string]string) (model.OrderReceipt, error) {
	env, err := o.TR.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/uapi/overseas-stock/v1/trading/order",
		TrID:   trID,
		Body:   body,
	})
	if err != nil {
		return model.OrderReceipt{}, fmt.Errorf("overseas order %s: %w", body["PDNO"], err)
	}
	var out paginate.Raw
	if err := env.Field("output", &out); err != nil {
		return model.OrderReceipt{}, fmt.Errorf("decode order receipt: %w", err)
	}
	return model.ReceiptFromOutput(out), nil
}

// Executions walks the inquire-ccnl endpoint through FK/NK continuation
// tokens. With OrderID set, the walk stops at the first page containing
// the order.
func (o *Order) Executions(ctx context.Context, q ExecutionQuery) ([]model.Order, error) {
	id := "TTTS3035R"
	if !o.Creds.IsReal {
		id = "VTTS3035R"
	}

	end := q.End
	if n := o.now(); end.IsZero() || end.After(n) {
		end = n
	}

	walk := paginate.CursorWalk{
		Fetch: func(ctx context.Context, cur paginate.Cursor) (paginate.CursorPage, error) {
			trCont := "N"
			if cur.First {
				trCont = ""
			}
			env, err := o.TR.Do(ctx, transport.Request{
				Method: http.MethodGet,
				Path:   "/uapi/overseas-stock/v1/trading/inquire-ccnl",
				TrID:   id,
				TrCont: trCont,
				Query: url.Values{
					"CANO":           {o.Creds.CANO()},
					"ACNT_PRDT_CD":   {o.Creds.ProductCode()},
					"PDNO":           {"%"},
					"ORD_STRT_DT":    {q.Start.Format("20060102")},
					"ORD_END_DT":     {end.Format("20060102")},
					"SLL_BUY_DVSN":   {"00"},
					"CCLD_NCCS_DVSN": {"00"},
					"OVRS_EXCG_CD":   {"%"},
					"SORT_SQN":       {"AS"},
					"ORD_DT":         {""},
					"ORD_GNO_BRNO":   {""},
					"ODNO":           {""},
					"CTX_AREA_FK200": {cur.FK},
					"CTX_AREA_NK200": {cur.NK},
				},
			})
			if err != nil {
				return paginate.CursorPage{}, err
			}
			var rows []paginate.Raw
			if err := env.Field("output", &rows); err != nil {
				return paginate.CursorPage{}, fmt.Errorf("decode execution page: %w", err)
			}
			cont := env.TrCont()
			return paginate.CursorPage{
				Items: rows,
				Next: paginate.Cursor{
					FK: strings.TrimSpace(env.StringValue("ctx_area_fk200")),
					NK: strings.TrimSpace(env.StringValue("ctx_area_nk200")),
				},
				Done: cont == "D" || cont == "E",
			}, nil
		},
		KeyOf: func(r paginate.Raw) string { return r["odno"] },
		Limit: q.Limit,
		Ascending: q.Ascending,
	}
	if q.OrderID != "" {
		walk.Match = func(r paginate.Raw) bool { return r["odno"] == q.OrderID }
	}

	raws, err := walk.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("overseas executions: %w", err)
	}

	out := make([]model.Order, 0, len(raws))
	for _, r := range raws {
		ord, err := model.OrderFromExecution(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ord)
	}
	return out, nil
}
