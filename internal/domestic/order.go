package domestic

import (
	"context"
	"fmt"
	"net/http"

	"KisBridge/internal/auth"
	"KisBridge/internal/model"
	"KisBridge/internal/paginate"
	"KisBridge/internal/transport"
)

// Order places domestic cash orders.
type Order struct {
	TR    *transport.Transport
	Creds auth.Credentials
}

// NewOrder creates a domestic order writer.
func NewOrder(tr *transport.Transport, creds auth.Credentials) *Order {
	return &Order{TR: tr, Creds: creds}
}

// Buy places a cash buy order. A price of "0" submits a market order,
// anything else a limit order at that price.
func (o *Order) Buy(ctx context.Context, symbol string, quantity int, price string) (model.OrderReceipt, error) {
	return o.place(ctx, "TTTC0802U", symbol, quantity, price)
}

// Sell places a cash sell order.
func (o *Order) Sell(ctx context.Context, symbol string, quantity int, price string) (model.OrderReceipt, error) {
	return o.place(ctx, "TTTC0801U", symbol, quantity, price)
}

func (o *Order) place(ctx context.Context, trID, symbol string, quantity int, price string) (model.OrderReceipt, error) {
	if !o.Creds.IsReal {
		// Virtual accounts use the V-prefixed transaction set.
		trID = "V" + trID[1:]
	}
	division := "00" // limit
	if price == "0" {
		division = "01" // market
	}

	env, err := o.TR.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/uapi/domestic-stock/v1/trading/order-cash",
		TrID:   trID,
		Body: map[string]string{
			"CANO":         o.Creds.CANO(),
			"ACNT_PRDT_CD": o.Creds.ProductCode(),
			"PDNO":         symbol,
			"ORD_DVSN":     division,
			"ORD_QTY":      fmt.Sprintf("%d", quantity),
			"ORD_UNPR":     price,
		},
	})
	if err != nil {
		return model.OrderReceipt{}, fmt.Errorf("domestic order %s: %w", symbol, err)
	}
	var out paginate.Raw
	if err := env.Field("output", &out); err != nil {
		return model.OrderReceipt{}, fmt.Errorf("decode order receipt: %w", err)
	}
	return model.ReceiptFromOutput(out), nil
}
