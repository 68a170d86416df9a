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

// InvalidAccountError reports an operation that needs a real account but
// was called with a virtual one.
type InvalidAccountError struct {
	Operation string
}

func (e *InvalidAccountError) Error() string {
	return fmt.Sprintf("%s requires a real account", e.Operation)
}

// Account reads overseas account state.
type Account struct {
	TR    *transport.Transport
	Creds auth.Credentials
}

// NewAccount creates an overseas account reader.
func NewAccount(tr *transport.Transport, creds auth.Credentials) *Account {
	return &Account{TR: tr, Creds: creds}
}

// Balance returns the cash available on one exchange, denominated in its
// trading currency. symbol scopes the upstream's buying-power computation.
func (a *Account) Balance(ctx context.Context, exchange, symbol string) (model.Balance, error) {
	id := "TTTS3007R"
	if !a.Creds.IsReal {
		id = "VTTS3007R"
	}
	env, err := a.TR.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/uapi/overseas-stock/v1/trading/inquire-psamount",
		TrID:   id,
		Query: url.Values{
			"CANO":          {a.Creds.CANO()},
			"ACNT_PRDT_CD":  {a.Creds.ProductCode()},
			"OVRS_EXCG_CD":  {exchange},
			"OVRS_ORD_UNPR": {""},
			"ITEM_CD":       {symbol},
		},
	})
	if err != nil {
		return model.Balance{}, fmt.Errorf("overseas balance %s: %w", exchange, err)
	}
	var out paginate.Raw
	if err := env.Field("output", &out); err != nil {
		return model.Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	return model.BalanceFromPsamount(out), nil
}

// Positions walks the inquire-balance endpoint through FK/NK continuation
// tokens and returns every held line on the exchange.
func (a *Account) Positions(ctx context.Context, exchange, currency string) ([]model.Position, error) {
	id := "TTTS3012R"
	if !a.Creds.IsReal {
		id = "VTTS3012R"
	}

	raws, err := a.walkFKNK(ctx, walkParams{
		path: "/uapi/overseas-stock/v1/trading/inquire-balance",
		trID: id,
		query: url.Values{
			"CANO":         {a.Creds.CANO()},
			"ACNT_PRDT_CD": {a.Creds.ProductCode()},
			"OVRS_EXCG_CD": {exchange},
			"TR_CRCY_CD":   {currency},
		},
		itemsField: "output1",
		keyField:   "ovrs_pdno",
	})
	if err != nil {
		return nil, fmt.Errorf("overseas positions %s: %w", exchange, err)
	}

	out := make([]model.Position, 0, len(raws))
	for _, r := range raws {
		out = append(out, model.PositionFromBalance(r))
	}
	return out, nil
}

// PendingOrders walks the inquire-nccs endpoint and returns every
// outstanding order on the exchange, most recent first.
func (a *Account) PendingOrders(ctx context.Context, exchange string) ([]model.PendingOrder, error) {
	id := "TTTS3018R"
	if !a.Creds.IsReal {
		id = "VTTS3018R"
	}

	raws, err := a.walkFKNK(ctx, walkParams{
		path: "/uapi/overseas-stock/v1/trading/inquire-nccs",
		trID: id,
		query: url.Values{
			"CANO":         {a.Creds.CANO()},
			"ACNT_PRDT_CD": {a.Creds.ProductCode()},
			"OVRS_EXCG_CD": {exchange},
			"SORT_SQN":     {"DS"},
		},
		itemsField: "output",
		keyField:   "odno",
	})
	if err != nil {
		return nil, fmt.Errorf("overseas pending orders %s: %w", exchange, err)
	}

	out := make([]model.PendingOrder, 0, len(raws))
	for _, r := range raws {
		po, err := model.PendingOrderFromNccs(r)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, nil
}

// ReservedOrders walks the order-resv-list endpoint and returns every
// reserved order placed in the date range. The upstream serves the US
// exchanges only; other markets have no reserved-order book.
func (a *Account) ReservedOrders(ctx context.Context, start, end time.Time) ([]paginate.Raw, error) {
	id := "TTTT3039R"
	if !a.Creds.IsReal {
		id = "VTTT3039R"
	}

	raws, err := a.walkFKNK(ctx, walkParams{
		path: "/uapi/overseas-stock/v1/trading/order-resv-list",
		trID: id,
		query: url.Values{
			"CANO":         {a.Creds.CANO()},
			"ACNT_PRDT_CD": {a.Creds.ProductCode()},
			"INQR_STRT_DT": {start.Format("20060102")},
			"INQR_END_DT":  {end.Format("20060102")},
			"INQR_DVSN_CD": {"01"},
			"PRDT_TYPE_CD": {""},
			"OVRS_EXCG_CD": {""},
		},
		itemsField: "output",
		keyField:   "ovrs_rsvn_odno",
	})
	if err != nil {
		return nil, fmt.Errorf("overseas reserved orders: %w", err)
	}
	return raws, nil
}

// PaymentStandardBalance returns the settlement-basis balance for the
// given base date (YYYYMMDD). The endpoint exists only on the real
// gateway.
func (a *Account) PaymentStandardBalance(ctx context.Context, baseDate string, inKRW bool) (*paginate.Raw, error) {
	if !a.Creds.IsReal {
		return nil, &InvalidAccountError{Operation: "payment-standard balance"}
	}
	currencyDivision := "02"
	if inKRW {
		currencyDivision = "01"
	}
	env, err := a.TR.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/uapi/overseas-stock/v1/trading/inquire-paymt-stdr-balance",
		TrID:   "CTRP6010R",
		Query: url.Values{
			"CANO":              {a.Creds.CANO()},
			"ACNT_PRDT_CD":      {a.Creds.ProductCode()},
			"BASS_DT":           {baseDate},
			"WCRC_FRCR_DVSN_CD": {currencyDivision},
			"INQR_DVSN_CD":      {"00"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("payment-standard balance: %w", err)
	}
	var out paginate.Raw
	if err := env.Field("output3", &out); err != nil {
		return nil, fmt.Errorf("decode payment-standard balance: %w", err)
	}
	return &out, nil
}

// Summary composes balance, positions, and pending orders into one
// decimal-exact snapshot.
func (a *Account) Summary(ctx context.Context, exchange, currency, symbol string) (model.AccountSummary, error) {
	balance, err := a.Balance(ctx, exchange, symbol)
	if err != nil {
		return model.AccountSummary{}, err
	}
	positions, err := a.Positions(ctx, exchange, currency)
	if err != nil {
		return model.AccountSummary{}, err
	}
	pending, err := a.PendingOrders(ctx, exchange)
	if err != nil {
		return model.AccountSummary{}, err
	}
	return model.NewAccountSummary(balance, positions, pending)
}

type walkParams struct {
	path       string
	trID       string
	query      url.Values
	itemsField string
	keyField   string
}

// walkFKNK runs the shared FK/NK continuation loop used by the account
// inquiry endpoints.
func (a *Account) walkFKNK(ctx context.Context, p walkParams) ([]paginate.Raw, error) {
	walk := paginate.CursorWalk{
		Fetch: func(ctx context.Context, cur paginate.Cursor) (paginate.CursorPage, error) {
			trCont := "N"
			if cur.First {
				trCont = ""
			}
			q := url.Values{}
			for k, v := range p.query {
				q[k] = v
			}
			q.Set("CTX_AREA_FK200", cur.FK)
			q.Set("CTX_AREA_NK200", cur.NK)

			env, err := a.TR.Do(ctx, transport.Request{
				Method: http.MethodGet,
				Path:   p.path,
				TrID:   p.trID,
				TrCont: trCont,
				Query:  q,
			})
			if err != nil {
				return paginate.CursorPage{}, err
			}
			var rows []paginate.Raw
			if err := env.Field(p.itemsField, &rows); err != nil {
				return paginate.CursorPage{}, fmt.Errorf("decode %s page: %w", p.itemsField, err)
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
		KeyOf: func(r paginate.Raw) string { return r[p.keyField] },
	}
	return walk.Run(ctx)
}
