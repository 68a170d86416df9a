package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"KisBridge/internal/paginate"
)

// OrderSide is the normalized buy/sell direction.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus is the normalized order lifecycle state.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
	StatusRejected OrderStatus = "rejected"
	StatusExpired  OrderStatus = "expired"
)

// Upstream sentinel labels used by the execution-history endpoint.
const (
	processDone       = "완료"
	processRejected   = "거부"
	reviseCancelLabel = "취소"
	buyLabel          = "매수"
	buyCode           = "02"
	// rejectExpiredAtClose marks day-orders the exchange dropped at the
	// close (DFD).
	rejectExpiredAtClose = "DFD 장종료로 취소"
)

// Order is one normalized execution-history record.
type Order struct {
	OrderID           string
	Symbol            string
	Side              OrderSide
	Status            OrderStatus
	RequestedPrice    string
	RequestedQuantity string
	FilledQuantity    string
	AveragePrice      string
	FilledAmount      string
	RejectReason      string
	OrderedAt         time.Time
}

// OrderFromExecution maps an inquire-ccnl record. Status inference follows
// the upstream's process-status label plus reject and revise/cancel labels;
// the order of the branches matters.
func OrderFromExecution(r paginate.Raw) (Order, error) {
	orderedAt, err := time.Parse("20060102150405", r["ord_dt"]+r["ord_tmd"])
	if err != nil {
		return Order{}, fmt.Errorf("parse order timestamp %q: %w", r["ord_dt"]+r["ord_tmd"], err)
	}

	rejectReason := r["rjct_rson_name"]
	status := StatusOpen
	switch {
	case r["prcs_stat_name"] == processDone && rejectReason == rejectExpiredAtClose:
		status = StatusExpired
	case r["prcs_stat_name"] == processDone && rejectReason != "":
		status = StatusRejected
	case r["prcs_stat_name"] == processDone && r["rvse_cncl_dvsn_name"] == reviseCancelLabel:
		status = StatusCanceled
	case r["prcs_stat_name"] == processDone:
		status = StatusFilled
	case r["prcs_stat_name"] == processRejected:
		status = StatusRejected
	}

	side := SideSell
	if r["sll_buy_dvsn_cd_name"] == buyLabel {
		side = SideBuy
	}

	return Order{
		OrderID:           r["odno"],
		Symbol:            r["pdno"],
		Side:              side,
		Status:            status,
		RequestedPrice:    r["ft_ord_unpr3"],
		RequestedQuantity: r["ft_ord_qty"],
		FilledQuantity:    r["ft_ccld_qty"],
		AveragePrice:      r["ft_ccld_unpr3"],
		FilledAmount:      r["ft_ccld_amt3"],
		RejectReason:      rejectReason,
		OrderedAt:         orderedAt,
	}, nil
}

// OrderReceipt acknowledges an accepted order request.
type OrderReceipt struct {
	OrderNo   string
	OrderTime string
}

// ReceiptFromOutput maps an order endpoint's output block.
func ReceiptFromOutput(r paginate.Raw) OrderReceipt {
	return OrderReceipt{
		OrderNo:   r["ODNO"],
		OrderTime: r["ORD_TMD"],
	}
}

// Balance is the cash side of an overseas account.
type Balance struct {
	AvailableBalance string
	BuyableBalance   string
	ExchangeRate     string
	Currency         string
}

// BalanceFromPsamount maps an inquire-psamount output record.
func BalanceFromPsamount(r paginate.Raw) Balance {
	return Balance{
		AvailableBalance: r["frcr_ord_psbl_amt1"],
		BuyableBalance:   r["ovrs_ord_psbl_amt"],
		ExchangeRate:     r["exrt"],
		Currency:         r["tr_crcy_cd"],
	}
}

// Position is one held line of an overseas balance.
type Position struct {
	Symbol        string
	ItemName      string
	Quantity      string
	AveragePrice  string
	UnrealizedPnL string
	PnLPercentage string
	CurrentPrice  string
	MarketValue   string
}

// PositionFromBalance maps an inquire-balance output1 record.
func PositionFromBalance(r paginate.Raw) Position {
	return Position{
		Symbol:        r["ovrs_pdno"],
		ItemName:      r["ovrs_item_name"],
		Quantity:      r["ovrs_cblc_qty"],
		AveragePrice:  r["pchs_avg_pric"],
		UnrealizedPnL: r["frcr_evlu_pfls_amt"],
		PnLPercentage: r["evlu_pfls_rt"],
		CurrentPrice:  r["now_pric2"],
		MarketValue:   r["ovrs_stck_evlu_amt"],
	}
}

// PendingOrder is one unfilled line from inquire-nccs.
type PendingOrder struct {
	OrderID           string
	Symbol            string
	Side              OrderSide
	RequestedPrice    string
	RequestedQuantity string
	FilledQuantity    string
	RemainingQuantity string
	AveragePrice      string
	FilledAmount      string
	// LockedAmount is requested price times remaining quantity, computed
	// in decimal. It is the cash the broker reserves for the order.
	LockedAmount string
}

// PendingOrderFromNccs maps an inquire-nccs record. Unlike the execution
// history, this endpoint encodes the side as a numeric code.
func PendingOrderFromNccs(r paginate.Raw) (PendingOrder, error) {
	price, err := decimal.NewFromString(r["ft_ord_unpr3"])
	if err != nil {
		return PendingOrder{}, fmt.Errorf("parse ft_ord_unpr3 %q: %w", r["ft_ord_unpr3"], err)
	}
	remaining, err := decimal.NewFromString(r["nccs_qty"])
	if err != nil {
		return PendingOrder{}, fmt.Errorf("parse nccs_qty %q: %w", r["nccs_qty"], err)
	}

	side := SideSell
	if r["sll_buy_dvsn_cd"] == buyCode {
		side = SideBuy
	}

	return PendingOrder{
		OrderID:           r["odno"],
		Symbol:            r["pdno"],
		Side:              side,
		RequestedPrice:    r["ft_ord_unpr3"],
		RequestedQuantity: r["ft_ord_qty"],
		FilledQuantity:    r["ft_ccld_qty"],
		RemainingQuantity: r["nccs_qty"],
		AveragePrice:      r["ft_ccld_unpr3"],
		FilledAmount:      r["ft_ccld_amt3"],
		LockedAmount:      price.Mul(remaining).String(),
	}, nil
}

// ErrZeroCostBasis is returned when percentage P&L is undefined because the
// total position cost basis is zero.
var ErrZeroCostBasis = errors.New("account summary: total position cost basis is zero")

// AccountSummary is the derived portfolio snapshot. It is recomputed from
// its inputs on every fetch and never persisted.
type AccountSummary struct {
	TotalBalance       string
	LockedBalance      string
	AvailableBalance   string
	BuyableBalance     string
	ExchangeRate       string
	Currency           string
	TotalUnrealizedPnL string
	TotalPnLPercentage string
	Positions          []Position
	PendingOrders      []PendingOrder
}

// NewAccountSummary aggregates balance, positions and pending orders with
// exact decimal arithmetic. total = available + sum(market value) +
// sum(locked amount). Percentage P&L over an empty (or free) cost basis is
// ErrZeroCostBasis, never a NaN.
func NewAccountSummary(balance Balance, positions []Position, pending []PendingOrder) (AccountSummary, error) {
	available, err := decimal.NewFromString(balance.AvailableBalance)
	if err != nil {
		return AccountSummary{}, fmt.Errorf("parse available balance %q: %w", balance.AvailableBalance, err)
	}

	marketValue := decimal.Zero
	costBasis := decimal.Zero
	unrealized := decimal.Zero
	for _, p := range positions {
		mv, err := decimal.NewFromString(p.MarketValue)
		if err != nil {
			return AccountSummary{}, fmt.Errorf("parse market value %q: %w", p.MarketValue, err)
		}
		avg, err := decimal.NewFromString(p.AveragePrice)
		if err != nil {
			return AccountSummary{}, fmt.Errorf("parse average price %q: %w", p.AveragePrice, err)
		}
		qty, err := decimal.NewFromString(p.Quantity)
		if err != nil {
			return AccountSummary{}, fmt.Errorf("parse quantity %q: %w", p.Quantity, err)
		}
		pnl, err := decimal.NewFromString(p.UnrealizedPnL)
		if err != nil {
			return AccountSummary{}, fmt.Errorf("parse unrealized pnl %q: %w", p.UnrealizedPnL, err)
		}
		marketValue = marketValue.Add(mv)
		costBasis = costBasis.Add(avg.Mul(qty))
		unrealized = unrealized.Add(pnl)
	}

	locked := decimal.Zero
	for _, o := range pending {
		la, err := decimal.NewFromString(o.LockedAmount)
		if err != nil {
			return AccountSummary{}, fmt.Errorf("parse locked amount %q: %w", o.LockedAmount, err)
		}
		locked = locked.Add(la)
	}

	total := available.Add(marketValue).Add(locked)

	if costBasis.IsZero() {
		return AccountSummary{}, ErrZeroCostBasis
	}
	pnlPct := marketValue.Sub(costBasis).Div(costBasis).Mul(decimal.NewFromInt(100))

	return AccountSummary{
		TotalBalance:       total.String(),
		LockedBalance:      locked.String(),
		AvailableBalance:   available.String(),
		BuyableBalance:     balance.BuyableBalance,
		ExchangeRate:       balance.ExchangeRate,
		Currency:           balance.Currency,
		TotalUnrealizedPnL: unrealized.String(),
		TotalPnLPercentage: pnlPct.StringFixed(2),
		Positions:          positions,
		PendingOrders:      pending,
	}, nil
}
