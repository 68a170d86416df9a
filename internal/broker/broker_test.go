package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"KisBridge/internal/auth"
	"KisBridge/internal/model"
	"KisBridge/internal/ratelimit"
	"KisBridge/internal/symbols"
	"KisBridge/internal/transport"
)

type stubAuth struct{}

func (stubAuth) Headers(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("authorization", "Bearer test")
	return h, nil
}

// stubResolver serves a fixed symbol table and records lookups.
type stubResolver struct {
	table map[string]model.Symbol // key market+"/"+ticker
	calls int
}

func (r *stubResolver) Resolve(ctx context.Context, market, ticker string) (model.Symbol, error) {
	r.calls++
	if market == "KR" {
		return model.Symbol{Ticker: ticker, ExchangeCode: "KRX", RealtimeTicker: ticker}, nil
	}
	sym, ok := r.table[market+"/"+ticker]
	if !ok {
		return model.Symbol{}, &symbols.InvalidSymbolError{Market: market, Ticker: ticker}
	}
	return sym, nil
}

func newTestClient(t *testing.T, isReal bool, handler http.HandlerFunc) (*Client, *stubResolver) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr := transport.New(srv.URL, stubAuth{}, ratelimit.NewDefault(), "")
	resolver := &stubResolver{table: map[string]model.Symbol{
		"US/AAPL": {Ticker: "AAPL", ExchangeCode: "NAS", RealtimeTicker: "DNASAAPL"},
		"HK/0700": {Ticker: "0700", ExchangeCode: "HKS", RealtimeTicker: "DHKS00700"},
	}}
	creds := auth.Credentials{AppKey: "key", AppSecret: "secret", AccountNo: "12345678-01", IsReal: isReal}
	return newClient(creds, tr, resolver), resolver
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestPrice_DispatchesByMarket(t *testing.T) {
	var paths []string
	client, resolver := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch {
		case strings.Contains(r.URL.Path, "domestic-stock"):
			writeJSON(w, map[string]any{
				"rt_cd": "0", "msg_cd": "MCA00000", "msg1": "ok",
				"output": map[string]any{"stck_prpr": "71900"},
			})
		default:
			if got := r.URL.Query().Get("EXCD"); got != "NAS" {
				t.Errorf("EXCD = %q, want NAS", got)
			}
			writeJSON(w, map[string]any{
				"rt_cd": "0", "msg_cd": "MCA00000", "msg1": "ok",
				"output": map[string]any{"last": "196.4500"},
			})
		}
	})

	krPrice, err := client.Price(context.Background(), "KR", "005930")
	if err != nil {
		t.Fatalf("Price(KR): %v", err)
	}
	if krPrice != "71900" {
		t.Errorf("KR price = %q, want 71900", krPrice)
	}

	usPrice, err := client.Price(context.Background(), "US", "AAPL")
	if err != nil {
		t.Fatalf("Price(US): %v", err)
	}
	if usPrice != "196.4500" {
		t.Errorf("US price = %q, want 196.4500", usPrice)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver calls = %d, want 1 (domestic skips resolution)", resolver.calls)
	}
	if len(paths) != 2 {
		t.Fatalf("gateway calls = %d, want 2", len(paths))
	}
	if !strings.Contains(paths[0], "domestic-stock") || !strings.Contains(paths[1], "overseas-price") {
		t.Errorf("unexpected dispatch order: %v", paths)
	}
}

func TestPrice_UnknownSymbolNeverHitsGateway(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	_, err := client.Price(context.Background(), "US", "NOPE")
	var invalid *symbols.InvalidSymbolError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidSymbolError", err)
	}
	if calls != 0 {
		t.Errorf("gateway calls = %d, want 0", calls)
	}
}

func TestFetchHistory_OverseasUsesResolvedExchange(t *testing.T) {
	client, _ := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("EXCD"); got != "HKS" {
			t.Errorf("EXCD = %q, want HKS", got)
		}
		if got := r.URL.Query().Get("SYMB"); got != "0700" {
			t.Errorf("SYMB = %q, want 0700", got)
		}
		writeJSON(w, map[string]any{
			"rt_cd": "0", "msg_cd": "MCA00000", "msg1": "ok",
			"output2": []map[string]string{
				{"xymd": "20240624", "open": "380", "high": "385", "low": "378", "clos": "382", "tvol": "100"},
			},
		})
	})

	bars, err := client.FetchHistory(context.Background(), HistoryRequest{
		Symbol:      "0700",
		Market:      "HK",
		Granularity: "D",
		Limit:       1,
	})
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != "382" {
		t.Fatalf("bars = %+v, want one bar closing at 382", bars)
	}
}

func TestFetchHistory_DomesticMinuteAscending(t *testing.T) {
	client, _ := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("tr_id"); got != "FHKST03010200" {
			t.Errorf("tr_id = %q, want FHKST03010200", got)
		}
		writeJSON(w, map[string]any{
			"rt_cd": "0", "msg_cd": "MCA00000", "msg1": "ok",
			"output2": []map[string]string{
				{"stck_bsop_date": "20240624", "stck_cntg_hour": "101000", "stck_prpr": "71950", "stck_oprc": "71900", "stck_hgpr": "71950", "stck_lwpr": "71850", "cntg_vol": "500"},
				{"stck_bsop_date": "20240624", "stck_cntg_hour": "100900", "stck_prpr": "71900", "stck_oprc": "71850", "stck_hgpr": "71900", "stck_lwpr": "71800", "cntg_vol": "400"},
				{"stck_bsop_date": "20240624", "stck_cntg_hour": "100800", "stck_prpr": "71850", "stck_oprc": "71800", "stck_hgpr": "71850", "stck_lwpr": "71750", "cntg_vol": "300"},
			},
		})
	})

	bars, err := client.FetchHistory(context.Background(), HistoryRequest{
		Symbol:      "005930",
		Market:      "KR",
		Granularity: GranularityMinute,
		Ascending:   true,
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len(bars) = %d, want 2", len(bars))
	}
	// Limit keeps the most recent bars; ascending puts oldest first.
	first := bars[0].Date.Format("20060102150405")
	second := bars[1].Date.Format("20060102150405")
	if first != "20240624100900" || second != "20240624101000" {
		t.Errorf("dates = %s, %s; want 20240624100900, 20240624101000", first, second)
	}
}

func TestBuy_OverseasTranslatesOrderExchange(t *testing.T) {
	client, _ := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		// Quote code NAS must become order code NASD on the order path.
		if body["OVRS_EXCG_CD"] != "NASD" {
			t.Errorf("OVRS_EXCG_CD = %q, want NASD", body["OVRS_EXCG_CD"])
		}
		if got := r.Header.Get("tr_id"); got != "TTTT1002U" {
			t.Errorf("tr_id = %q, want TTTT1002U", got)
		}
		writeJSON(w, map[string]any{
			"rt_cd": "0", "msg_cd": "APBK0013", "msg1": "ok",
			"output": map[string]string{"ODNO": "0000117057", "ORD_TMD": "110045"},
		})
	})

	receipt, err := client.Buy(context.Background(), "US", "AAPL", 3, "180.00")
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if receipt.OrderNo != "0000117057" {
		t.Errorf("OrderNo = %q, want 0000117057", receipt.OrderNo)
	}
}

func TestCancel_DomesticUnsupported(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	if _, err := client.Cancel(context.Background(), "KR", "005930", "0000117057"); err == nil {
		t.Fatal("Cancel(KR) should fail")
	}
	if _, err := client.Update(context.Background(), "KR", "005930", "0000117057", 1, "0"); err == nil {
		t.Fatal("Update(KR) should fail")
	}
	if calls != 0 {
		t.Errorf("gateway calls = %d, want 0", calls)
	}
}

func TestFetchAccountSummary_UnknownMarket(t *testing.T) {
	client, _ := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected gateway call")
	})
	if _, err := client.FetchAccountSummary(context.Background(), "MARS"); err == nil {
		t.Fatal("FetchAccountSummary should fail for an unknown market")
	}
}

func TestNew_RejectsBadCredentials(t *testing.T) {
	_, err := New(auth.Credentials{}, Options{})
	if err == nil {
		t.Fatal("New should reject empty credentials")
	}
}
