package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"KisBridge/internal/ratelimit"
	"KisBridge/internal/response"
)

type staticHeaders struct{}

func (staticHeaders) Headers(_ context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("authorization", "Bearer test")
	h.Set("appkey", "k")
	h.Set("appsecret", "s")
	h.Set("Content-Type", "application/json")
	return h, nil
}

func newTestTransport(srv *httptest.Server) *Transport {
	tr := New(srv.URL, staticHeaders{}, ratelimit.New(1000, time.Second), "")
	tr.Client = srv.Client()
	tr.sleep = func(time.Duration) {}
	return tr
}

func TestDo_Success(t *testing.T) {
	var gotTrID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrID = r.Header.Get("tr_id")
		if r.Header.Get("authorization") != "Bearer test" {
			t.Errorf("missing authorization header")
		}
		if r.URL.Query().Get("SYMB") != "AAPL" {
			t.Errorf("missing query param, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"rt_cd":"0","output":{"last":"185.64"}}`))
	}))
	defer srv.Close()

	tr := newTestTransport(srv)
	env, err := tr.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/uapi/overseas-price/v1/quotations/price",
		TrID:   "HHDFS00000300",
		Query:  url.Values{"SYMB": {"AAPL"}},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotTrID != "HHDFS00000300" {
		t.Errorf("tr_id = %q", gotTrID)
	}
	var out map[string]string
	if err := env.Field("output", &out); err != nil {
		t.Fatalf("Field: %v", err)
	}
	if out["last"] != "185.64" {
		t.Errorf("last = %q", out["last"])
	}
}

func TestDo_RequestPathKeepsSingleSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"rt_cd":"0"}`))
	}))
	defer srv.Close()

	tr := newTestTransport(srv)
	_, err := tr.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/uapi/domestic-stock/v1/quotations/inquire-price",
		TrID:   "FHKST01010100",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotPath != "/uapi/domestic-stock/v1/quotations/inquire-price" {
		t.Errorf("request path = %q, want single leading slash", gotPath)
	}
}

func TestDo_RetriesRateExceededEnvelope(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Write([]byte(`{"rt_cd":"1","msg_cd":"EGW00201","msg1":"초당 거래건수를 초과하였습니다."}`))
			return
		}
		w.Write([]byte(`{"rt_cd":"0","output":{}}`))
	}))
	defer srv.Close()

	tr := newTestTransport(srv)
	env, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/p", TrID: "T"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !env.IsSuccess() {
		t.Error("expected eventual success")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (2 rate-capped retries), got %d", calls)
	}
}

func TestDo_PropagatesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rt_cd":"1","msg_cd":"APBK0013","msg1":"주문가능금액을 초과했습니다."}`))
	}))
	defer srv.Close()

	tr := newTestTransport(srv)
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/p", TrID: "T"})

	var ue *response.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *response.UpstreamError, got %v", err)
	}
	if ue.Code != "APBK0013" || ue.Message != "주문가능금액을 초과했습니다." {
		t.Errorf("error fields not preserved: %+v", ue)
	}
}

func TestDo_BacksOffOnServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"rt_cd":"0"}`))
	}))
	defer srv.Close()

	tr := newTestTransport(srv)
	start := time.Now()
	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/p", TrID: "T"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected one retry after 502, got %d calls", calls)
	}
	if d := time.Since(start); d < backoffBase {
		t.Errorf("expected at least the base backoff before the retry, waited %v", d)
	}
}

func TestDo_AuthFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	authErr := &response.AuthError{Status: 403, Message: "bad secret"}
	tr := New(srv.URL, failingHeaders{err: authErr}, ratelimit.New(1000, time.Second), "")
	tr.Client = srv.Client()

	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/p", TrID: "T"})
	var ae *response.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected auth error to pass through, got %v", err)
	}
}

type failingHeaders struct{ err error }

func (f failingHeaders) Headers(_ context.Context) (http.Header, error) { return nil, f.err }

func TestDo_PostBodyAndTrCont(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("tr_cont") != "N" {
			t.Errorf("tr_cont = %q", r.Header.Get("tr_cont"))
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["PDNO"] != "AAPL" {
			t.Errorf("body PDNO = %q", body["PDNO"])
		}
		w.Write([]byte(`{"rt_cd":"0","output":{"odno":"0031381228"}}`))
	}))
	defer srv.Close()

	tr := newTestTransport(srv)
	_, err := tr.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/uapi/overseas-stock/v1/trading/order",
		TrID:   "TTTT1002U",
		TrCont: "N",
		Body:   map[string]string{"PDNO": "AAPL"},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}
