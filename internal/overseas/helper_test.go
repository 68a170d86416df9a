package overseas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"KisBridge/internal/auth"
	"KisBridge/internal/ratelimit"
	"KisBridge/internal/transport"
)

type stubAuth struct{}

func (stubAuth) Headers(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("authorization", "Bearer test")
	return h, nil
}

func newTestTransport(t *testing.T, handler http.HandlerFunc) *transport.Transport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return transport.New(srv.URL, stubAuth{}, ratelimit.NewDefault(), "")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func testCreds(isReal bool) auth.Credentials {
	return auth.Credentials{
		AppKey:    "key",
		AppSecret: "secret",
		AccountNo: "12345678-01",
		IsReal:    isReal,
	}
}
