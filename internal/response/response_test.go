package response

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantSuccess bool
		wantCode    string
		wantMessage string
	}{
		{
			name:        "success with rt_cd",
			status:      200,
			body:        `{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리 되었습니다.","output":{}}`,
			wantSuccess: true,
		},
		{
			name:        "success without rt_cd (token issuance)",
			status:      200,
			body:        `{"access_token":"abc","expires_in":86400}`,
			wantSuccess: true,
		},
		{
			name:        "failure with msg_cd and msg1",
			status:      200,
			body:        `{"rt_cd":"1","msg_cd":"APBK0013","msg1":"주문가능금액을 초과했습니다."}`,
			wantCode:    "APBK0013",
			wantMessage: "주문가능금액을 초과했습니다.",
		},
		{
			name:        "failure with oauth field names",
			status:      403,
			body:        `{"error_code":"EGW00205","error_description":"유효하지 않은 AppSecret입니다."}`,
			wantCode:    "EGW00205",
			wantMessage: "유효하지 않은 AppSecret입니다.",
		},
		{
			name:        "msg_cd takes precedence over error_code",
			status:      200,
			body:        `{"rt_cd":"1","msg_cd":"APBK0013","error_code":"EGW00000","msg1":"a","error_description":"b"}`,
			wantCode:    "APBK0013",
			wantMessage: "a",
		},
		{
			name:        "failure with neither code nor message field",
			status:      500,
			body:        `{}`,
			wantCode:    "0",
			wantMessage: "",
		},
		{
			name:        "non-200 with success return code is still a failure",
			status:      500,
			body:        `{"rt_cd":"0"}`,
			wantCode:    "0",
			wantMessage: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := New(tt.status, http.Header{}, []byte(tt.body))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if env.IsSuccess() != tt.wantSuccess {
				t.Fatalf("IsSuccess = %v, want %v", env.IsSuccess(), tt.wantSuccess)
			}
			if tt.wantSuccess {
				if env.Err() != nil {
					t.Errorf("Err = %v, want nil", env.Err())
				}
				return
			}
			var ue *UpstreamError
			if !errors.As(env.Err(), &ue) {
				t.Fatalf("Err = %T, want *UpstreamError", env.Err())
			}
			if ue.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", ue.Code, tt.wantCode)
			}
			if ue.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", ue.Message, tt.wantMessage)
			}
		})
	}
}

func TestClassify_RateExceeded(t *testing.T) {
	body := `{"rt_cd":"1","msg_cd":"EGW00201","msg1":"초당 거래건수를 초과하였습니다."}`
	env, err := New(200, http.Header{}, []byte(body))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var rate *RateExceededError
	if !errors.As(env.Err(), &rate) {
		t.Fatalf("Err = %T, want *RateExceededError", env.Err())
	}
	// Still classifiable as a generic upstream error for callers that
	// do not care about the distinction.
	var ue *UpstreamError
	if !errors.As(env.Err(), &ue) {
		t.Error("rate exceeded error should also match *UpstreamError")
	}
}

func TestEnvelope_Field(t *testing.T) {
	env, err := New(200, http.Header{}, []byte(`{"rt_cd":"0","output2":[{"xymd":"20240102"}],"ctx_area_nk200":"cursor "}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var items []map[string]string
	if err := env.Field("output2", &items); err != nil {
		t.Fatalf("Field: %v", err)
	}
	if len(items) != 1 || items[0]["xymd"] != "20240102" {
		t.Errorf("unexpected output2: %v", items)
	}
	if got := env.StringValue("ctx_area_nk200"); got != "cursor " {
		t.Errorf("StringValue = %q", got)
	}
	if err := env.Field("missing", &items); err == nil {
		t.Error("expected error for missing field")
	}
}
