// Package response classifies KIS API responses. The upstream is not
// consistent about error field names: the trading gateway reports
// rt_cd/msg_cd/msg1 while the OAuth endpoints report
// error_code/error_description, and token issuance omits rt_cd entirely.
package response

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	// successReturnCode is the rt_cd value meaning success.
	successReturnCode = "0"
	// CodeRateExceeded is the gateway code for "too many requests".
	CodeRateExceeded = "EGW00201"
)

// Envelope is one classified upstream response.
type Envelope struct {
	StatusCode int
	Headers    http.Header
	Body       json.RawMessage

	fields map[string]json.RawMessage
}

// UpstreamError is any non-success envelope, with the upstream code and
// message preserved verbatim.
type UpstreamError struct {
	Code    string
	Message string
	Status  int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("kis: %s(%d): %s", e.Code, e.Status, e.Message)
}

// RateExceededError signals the gateway's per-second call cap. Callers may
// retry the same request after a short sleep instead of surfacing it.
type RateExceededError struct {
	UpstreamError
}

func (e *RateExceededError) Unwrap() error { return &e.UpstreamError }

// AuthError is a failure from the credential endpoints.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("kis: auth failed (%d): %s", e.Status, e.Message)
}

// New parses the body and returns an Envelope. The body is kept raw; only
// the top-level field index is built for classification and extraction.
func New(status int, headers http.Header, body []byte) (*Envelope, error) {
	e := &Envelope{StatusCode: status, Headers: headers, Body: body}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &e.fields); err != nil {
			return nil, fmt.Errorf("decode response body: %w", err)
		}
	}
	return e, nil
}

// stringField reads a top-level string field, "" when absent.
func (e *Envelope) stringField(name string) string {
	raw, ok := e.fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// firstOf resolves the first present of the given field names.
func (e *Envelope) firstOf(def string, names ...string) string {
	for _, n := range names {
		if _, ok := e.fields[n]; ok {
			return e.stringField(n)
		}
	}
	return def
}

// returnCode is rt_cd, defaulting to success when absent (token issuance
// responses carry no rt_cd).
func (e *Envelope) returnCode() string {
	return e.firstOf(successReturnCode, "rt_cd")
}

// ErrCode resolves the error code from msg_cd, then error_code.
func (e *Envelope) ErrCode() string {
	return e.firstOf(successReturnCode, "msg_cd", "error_code")
}

// ErrMessage resolves the error message from msg1, then error_description.
func (e *Envelope) ErrMessage() string {
	return e.firstOf("", "msg1", "error_description")
}

// IsSuccess reports whether the response is a success envelope.
func (e *Envelope) IsSuccess() bool {
	return e.StatusCode == http.StatusOK && e.returnCode() == successReturnCode
}

// Err returns nil for a success envelope, a *RateExceededError for the
// gateway rate cap, and a *UpstreamError otherwise.
func (e *Envelope) Err() error {
	if e.IsSuccess() {
		return nil
	}
	ue := UpstreamError{
		Code:    e.ErrCode(),
		Message: e.ErrMessage(),
		Status:  e.StatusCode,
	}
	if ue.Code == CodeRateExceeded {
		return &RateExceededError{UpstreamError: ue}
	}
	return &ue
}

// TrCont reports the continuation flag from the response headers.
// "D" and "E" mean no further pages.
func (e *Envelope) TrCont() string {
	return e.Headers.Get("tr_cont")
}

// Field extracts a named top-level element of the body into out.
func (e *Envelope) Field(name string, out any) error {
	raw, ok := e.fields[name]
	if !ok {
		return fmt.Errorf("response field %q missing", name)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response field %q: %w", name, err)
	}
	return nil
}

// StringValue returns the named top-level string field, "" when absent.
// Continuation cursors come through here.
func (e *Envelope) StringValue(name string) string {
	return e.stringField(name)
}
