package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// CodeSuccess is the application code the platform uses for success.
const CodeSuccess Code = "0"

// Code is the application-level status carried in every response envelope.
// The platform sends it as a string; some gateways emit a bare number.
type Code string

// UnmarshalJSON accepts both "0" and 0.
func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("code is neither string nor number: %w", err)
	}
	*c = Code(n.String())
	return nil
}

// IsSuccess reports whether the code signals success.
func (c Code) IsSuccess() bool {
	return c == CodeSuccess
}

// Envelope is the body shape shared by every platform endpoint.
type Envelope struct {
	Code Code            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the data field into v. An absent data field leaves v untouched.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrDecode, err)
	}
	return nil
}

// parseEnvelope decodes body as an envelope. ok is false when the body is not
// a JSON object carrying a code field.
func parseEnvelope(body []byte) (env *Envelope, ok bool) {
	var probe struct {
		Code *Code          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Code == nil {
		return nil, false
	}

	return &Envelope{Code: *probe.Code, Msg: probe.Msg, Data: probe.Data}, true
}

// codeLabel keeps metric label cardinality bounded.
func codeLabel(status int, env *Envelope) string {
	if env != nil && !env.Code.IsSuccess() {
		return "app_error"
	}
	return strconv.Itoa(status)
}
