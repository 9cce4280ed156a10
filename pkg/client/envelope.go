package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var emptyObject = json.RawMessage(`{}`)

// envelope is the server's uniform wrapper {success, data?, error?}.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// unwrapEnvelope returns the payload of a 2xx body. Bodies that are not an
// object with a boolean "success" field are returned verbatim. The boolean
// result is false when the envelope reported success:false, in which case
// the string is the embedded message.
func unwrapEnvelope(body []byte) (json.RawMessage, string, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return emptyObject, "", true, nil
	}
	if !json.Valid(trimmed) {
		return nil, "", false, errors.New("response body is not valid JSON")
	}
	if trimmed[0] != '{' {
		return json.RawMessage(trimmed), "", true, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Success == nil {
		return json.RawMessage(trimmed), "", true, nil
	}

	if !*env.Success {
		return nil, errorMessage(env.Error), false, nil
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return emptyObject, "", true, nil
	}
	return env.Data, "", true, nil
}

// errorMessage extracts a message from the shapes the server uses for
// errors: {"message": "..."}, a bare string, or {"detail": "..."}.
func errorMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var obj struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if obj.Message != "" {
		return obj.Message
	}
	if msg := errorMessage(obj.Detail); msg != "" {
		return msg
	}
	return errorMessage(obj.Error)
}

// parseErrorBody extracts the server message from a non-2xx body. ok is
// false when the body is not JSON.
func parseErrorBody(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return "", false
	}
	return errorMessage(trimmed), true
}
