package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CodeSuccess is the envelope code the scheduler API uses for success.
const CodeSuccess = 0

// IsSuccess is the single success test applied to every envelope.
func IsSuccess(code int) bool { return code == CodeSuccess }

// Envelope wraps every response of the scheduler API. Older servers put the
// payload under "datas", newer ones under "data".
type Envelope struct {
	Code  int             `json:"code"`
	Datas json.RawMessage `json:"datas,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	Time  string          `json:"time,omitempty"`
}

func (e Envelope) Payload() json.RawMessage {
	if hasValue(e.Datas) {
		return e.Datas
	}
	if hasValue(e.Data) {
		return e.Data
	}
	return nil
}

func hasValue(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && !bytes.Equal(b, []byte("null"))
}

// RemoteError is a well-formed envelope whose code is not CodeSuccess.
type RemoteError struct {
	Op   string
	Code int
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: scheduler returned code %d: %s", e.Op, e.Code, e.Msg)
}

// TransportError covers network failures, unexpected HTTP statuses and
// bodies that cannot be decoded.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRemote reports whether err carries a non-success envelope.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Message returns the text shown to a user for err: the envelope message
// for remote rejections, the error text otherwise.
func Message(err error) string {
	var re *RemoteError
	if errors.As(err, &re) && re.Msg != "" {
		return re.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
