package bridge

import (
	"context"
	"encoding/json"
)

// Request is one invocation of the host application shell.
type Request struct {
	Type string `json:"type"`
	// Params is the channel-specific payload (product id, order id, amount).
	Params map[string]any `json:"params,omitempty"`
	// CallbackName is the named callback the shell should deliver the
	// asynchronous pay result on, when the invocation has one.
	CallbackName string `json:"callback_name,omitempty"`
}

// Result is the synchronous reply to an invocation.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PayResult is the unsolicited message the shell pushes on a named callback
// once payment finishes. Code 0 means success.
type PayResult struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (r PayResult) OK() bool { return r.Code == 0 }

// Invoker is the message boundary to the host shell. DetectCapabilities is a
// single best-effort round trip; callers must treat an error as "no native
// capabilities" rather than retrying.
type Invoker interface {
	DetectCapabilities(ctx context.Context, names []string) (map[string]bool, error)
	Invoke(ctx context.Context, req Request) (Result, error)
}
