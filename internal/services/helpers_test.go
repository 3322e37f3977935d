package services

import (
	"context"
	"sync"

	"posterBack/internal/bridge"
)

// fakeInvoker is a scriptable stand-in for a connected shell.
type fakeInvoker struct {
	caps    map[string]bool
	capsErr error

	invoke func(req bridge.Request) (bridge.Result, error)

	mu    sync.Mutex
	calls []bridge.Request
}

func (f *fakeInvoker) DetectCapabilities(ctx context.Context, names []string) (map[string]bool, error) {
	if f.capsErr != nil {
		return nil, f.capsErr
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = f.caps[n]
	}
	return out, nil
}

func (f *fakeInvoker) Invoke(ctx context.Context, req bridge.Request) (bridge.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.invoke != nil {
		return f.invoke(req)
	}
	return bridge.Result{Success: true}, nil
}

func (f *fakeInvoker) invoked() []bridge.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bridge.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// recordingSignaler captures vipPay notifications.
type recordingSignaler struct {
	mu      sync.Mutex
	signals []signalEvent
}

type signalEvent struct {
	SessionID string
	Status    int
	SKURef    string
}

func (r *recordingSignaler) NotifyPayResult(sessionID string, status int, skuRef string) {
	r.mu.Lock()
	r.signals = append(r.signals, signalEvent{SessionID: sessionID, Status: status, SKURef: skuRef})
	r.mu.Unlock()
}

func (r *recordingSignaler) all() []signalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signalEvent, len(r.signals))
	copy(out, r.signals)
	return out
}
