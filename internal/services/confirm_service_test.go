package services

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"posterBack/internal/models"
)

// statusBackend serves scripted order/entrustment status answers, one per
// poll; the last one repeats.
type statusBackend struct {
	mu            sync.Mutex
	orderStatuses []string
	entrustStates []EntrustmentState
	orderPolls    int
	entrustPolls  int
}

func (b *statusBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		switch r.URL.Path {
		case "/api/vip/orders/status":
			b.orderPolls++
			s := b.orderStatuses[min(b.orderPolls, len(b.orderStatuses))-1]
			if s == "error" {
				http.Error(w, "backend hiccup", http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": s})
		case "/api/vip/entrustments/status":
			b.entrustPolls++
			st := b.entrustStates[min(b.entrustPolls, len(b.entrustStates))-1]
			json.NewEncoder(w).Encode(st)
		default:
			http.NotFound(w, r)
		}
	})
}

func (b *statusBackend) polls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orderPolls, b.entrustPolls
}

func newTestPoller(t *testing.T, backend *statusBackend, signals *recordingSignaler) *ConfirmationPoller {
	t.Helper()
	commerce, _ := newTestCommerce(t, backend.handler())
	return &ConfirmationPoller{
		Commerce:         commerce,
		Signals:          signals,
		OrderInterval:    10 * time.Millisecond,
		OrderTimeout:     150 * time.Millisecond,
		ContractInterval: 10 * time.Millisecond,
	}
}

func waitDone(t *testing.T, ps *PollingSession) {
	t.Helper()
	select {
	case <-ps.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("polling session never finished, state=%s", ps.State())
	}
}

func TestOrderPollingPaid(t *testing.T) {
	backend := &statusBackend{orderStatuses: []string{"pending", "pending", "paid"}}
	signals := &recordingSignaler{}
	p := newTestPoller(t, backend, signals)

	var outcomes int32
	ps := p.StartOrder("s1", 7, &models.Order{OrderID: "ord-1", SKUID: "vip_month"}, 0, func(o ConfirmOutcome) {
		atomic.AddInt32(&outcomes, 1)
		if o.State != StatePaid {
			t.Errorf("expected paid, got %s", o.State)
		}
	})
	waitDone(t, ps)

	if ps.State() != StatePaid {
		t.Fatalf("expected paid, got %s", ps.State())
	}
	if n := atomic.LoadInt32(&outcomes); n != 1 {
		t.Fatalf("outcome must be reported exactly once, got %d", n)
	}
	got := signals.all()
	if len(got) != 1 || got[0].Status != 1 || got[0].SKURef != "vip_month" {
		t.Fatalf("unexpected signals: %+v", got)
	}
}

func TestOrderPollingTimeout(t *testing.T) {
	backend := &statusBackend{orderStatuses: []string{"pending"}}
	signals := &recordingSignaler{}
	p := newTestPoller(t, backend, signals)

	var outcomes int32
	ps := p.StartOrder("s1", 7, &models.Order{OrderID: "ord-1", SKUID: "vip_month"}, 0, func(o ConfirmOutcome) {
		atomic.AddInt32(&outcomes, 1)
		if o.State != StateStillProcessing {
			t.Errorf("expected still_processing, got %s", o.State)
		}
	})
	waitDone(t, ps)

	if ps.State() != StateStillProcessing {
		t.Fatalf("expected still_processing, got %s", ps.State())
	}
	if n := atomic.LoadInt32(&outcomes); n != 1 {
		t.Fatalf("timeout must be reported exactly once, got %d", n)
	}
	// make sure no late tick produces a second report
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&outcomes); n != 1 {
		t.Fatalf("late tick fired after the timeout, reports=%d", n)
	}
	if len(signals.all()) != 0 {
		t.Fatalf("still_processing must not signal, got %+v", signals.all())
	}
}

func TestOrderPollingCancelledByUser(t *testing.T) {
	backend := &statusBackend{orderStatuses: []string{"pending", "cancelled"}}
	signals := &recordingSignaler{}
	p := newTestPoller(t, backend, signals)

	ps := p.StartOrder("s1", 7, &models.Order{OrderID: "ord-1", SKUID: "vip_month"}, 0, nil)
	waitDone(t, ps)

	if ps.State() != StateCancelled {
		t.Fatalf("expected cancelled, got %s", ps.State())
	}
	got := signals.all()
	if len(got) != 1 || got[0].Status != -1 {
		t.Fatalf("cancelled payment must signal -1, got %+v", got)
	}
}

func TestOrderPollingToleratesErrors(t *testing.T) {
	backend := &statusBackend{orderStatuses: []string{"error", "error", "paid"}}
	p := newTestPoller(t, backend, &recordingSignaler{})

	ps := p.StartOrder("s1", 7, &models.Order{OrderID: "ord-1", SKUID: "vip_month"}, 0, nil)
	waitDone(t, ps)

	if ps.State() != StatePaid {
		t.Fatalf("poll errors must not be terminal, got %s", ps.State())
	}
}

func TestPollingSessionCancel(t *testing.T) {
	backend := &statusBackend{orderStatuses: []string{"pending"}}
	signals := &recordingSignaler{}
	p := newTestPoller(t, backend, signals)
	p.OrderTimeout = time.Minute

	var outcomes int32
	ps := p.StartOrder("s1", 7, &models.Order{OrderID: "ord-1", SKUID: "vip_month"}, 0, func(ConfirmOutcome) {
		atomic.AddInt32(&outcomes, 1)
	})

	time.Sleep(30 * time.Millisecond)
	ps.Cancel()
	ps.Cancel() // idempotent

	if ps.State() != StateCancelled {
		t.Fatalf("expected cancelled, got %s", ps.State())
	}
	waitDone(t, ps)

	// nothing the loop still had in flight may fire after the cancel
	time.Sleep(60 * time.Millisecond)
	if n := atomic.LoadInt32(&outcomes); n != 0 {
		t.Fatalf("cancel is silent, got %d outcome reports", n)
	}
	if len(signals.all()) != 0 {
		t.Fatalf("cancel must not signal, got %+v", signals.all())
	}
}

func TestContractPollingActivates(t *testing.T) {
	renew := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	backend := &statusBackend{entrustStates: []EntrustmentState{
		{}, {}, {Active: true, RenewDate: &renew},
	}}
	signals := &recordingSignaler{}
	p := newTestPoller(t, backend, signals)
	p.ContractInterval = 50 * time.Millisecond

	contract := &models.SubscriptionContract{ContractCode: "ctr-1", Serial: "s-1", SKUID: "vip_sub"}
	var got *ConfirmOutcome
	var mu sync.Mutex
	started := time.Now()
	ps := p.StartContract("s1", 7, contract, 0, func(o ConfirmOutcome) {
		mu.Lock()
		got = &o
		mu.Unlock()
	})
	waitDone(t, ps)

	if ps.State() != StateActive {
		t.Fatalf("expected active, got %s", ps.State())
	}
	// first check fires at once, so the 3rd poll lands after two
	// intervals, not three
	if elapsed := time.Since(started); elapsed >= 3*p.ContractInterval {
		t.Fatalf("3rd poll must land two intervals in, took %v", elapsed)
	}
	mu.Lock()
	defer mu.Unlock()
	if got == nil || got.RenewDate == nil || !got.RenewDate.Equal(renew) {
		t.Fatalf("renew date must arrive with activation, got %+v", got)
	}
	sigs := signals.all()
	if len(sigs) != 1 || sigs[0].Status != 1 || sigs[0].SKURef != "vip_sub" {
		t.Fatalf("unexpected signals: %+v", sigs)
	}
}

func TestContractPollingHasNoDeadline(t *testing.T) {
	// stays unconfirmed far past the one-off window, then activates
	states := make([]EntrustmentState, 30)
	states[len(states)-1] = EntrustmentState{Active: true}
	backend := &statusBackend{entrustStates: states}
	p := newTestPoller(t, backend, &recordingSignaler{})
	p.OrderTimeout = 50 * time.Millisecond // must not apply to contracts

	contract := &models.SubscriptionContract{ContractCode: "ctr-1", Serial: "s-1", SKUID: "vip_sub"}
	ps := p.StartContract("s1", 7, contract, 0, nil)
	waitDone(t, ps)

	if ps.State() != StateActive {
		t.Fatalf("contract polling must never time out, got %s", ps.State())
	}
	_, entrustPolls := backend.polls()
	if entrustPolls < len(states) {
		t.Fatalf("expected %d polls, got %d", len(states), entrustPolls)
	}
}
