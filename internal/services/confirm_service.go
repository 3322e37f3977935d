package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"posterBack/internal/models"
	"posterBack/internal/repositories"
)

type ConfirmState string

const (
	StateDispatched ConfirmState = "dispatched"
	StatePolling    ConfirmState = "polling"
	StatePaid       ConfirmState = "paid"
	StateActive     ConfirmState = "active"
	// StateStillProcessing is the one-off path's bounded-poll outcome: the
	// backend did not report a terminal status within the window. It is not
	// an error; the user may refresh and re-check.
	StateStillProcessing ConfirmState = "still_processing"
	StateFailed          ConfirmState = "failed"
	StateCancelled       ConfirmState = "cancelled"
)

func (s ConfirmState) Terminal() bool {
	switch s {
	case StatePaid, StateActive, StateStillProcessing, StateFailed, StateCancelled:
		return true
	}
	return false
}

// ConfirmOutcome is the single terminal report of a polling session.
type ConfirmOutcome struct {
	State     ConfirmState `json:"state"`
	Message   string       `json:"message,omitempty"`
	RenewDate *time.Time   `json:"renew_date,omitempty"`
}

// Signaler delivers the cross-window terminal message
// {type:"vipPay", status, skuRef} to embedding contexts.
type Signaler interface {
	NotifyPayResult(sessionID string, status int, skuID string)
}

const (
	defaultOrderInterval    = time.Second
	defaultOrderTimeout     = 15 * time.Second
	defaultContractInterval = 5 * time.Second
)

// ConfirmationPoller owns every confirmation timer. One-off orders are
// polled on a hard wall-clock budget; subscription contracts are polled
// without a deadline (bounded operationally by session teardown). The two
// paths query different endpoints and never cross.
type ConfirmationPoller struct {
	Commerce *CommerceService
	History  *repositories.PaymentHistoryRepo
	Signals  Signaler
	Logger   *slog.Logger

	// Overridable in tests.
	OrderInterval    time.Duration
	OrderTimeout     time.Duration
	ContractInterval time.Duration
}

// PollingSession is one running confirmation loop. At most one exists per
// purchase session; starting a new one requires cancelling the old one
// first. Once a terminal state is latched no further transition happens,
// and results of in-flight requests arriving later are discarded.
type PollingSession struct {
	sessionID string
	userID    int
	skuID     string
	attemptID int64

	mu      sync.Mutex
	state   ConfirmState
	outcome *ConfirmOutcome

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	onOutcome func(ConfirmOutcome)
}

// State returns the current machine state.
func (ps *PollingSession) State() ConfirmState {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state
}

// Outcome returns the terminal report, or nil while still polling.
func (ps *PollingSession) Outcome() *ConfirmOutcome {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.outcome
}

// Done closes when the session reached a terminal state or was cancelled.
func (ps *PollingSession) Done() <-chan struct{} { return ps.done }

// Cancel detaches the session synchronously: the terminal latch is taken
// before the context is cancelled, so a tick already scheduled or a request
// already in flight can no longer apply its result. Cancellation is a
// silent supersede — no notification, no cross-window signal.
func (ps *PollingSession) Cancel() {
	ps.mu.Lock()
	if ps.state.Terminal() {
		ps.mu.Unlock()
		return
	}
	ps.state = StateCancelled
	ps.mu.Unlock()
	ps.cancel()
	ps.closeOnce.Do(func() { close(ps.done) })
}

func (ps *PollingSession) terminal() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state.Terminal()
}

// StartOrder begins confirmation of a one-off order: an immediate first
// poll, then one per interval, with a hard deadline counted from the first
// poll. Single poll failures are "try again next tick".
func (p *ConfirmationPoller) StartOrder(sessionID string, userID int, order *models.Order, attemptID int64, onOutcome func(ConfirmOutcome)) *PollingSession {
	ps := p.newSession(sessionID, userID, order.SKUID, attemptID, onOutcome)
	ctx, cancel := context.WithCancel(context.Background())
	ps.cancel = cancel
	go p.runOrderLoop(ctx, ps, order.OrderID)
	return ps
}

func (p *ConfirmationPoller) runOrderLoop(ctx context.Context, ps *PollingSession, orderID string) {
	interval := p.OrderInterval
	if interval <= 0 {
		interval = defaultOrderInterval
	}
	timeout := p.OrderTimeout
	if timeout <= 0 {
		timeout = defaultOrderTimeout
	}

	deadlineAt := time.Now().Add(timeout)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if p.pollOrder(ctx, ps, orderID) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			p.finish(ps, ConfirmOutcome{State: StateStillProcessing, Message: "payment not confirmed yet"}, false)
			return
		case <-ticker.C:
			if ps.terminal() {
				return
			}
			if !time.Now().Before(deadlineAt) {
				p.finish(ps, ConfirmOutcome{State: StateStillProcessing, Message: "payment not confirmed yet"}, false)
				return
			}
			if p.pollOrder(ctx, ps, orderID) {
				return
			}
		}
	}
}

// pollOrder runs one status check. The round trip happens inline in the
// loop goroutine, so checks of one session are serialized and ticks never
// pile up behind a slow response. Reports true once the session finished.
func (p *ConfirmationPoller) pollOrder(ctx context.Context, ps *PollingSession, orderID string) bool {
	status, err := p.Commerce.OrderStatus(ctx, ps.userID, orderID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		p.log().Warn("order status poll failed", "session", ps.sessionID, "order", orderID, "err", err)
		return false
	}
	switch status {
	case models.OrderStatusPaid:
		p.finish(ps, ConfirmOutcome{State: StatePaid}, true)
		return true
	case models.OrderStatusCancelled:
		p.finish(ps, ConfirmOutcome{State: StateCancelled, Message: "payment cancelled"}, true)
		return true
	case models.OrderStatusFailed, models.OrderStatusExpired:
		p.finish(ps, ConfirmOutcome{State: StateFailed, Message: "payment " + string(status)}, true)
		return true
	}
	return false
}

// StartContract begins confirmation of a subscription entrustment: an
// immediate first check, then one per interval on its own endpoint, with no
// deadline. The renewal date surfaces only with the activation report.
func (p *ConfirmationPoller) StartContract(sessionID string, userID int, contract *models.SubscriptionContract, attemptID int64, onOutcome func(ConfirmOutcome)) *PollingSession {
	ps := p.newSession(sessionID, userID, contract.SKUID, attemptID, onOutcome)
	ctx, cancel := context.WithCancel(context.Background())
	ps.cancel = cancel
	go p.runContractLoop(ctx, ps, contract)
	return ps
}

func (p *ConfirmationPoller) runContractLoop(ctx context.Context, ps *PollingSession, contract *models.SubscriptionContract) {
	interval := p.ContractInterval
	if interval <= 0 {
		interval = defaultContractInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if p.pollContract(ctx, ps, contract) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ps.terminal() {
				return
			}
			if p.pollContract(ctx, ps, contract) {
				return
			}
		}
	}
}

// pollContract runs one entrustment status check. Reports true once the
// session finished.
func (p *ConfirmationPoller) pollContract(ctx context.Context, ps *PollingSession, contract *models.SubscriptionContract) bool {
	st, err := p.Commerce.EntrustmentStatus(ctx, ps.userID, contract.ContractCode, contract.Serial)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		p.log().Warn("entrustment status poll failed", "session", ps.sessionID, "contract", contract.ContractCode, "err", err)
		return false
	}
	if st.Active {
		p.finish(ps, ConfirmOutcome{State: StateActive, RenewDate: st.RenewDate}, true)
		return true
	}
	return false
}

// FailNow reports a terminal failure without any polling (declined bridge
// payment).
func (p *ConfirmationPoller) FailNow(ps *PollingSession, message string) {
	p.finish(ps, ConfirmOutcome{State: StateFailed, Message: message}, true)
}

// NewFailedSession produces an already-terminal session for dispatches that
// died before polling could start.
func (p *ConfirmationPoller) NewFailedSession(sessionID string, userID int, skuID string, attemptID int64, message string, onOutcome func(ConfirmOutcome)) *PollingSession {
	ps := p.newSession(sessionID, userID, skuID, attemptID, onOutcome)
	ps.cancel = func() {}
	p.finish(ps, ConfirmOutcome{State: StateFailed, Message: message}, true)
	return ps
}

func (p *ConfirmationPoller) newSession(sessionID string, userID int, skuID string, attemptID int64, onOutcome func(ConfirmOutcome)) *PollingSession {
	return &PollingSession{
		sessionID: sessionID,
		userID:    userID,
		skuID:     skuID,
		attemptID: attemptID,
		state:     StatePolling,
		done:      make(chan struct{}),
		onOutcome: onOutcome,
	}
}

// finish latches the terminal state, then reports it exactly once: history
// row, cross-window signal, caller callback. Calls after the first are
// no-ops, which is what discards stale in-flight results.
func (p *ConfirmationPoller) finish(ps *PollingSession, o ConfirmOutcome, signal bool) {
	ps.mu.Lock()
	if ps.state.Terminal() {
		ps.mu.Unlock()
		return
	}
	ps.state = o.State
	ps.outcome = &o
	cb := ps.onOutcome
	ps.mu.Unlock()

	ps.cancel()
	ps.closeOnce.Do(func() { close(ps.done) })

	p.record(ps, o)
	if signal && p.Signals != nil {
		switch o.State {
		case StatePaid, StateActive:
			p.Signals.NotifyPayResult(ps.sessionID, 1, ps.skuID)
		case StateCancelled, StateFailed:
			p.Signals.NotifyPayResult(ps.sessionID, -1, ps.skuID)
		}
	}
	if cb != nil {
		cb(o)
	}
}

func (p *ConfirmationPoller) record(ps *PollingSession, o ConfirmOutcome) {
	if p.History == nil || ps.attemptID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.History.MarkStatus(ctx, ps.attemptID, string(o.State)); err != nil {
		p.log().Warn("payment history update failed", "attempt", ps.attemptID, "err", err)
	}
}

func (p *ConfirmationPoller) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
