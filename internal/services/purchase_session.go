package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"posterBack/internal/bridge"
	"posterBack/internal/models"
	"posterBack/internal/repositories"
)

// PurchaseSession is the per-screen aggregate: the selected package, the
// detected environment, the current attempt and its polling session, plus
// the countdown of the discount deadline. Starting a new attempt cancels
// whatever the previous one left running, so a session never has two live
// confirmations.
type PurchaseSession struct {
	ID     string
	UserID int

	Clock *CountdownClock

	mu           sync.Mutex
	gen          uint64
	pkg          models.Package
	env          models.EnvironmentProfile
	creation     CreationResult
	dispatch     *models.Dispatch
	polling      *PollingSession
	nativeCancel func()
	attemptID    int64
	countdown    *CountdownHandle
	lastSeen     time.Time
}

// Touch marks the session as recently used; the idle sweeper spares it.
func (s *PurchaseSession) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *PurchaseSession) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// beginAttempt supersedes the previous attempt and hands out the new
// attempt's generation. The old polling session is cancelled after its slot
// is already cleared, so nothing it still reports can land in the session.
func (s *PurchaseSession) beginAttempt() uint64 {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	old := s.polling
	s.polling = nil
	nc := s.nativeCancel
	s.nativeCancel = nil
	s.dispatch = nil
	s.attemptID = 0
	s.lastSeen = time.Now()
	s.mu.Unlock()

	if nc != nil {
		nc()
	}
	if old != nil {
		old.Cancel()
	}
	return gen
}

// adoptPolling installs a polling session if the attempt is still current;
// a stale one is cancelled on the spot.
func (s *PurchaseSession) adoptPolling(gen uint64, ps *PollingSession) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		ps.Cancel()
		return false
	}
	s.polling = ps
	s.mu.Unlock()
	return true
}

func (s *PurchaseSession) setNativeCancel(gen uint64, cancel func()) {
	s.mu.Lock()
	if s.gen == gen {
		s.nativeCancel = cancel
	}
	s.mu.Unlock()
}

func (s *PurchaseSession) clearNativeCancel(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.nativeCancel = nil
	}
	s.mu.Unlock()
}

// State reports the session's confirmation state: the polling session's if
// one exists, "dispatched" after a dispatch that runs without one, empty
// before any attempt.
func (s *PurchaseSession) State() ConfirmState {
	s.mu.Lock()
	ps := s.polling
	dispatched := s.dispatch != nil
	s.mu.Unlock()
	if ps != nil {
		return ps.State()
	}
	if dispatched {
		return StateDispatched
	}
	return ""
}

// Polling returns the live polling session, if any.
func (s *PurchaseSession) Polling() *PollingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polling
}

// SessionSnapshot is the read model served to the purchase screen.
type SessionSnapshot struct {
	SessionID string                `json:"session_id"`
	SKUID     string                `json:"sku_id,omitempty"`
	State     ConfirmState          `json:"state,omitempty"`
	Dispatch  *models.Dispatch      `json:"dispatch,omitempty"`
	Outcome   *ConfirmOutcome       `json:"outcome,omitempty"`
	Countdown models.CountdownValue `json:"countdown"`
}

// Snapshot assembles the current view of the session.
func (s *PurchaseSession) Snapshot() SessionSnapshot {
	state := s.State()
	s.mu.Lock()
	snap := SessionSnapshot{
		SessionID: s.ID,
		SKUID:     s.pkg.ID,
		State:     state,
		Dispatch:  s.dispatch,
	}
	if s.polling != nil {
		snap.Outcome = s.polling.Outcome()
	}
	if s.countdown != nil {
		snap.Countdown = s.countdown.Value()
	}
	s.mu.Unlock()
	return snap
}

// PurchaseInput is one user-initiated purchase action.
type PurchaseInput struct {
	SKUID     string
	ContextID string
	Preferred models.PayChannel
	Trace     models.TraceMetadata
	Hints     models.ClientHints
}

// PurchaseResult is the synchronous answer to a purchase action; the
// terminal outcome arrives later through the session state and signals.
type PurchaseResult struct {
	SessionID string          `json:"session_id"`
	Dispatch  models.Dispatch `json:"dispatch"`
	State     ConfirmState    `json:"state"`
}

// SessionManager owns the live purchase sessions and runs the purchase
// flow end to end: resolve the SKU, detect the environment and create the
// order side by side, dispatch one channel, then hand confirmation to the
// poller.
type SessionManager struct {
	Catalog    *CatalogService
	Orders     *OrderService
	Dispatcher *DispatchService
	Poller     *ConfirmationPoller
	Env        *EnvironmentService
	History    *repositories.PaymentHistoryRepo
	Logger     *slog.Logger

	// Timezone of the discount deadline.
	Location *time.Location

	mu       sync.Mutex
	sessions map[string]*PurchaseSession
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*PurchaseSession)}
}

// New opens a purchase session for a user.
func (m *SessionManager) New(userID int) *PurchaseSession {
	s := &PurchaseSession{
		ID:       uuid.NewString(),
		UserID:   userID,
		Clock:    &CountdownClock{},
		lastSeen: time.Now(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *SessionManager) Get(id string) (*PurchaseSession, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return s, nil
}

// Remove tears a session down: active polling is cancelled, the countdown
// stopped, the entry dropped.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.teardown(s)
	}
}

func (m *SessionManager) teardown(s *PurchaseSession) {
	s.beginAttempt()
	s.mu.Lock()
	h := s.countdown
	s.countdown = nil
	s.mu.Unlock()
	if h != nil {
		s.Clock.Stop(h)
	}
}

// SweepIdle drops sessions idle longer than maxIdle and reports how many.
// This is what bounds subscription polling: a contract nobody is watching
// stops being polled here.
func (m *SessionManager) SweepIdle(maxIdle time.Duration) int {
	now := time.Now()
	var expired []*PurchaseSession
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince(now) > maxIdle {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.teardown(s)
	}
	return len(expired)
}

// Count reports live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartCountdown arms the session's countdown toward today's deadline and
// returns the current value. Re-triggering it while running is harmless.
func (m *SessionManager) StartCountdown(s *PurchaseSession) models.CountdownValue {
	s.Touch()
	loc := m.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now().In(loc)
	h := s.Clock.Start(models.DailyDeadline(now, loc), nil)
	s.mu.Lock()
	s.countdown = h
	s.mu.Unlock()
	return h.Value()
}

// Purchase runs one purchase attempt. Any attempt already running on the
// session is superseded first.
func (m *SessionManager) Purchase(ctx context.Context, s *PurchaseSession, inv bridge.Invoker, in PurchaseInput) (PurchaseResult, error) {
	gen := s.beginAttempt()

	groups, err := m.Catalog.LoadPackages(ctx, in.ContextID)
	if err != nil {
		return PurchaseResult{}, err
	}
	sku, err := FindPackage(groups, in.SKUID)
	if err != nil {
		return PurchaseResult{}, err
	}

	// Detection and creation do not depend on each other; run side by side.
	var (
		wg        sync.WaitGroup
		env       models.EnvironmentProfile
		created   CreationResult
		createErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		env = m.Env.Detect(ctx, inv, in.Hints)
	}()
	go func() {
		defer wg.Done()
		created, createErr = m.Orders.Create(ctx, s.UserID, sku, in.Trace)
	}()
	wg.Wait()
	if createErr != nil {
		return PurchaseResult{}, createErr
	}

	s.mu.Lock()
	if s.gen == gen {
		s.pkg = sku
		s.env = env
		s.creation = created
	}
	s.mu.Unlock()

	d, wait, err := m.Dispatcher.Dispatch(ctx, inv, s.ID, created, env, in.Preferred)
	if err != nil {
		m.recordAttempt(ctx, s, created, "", string(StateFailed))
		return PurchaseResult{}, err
	}

	attemptID := m.recordAttempt(ctx, s, created, d.Channel, string(StateDispatched))
	s.mu.Lock()
	if s.gen == gen {
		s.dispatch = &d
		s.attemptID = attemptID
	}
	s.mu.Unlock()

	m.startConfirmation(s, gen, created, d, wait, env, attemptID)

	return PurchaseResult{SessionID: s.ID, Dispatch: d, State: s.State()}, nil
}

// startConfirmation picks the confirmation leg matching the dispatch.
func (m *SessionManager) startConfirmation(s *PurchaseSession, gen uint64, created CreationResult, d models.Dispatch, wait *NativeWait, env models.EnvironmentProfile, attemptID int64) {
	onOutcome := func(ConfirmOutcome) { s.Touch() }

	switch {
	case created.Contract != nil:
		ps := m.Poller.StartContract(s.ID, s.UserID, created.Contract, attemptID, onOutcome)
		s.adoptPolling(gen, ps)

	case wait != nil:
		s.setNativeCancel(gen, wait.Cancel)
		go m.awaitNative(s, gen, created.Order, wait, attemptID, onOutcome)

	case d.Mode == models.ModeRedirect && env.InAppBrowser == models.BrowserWeChat:
		// The hosted checkout takes over the whole page; confirmation
		// resumes when the user lands back on the purchase screen.

	default:
		ps := m.Poller.StartOrder(s.ID, s.UserID, created.Order, attemptID, onOutcome)
		s.adoptPolling(gen, ps)
	}
}

// awaitNative blocks on the shell's pay_result and only then starts order
// polling. A closed channel means the attempt was superseded; nothing to do.
func (m *SessionManager) awaitNative(s *PurchaseSession, gen uint64, order *models.Order, wait *NativeWait, attemptID int64, onOutcome func(ConfirmOutcome)) {
	res, ok := <-wait.Ch
	s.clearNativeCancel(gen)
	if !ok {
		return
	}
	s.Touch()

	if !res.OK() {
		msg := res.Message
		if msg == "" {
			msg = "payment declined"
		}
		ps := m.Poller.NewFailedSession(s.ID, s.UserID, order.SKUID, attemptID, msg, onOutcome)
		s.adoptPolling(gen, ps)
		return
	}
	ps := m.Poller.StartOrder(s.ID, s.UserID, order, attemptID, onOutcome)
	s.adoptPolling(gen, ps)
}

// CancelAttempt detaches the running attempt on user request. The history
// row is marked here because a silent supersede produces no poller report.
func (m *SessionManager) CancelAttempt(ctx context.Context, s *PurchaseSession) SessionSnapshot {
	s.mu.Lock()
	attemptID := s.attemptID
	s.mu.Unlock()

	s.beginAttempt()

	if m.History != nil && attemptID != 0 {
		if err := m.History.MarkStatus(ctx, attemptID, string(StateCancelled)); err != nil {
			m.log().Warn("payment history update failed", "attempt", attemptID, "err", err)
		}
	}
	return s.Snapshot()
}

func (m *SessionManager) recordAttempt(ctx context.Context, s *PurchaseSession, created CreationResult, channel models.PayChannel, status string) int64 {
	if m.History == nil {
		return 0
	}
	var amount int64
	if created.Order != nil {
		amount = created.Order.Amount
	}
	id, err := m.History.InsertAttempt(ctx, models.PaymentAttempt{
		UserID:    s.UserID,
		SessionID: s.ID,
		SKUID:     created.SKUID(),
		OrderRef:  created.Ref(),
		Channel:   string(channel),
		Amount:    amount,
		Status:    status,
	})
	if err != nil {
		m.log().Warn("payment history insert failed", "session", s.ID, "err", err)
		return 0
	}
	return id
}

func (m *SessionManager) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
