package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/provider"
	"github.com/campuskit/events-core/internal/repository"
)

// The fakes below mirror the repositories' atomicity contracts with a
// single mutex per store, so the concurrency properties of the services can
// be exercised without Postgres.

type memRegStore struct {
	mu       sync.Mutex
	events   map[string]*model.Event
	regs     map[string]*model.Registration
	sessions *memSessionStore
	seq      int64
}

func newMemRegStore(sessions *memSessionStore) *memRegStore {
	return &memRegStore{
		events:   make(map[string]*model.Event),
		regs:     make(map[string]*model.Registration),
		sessions: sessions,
	}
}

func (m *memRegStore) addEvent(ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
}

func (m *memRegStore) GetByID(_ context.Context, id string) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *memRegStore) nextCreatedAt() time.Time {
	m.seq++
	return time.Unix(0, m.seq)
}

func (m *memRegStore) newSession(refID string, amount int64, now time.Time) *model.PaymentSession {
	return &model.PaymentSession{
		ID:          uuid.New().String(),
		Kind:        model.KindEventRegistration,
		ReferenceID: refID,
		AmountCents: amount,
		Status:      model.SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (m *memRegStore) Admit(_ context.Context, eventID, userID string) (*model.Registration, *model.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	if time.Now().After(ev.RegistrationDeadline) {
		return nil, nil, repository.ErrRegistrationClosed
	}
	for _, reg := range m.regs {
		if reg.EventID == eventID && reg.UserID == userID && reg.Active() {
			return nil, nil, repository.ErrAlreadyRegistered
		}
	}

	now := m.nextCreatedAt()
	reg := &model.Registration{
		ID:        uuid.New().String(),
		EventID:   eventID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var session *model.PaymentSession
	switch {
	case ev.ConfirmedCount >= ev.Capacity:
		reg.Status = model.RegistrationWaitlisted
	case ev.RequiresPayment:
		reg.Status = model.RegistrationPending
		session = m.newSession(reg.ID, ev.PriceCents, now)
		reg.PaymentSessionID = session.ID
		m.sessions.put(session)
	default:
		reg.Status = model.RegistrationConfirmed
		ev.ConfirmedCount++
	}
	m.regs[reg.ID] = reg
	cp := *reg
	return &cp, session, nil
}

func (m *memRegStore) Cancel(_ context.Context, id string) (*model.Registration, *model.Registration, *model.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.regs[id]
	if !ok || reg.Status == model.RegistrationCancelled {
		return nil, nil, nil, repository.ErrNotFound
	}
	ev := m.events[reg.EventID]
	wasConfirmed := reg.Status == model.RegistrationConfirmed
	reg.Status = model.RegistrationCancelled

	var promoted *model.Registration
	var session *model.PaymentSession
	if wasConfirmed {
		ev.ConfirmedCount--
		if next := m.earliestWaitlisted(reg.EventID); next != nil {
			if ev.RequiresPayment {
				next.Status = model.RegistrationPending
				session = m.newSession(next.ID, ev.PriceCents, time.Now())
				next.PaymentSessionID = session.ID
				m.sessions.put(session)
			} else {
				next.Status = model.RegistrationConfirmed
				ev.ConfirmedCount++
			}
			cp := *next
			promoted = &cp
		}
	}
	cancelled := *reg
	return &cancelled, promoted, session, nil
}

func (m *memRegStore) earliestWaitlisted(eventID string) *model.Registration {
	var waiting []*model.Registration
	for _, reg := range m.regs {
		if reg.EventID == eventID && reg.Status == model.RegistrationWaitlisted {
			waiting = append(waiting, reg)
		}
	}
	if len(waiting) == 0 {
		return nil
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].CreatedAt.Before(waiting[j].CreatedAt) })
	return waiting[0]
}

func (m *memRegStore) ConfirmPending(_ context.Context, id string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.regs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if reg.Status != model.RegistrationPending {
		return nil, repository.ErrInvalidState
	}
	ev := m.events[reg.EventID]
	if ev.ConfirmedCount < ev.Capacity {
		reg.Status = model.RegistrationConfirmed
		ev.ConfirmedCount++
	} else {
		reg.Status = model.RegistrationWaitlisted
	}
	cp := *reg
	return &cp, nil
}

func (m *memRegStore) Get(_ context.Context, id string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

func (m *memRegStore) FindConfirmed(_ context.Context, userID, eventID string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.regs {
		if reg.EventID == eventID && reg.UserID == userID && reg.Status == model.RegistrationConfirmed {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRegStore) countByStatus(eventID string) map[model.RegistrationStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.RegistrationStatus]int)
	for _, reg := range m.regs {
		if reg.EventID == eventID {
			counts[reg.Status]++
		}
	}
	return counts
}

type memSessionStore struct {
	mu    sync.Mutex
	byID  map[string]*model.PaymentSession
	byExt map[string]string
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{byID: make(map[string]*model.PaymentSession), byExt: make(map[string]string)}
}

func (m *memSessionStore) put(s *model.PaymentSession) {
	cp := *s
	m.byID[cp.ID] = &cp
	if cp.ExternalSessionID != "" {
		m.byExt[cp.ExternalSessionID] = cp.ID
	}
}

func (m *memSessionStore) Create(_ context.Context, s *model.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(s)
	return nil
}

func (m *memSessionStore) Bind(_ context.Context, localID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[localID]
	if !ok {
		return repository.ErrNotFound
	}
	if s.ExternalSessionID != "" && s.ExternalSessionID != externalID {
		return repository.ErrAlreadyBound
	}
	s.ExternalSessionID = externalID
	m.byExt[externalID] = localID
	return nil
}

func (m *memSessionStore) Settle(_ context.Context, externalID string, terminal model.SessionStatus) (*model.PaymentSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byExt[externalID]
	if !ok {
		return nil, false, repository.ErrUnknownSession
	}
	s := m.byID[id]
	if s.Status != model.SessionPending {
		cp := *s
		return &cp, false, nil
	}
	s.Status = terminal
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, true, nil
}

func (m *memSessionStore) MarkApplied(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if s.AppliedAt != nil {
		return false, nil
	}
	now := time.Now()
	s.AppliedAt = &now
	return true, nil
}

func (m *memSessionStore) ListUnapplied(_ context.Context, limit int) ([]model.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PaymentSession
	for _, s := range m.byID {
		if s.Status == model.SessionSettled && s.AppliedAt == nil {
			out = append(out, *s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memSessionStore) get(id string) *model.PaymentSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

type memLedger struct {
	mu       sync.Mutex
	entries  map[string][]model.WalletTransaction
	bySource map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{entries: make(map[string][]model.WalletTransaction), bySource: make(map[string]bool)}
}

func (m *memLedger) sumLocked(accountID string) int64 {
	var balance int64
	for _, tx := range m.entries[accountID] {
		balance += tx.Signed()
	}
	return balance
}

func (m *memLedger) TopUp(_ context.Context, accountID string, amount int64, source string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if source != "" && m.bySource[source] {
		return m.sumLocked(accountID), repository.ErrDuplicateTopUp
	}
	m.entries[accountID] = append(m.entries[accountID], model.WalletTransaction{
		ID: uuid.New().String(), AccountID: accountID, Type: model.TxTopUp,
		AmountCents: amount, SourceSessionID: source, CreatedAt: time.Now(),
	})
	if source != "" {
		m.bySource[source] = true
	}
	return m.sumLocked(accountID), nil
}

func (m *memLedger) Debit(_ context.Context, accountID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.sumLocked(accountID)
	if balance < amount {
		return balance, repository.ErrInsufficientFunds
	}
	m.entries[accountID] = append(m.entries[accountID], model.WalletTransaction{
		ID: uuid.New().String(), AccountID: accountID, Type: model.TxDebit,
		AmountCents: amount, CreatedAt: time.Now(),
	})
	return balance - amount, nil
}

func (m *memLedger) Balance(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumLocked(accountID), nil
}

func (m *memLedger) Transactions(_ context.Context, accountID string) ([]model.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.WalletTransaction(nil), m.entries[accountID]...), nil
}

type memNotifStore struct {
	mu    sync.Mutex
	items []model.Notification
}

func (m *memNotifStore) Insert(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *n)
	return nil
}

func (m *memNotifStore) messagesFor(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, n := range m.items {
		if n.UserID == userID {
			out = append(out, n.Message)
		}
	}
	return out
}

type memCertStore struct {
	mu    sync.Mutex
	certs map[string]*model.Certificate
}

func newMemCertStore() *memCertStore {
	return &memCertStore{certs: make(map[string]*model.Certificate)}
}

func certKey(userID, eventID string) string { return userID + "|" + eventID }

func (m *memCertStore) Issue(_ context.Context, c *model.Certificate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := certKey(c.UserID, c.EventID)
	if _, ok := m.certs[key]; ok {
		return false, nil
	}
	cp := *c
	m.certs[key] = &cp
	return true, nil
}

func (m *memCertStore) Get(_ context.Context, userID, eventID string) (*model.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[certKey(userID, eventID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type memApps struct {
	mu   sync.Mutex
	apps map[string]*repository.Application
}

func newMemApps() *memApps {
	return &memApps{apps: make(map[string]*repository.Application)}
}

func (m *memApps) Create(_ context.Context, vendorUserID, eventID string) (*repository.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app := &repository.Application{
		ID: uuid.New().String(), VendorUserID: vendorUserID, EventID: eventID, CreatedAt: time.Now(),
	}
	m.apps[app.ID] = app
	cp := *app
	return &cp, nil
}

func (m *memApps) Get(_ context.Context, id string) (*repository.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (m *memApps) MarkPaid(_ context.Context, id, sessionID string) (*repository.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	app.Paid = true
	app.PaidSessionID = sessionID
	cp := *app
	return &cp, nil
}

type fakeCheckout struct {
	mu   sync.Mutex
	n    int
	fail bool
}

func (f *fakeCheckout) CreateSession(_ context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("provider unreachable")
	}
	f.n++
	return &provider.CheckoutSession{
		ExternalID:  fmt.Sprintf("ext-%d", f.n),
		CheckoutURL: "https://pay.test/" + req.Reference,
	}, nil
}

// testEnv wires every service over the in-memory stores.
type testEnv struct {
	regs     *memRegStore
	sessions *memSessionStore
	ledger   *memLedger
	notifs   *memNotifStore
	certs    *memCertStore
	apps     *memApps
	checkout *fakeCheckout

	regSvc    *RegistrationService
	walletSvc *WalletService
	appSvc    *ApplicationService
	engine    *SettlementEngine
	issuer    *CertificateIssuer
}

func newTestEnv() *testEnv {
	sessions := newMemSessionStore()
	env := &testEnv{
		regs:     newMemRegStore(sessions),
		sessions: sessions,
		ledger:   newMemLedger(),
		notifs:   &memNotifStore{},
		certs:    newMemCertStore(),
		apps:     newMemApps(),
		checkout: &fakeCheckout{},
	}
	dispatcher := NewDispatcher(env.notifs, nil)
	env.regSvc = NewRegistrationService(env.regs, env.sessions, env.checkout, dispatcher)
	env.walletSvc = NewWalletService(env.ledger, env.sessions, env.checkout, dispatcher)
	env.appSvc = NewApplicationService(env.apps, env.sessions, env.checkout)
	env.engine = NewSettlementEngine(env.sessions, env.regSvc, env.walletSvc, env.apps, dispatcher)
	env.issuer = NewCertificateIssuer(env.certs, env.regs, env.regs, noopRenderer{}, dispatcher)
	return env
}

type noopRenderer struct{}

func (noopRenderer) Render(context.Context, *model.Certificate) {}

func (e *testEnv) addEvent(capacity int, requiresPayment bool, price int64) *model.Event {
	ev := &model.Event{
		ID:                   uuid.New().String(),
		Name:                 "Test Event",
		Capacity:             capacity,
		RequiresPayment:      requiresPayment,
		PriceCents:           price,
		StartAt:              time.Now().Add(24 * time.Hour),
		EndAt:                time.Now().Add(26 * time.Hour),
		RegistrationDeadline: time.Now().Add(23 * time.Hour),
		CreatedAt:            time.Now(),
	}
	e.regs.addEvent(ev)
	return ev
}
