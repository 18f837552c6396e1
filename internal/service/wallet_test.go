package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/campuskit/events-core/internal/model"
	"github.com/campuskit/events-core/internal/repository"
)

func TestTopUpIncreasesBalance(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	balance, err := env.walletSvc.ApplyTopUp(ctx, "acct-1", 500, "src-1")
	if err != nil {
		t.Fatalf("topup: %v", err)
	}
	if balance != 500 {
		t.Fatalf("balance = %d, want 500", balance)
	}
	if msgs := env.notifs.messagesFor("acct-1"); len(msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(msgs))
	}
}

func TestTopUpDuplicateSourceIsNoOp(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.walletSvc.ApplyTopUp(ctx, "acct-1", 500, "src-1"); err != nil {
		t.Fatalf("first topup: %v", err)
	}
	balance, err := env.walletSvc.ApplyTopUp(ctx, "acct-1", 500, "src-1")
	if err != nil {
		t.Fatalf("duplicate topup: %v", err)
	}
	if balance != 500 {
		t.Fatalf("balance = %d, want 500 after duplicate", balance)
	}
	txs, _ := env.walletSvc.Transactions(ctx, "acct-1")
	if len(txs) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(txs))
	}
}

func TestConcurrentSameSourceTopUpsAppendOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.walletSvc.ApplyTopUp(ctx, "acct-1", 300, "src-1"); err != nil {
				t.Errorf("topup: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := env.walletSvc.Balance(ctx, "acct-1")
	if balance != 300 {
		t.Fatalf("balance = %d, want 300", balance)
	}
	txs, _ := env.walletSvc.Transactions(ctx, "acct-1")
	if len(txs) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(txs))
	}
}

func TestDebitRejectsOverdraft(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.walletSvc.ApplyTopUp(ctx, "acct-1", 100, "src-1"); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if _, err := env.walletSvc.ApplyDebit(ctx, "acct-1", 150); !errors.Is(err, repository.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	balance, _ := env.walletSvc.Balance(ctx, "acct-1")
	if balance != 100 {
		t.Fatalf("balance = %d after rejected debit, want 100", balance)
	}
}

// Concurrent debits against a shared balance never drive it negative: each
// check-and-append is atomic in the store.
func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.walletSvc.ApplyTopUp(ctx, "acct-1", 1000, "src-1"); err != nil {
		t.Fatalf("topup: %v", err)
	}

	const callers = 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	var granted int
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.walletSvc.ApplyDebit(ctx, "acct-1", 100)
			switch {
			case err == nil:
				mu.Lock()
				granted++
				mu.Unlock()
			case errors.Is(err, repository.ErrInsufficientFunds):
			default:
				t.Errorf("debit: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Fatalf("granted debits = %d, want 10", granted)
	}
	balance, _ := env.walletSvc.Balance(ctx, "acct-1")
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
}

func TestBalanceIsSignedSumOfLedger(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.walletSvc.ApplyTopUp(ctx, "acct-1", 700, "src-1")
	env.walletSvc.ApplyTopUp(ctx, "acct-1", 300, "src-2")
	env.walletSvc.ApplyDebit(ctx, "acct-1", 250)

	balance, err := env.walletSvc.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 750 {
		t.Fatalf("balance = %d, want 750", balance)
	}

	txs, _ := env.walletSvc.Transactions(ctx, "acct-1")
	var sum int64
	for _, tx := range txs {
		sum += tx.Signed()
	}
	if sum != balance {
		t.Fatalf("signed sum %d != balance %d", sum, balance)
	}
}

func TestWalletValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.walletSvc.InitiateTopUp(ctx, "", 100); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing account: %v", err)
	}
	if _, err := env.walletSvc.InitiateTopUp(ctx, "acct-1", 0); !errors.Is(err, repository.ErrInvalidAmount) {
		t.Fatalf("zero amount: %v", err)
	}
	if _, err := env.walletSvc.ApplyTopUp(ctx, "acct-1", -5, "src-1"); !errors.Is(err, repository.ErrInvalidAmount) {
		t.Fatalf("negative topup: %v", err)
	}
	if _, err := env.walletSvc.ApplyDebit(ctx, "acct-1", -5); !errors.Is(err, repository.ErrInvalidAmount) {
		t.Fatalf("negative debit: %v", err)
	}
}

func TestInitiateTopUpBindsCheckout(t *testing.T) {
	env := newTestEnv()
	url, err := env.walletSvc.InitiateTopUp(context.Background(), "acct-1", 400)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if url == "" {
		t.Fatalf("no checkout url")
	}
	unsettled, _ := env.sessions.ListUnapplied(context.Background(), 10)
	if len(unsettled) != 0 {
		t.Fatalf("session settled before any callback")
	}
	session := env.sessions.get(findSessionByExt(env.sessions, "ext-1"))
	if session == nil || session.Kind != model.KindWalletTopUp || session.Status != model.SessionPending {
		t.Fatalf("unexpected session state: %+v", session)
	}
}

func findSessionByExt(m *memSessionStore, ext string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byExt[ext]
}
