package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/events-core/internal/model"
)

// WalletRepository is the append-only ledger store. The balance is never
// stored: it is always the signed sum of the account's ledger entries,
// computed inside the same transaction that appends. The account row exists
// purely as a lock target so appends for one account serialise.
type WalletRepository struct {
	db *pgxpool.Pool
}

// NewWalletRepository constructs a WalletRepository.
func NewWalletRepository(db *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{db: db}
}

// lockAccount creates the account row if needed and takes its row lock.
func lockAccount(ctx context.Context, tx pgx.Tx, accountID string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO wallet_accounts (id, created_at) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		accountID, time.Now().UTC(),
	); err != nil {
		return storeErr("ensure account", err)
	}
	var id string
	if err := tx.QueryRow(ctx,
		`SELECT id FROM wallet_accounts WHERE id = $1 FOR UPDATE`, accountID,
	).Scan(&id); err != nil {
		return storeErr("lock account", err)
	}
	return nil
}

func ledgerSum(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, accountID string) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'debit' THEN -amount_cents ELSE amount_cents END), 0)
		 FROM wallet_transactions
		 WHERE account_id = $1`,
		accountID,
	).Scan(&balance)
	if err != nil {
		return 0, storeErr("sum ledger", err)
	}
	return balance, nil
}

// TopUp appends a top-up entry and returns the resulting balance. A source
// session id that already produced an entry makes this a no-op returning
// ErrDuplicateTopUp with the unchanged balance - the ledger protects itself
// even when called outside the settlement path. Backed twice: by this
// explicit check and by the partial unique index on source_session_id.
func (r *WalletRepository) TopUp(ctx context.Context, accountID string, amountCents int64, sourceSessionID string) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, storeErr("begin topup", err)
	}
	defer tx.Rollback(ctx)

	if err := lockAccount(ctx, tx, accountID); err != nil {
		return 0, err
	}

	if sourceSessionID != "" {
		var dup bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM wallet_transactions WHERE source_session_id = $1)`,
			sourceSessionID,
		).Scan(&dup)
		if err != nil {
			return 0, storeErr("check duplicate topup", err)
		}
		if dup {
			balance, err := ledgerSum(ctx, tx, accountID)
			if err != nil {
				return 0, err
			}
			if err := tx.Commit(ctx); err != nil {
				return 0, storeErr("commit topup", err)
			}
			return balance, ErrDuplicateTopUp
		}
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO wallet_transactions (id, account_id, type, amount_cents, source_session_id, created_at)
		 VALUES ($1, $2, 'topup', $3, NULLIF($4, ''), $5)`,
		uuid.New().String(), accountID, amountCents, sourceSessionID, time.Now().UTC(),
	); err != nil {
		return 0, storeErr("append topup", err)
	}

	balance, err := ledgerSum(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr("commit topup", err)
	}
	return balance, nil
}

// Debit appends a debit entry if the ledger-derived balance covers it. The
// sufficiency check and the append happen under the account lock, so no
// read-then-write gap exists between them.
func (r *WalletRepository) Debit(ctx context.Context, accountID string, amountCents int64) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, storeErr("begin debit", err)
	}
	defer tx.Rollback(ctx)

	if err := lockAccount(ctx, tx, accountID); err != nil {
		return 0, err
	}

	balance, err := ledgerSum(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}
	if balance < amountCents {
		return balance, ErrInsufficientFunds
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO wallet_transactions (id, account_id, type, amount_cents, created_at)
		 VALUES ($1, $2, 'debit', $3, $4)`,
		uuid.New().String(), accountID, amountCents, time.Now().UTC(),
	); err != nil {
		return 0, storeErr("append debit", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr("commit debit", err)
	}
	return balance - amountCents, nil
}

// Balance returns the ledger-derived balance for an account. Accounts with
// no entries report zero.
func (r *WalletRepository) Balance(ctx context.Context, accountID string) (int64, error) {
	return ledgerSum(ctx, r.db, accountID)
}

// Transactions returns the account's ledger entries, oldest first.
func (r *WalletRepository) Transactions(ctx context.Context, accountID string) ([]model.WalletTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, type, amount_cents, COALESCE(source_session_id, ''), created_at
		 FROM wallet_transactions
		 WHERE account_id = $1
		 ORDER BY created_at ASC`,
		accountID,
	)
	if err != nil {
		return nil, storeErr("list transactions", err)
	}
	defer rows.Close()

	var txs []model.WalletTransaction
	for rows.Next() {
		var t model.WalletTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.AmountCents, &t.SourceSessionID, &t.CreatedAt); err != nil {
			return nil, storeErr("scan transaction", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
