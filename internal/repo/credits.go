package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TryDebitCredits atomically checks the balance and inserts a use transaction
// of -amount. The check and the insert run inside one transaction guarded by
// a per-user advisory lock, so two concurrent debits can never both spend the
// last credit. Returns false without any change when the balance is short.
func (r *PostgresRepository) TryDebitCredits(ctx context.Context, userID string, amount int64, productType string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	var debited bool
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1));`, userID); err != nil {
			return fmt.Errorf("acquire account lock: %w", err)
		}

		var balance int64
		const balanceQ = `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1;`
		if err := tx.QueryRow(ctx, balanceQ, userID).Scan(&balance); err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if balance < amount {
			return nil
		}

		const insertQ = `
INSERT INTO credit_transactions (user_id, amount, type, product_type, metadata)
VALUES ($1, $2, $3, $4, '{}'::jsonb);`
		if _, err := tx.Exec(ctx, insertQ, userID, -amount, string(TxUse), productType); err != nil {
			return fmt.Errorf("insert use transaction: %w", err)
		}
		debited = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("try debit credits: %w", err)
	}
	return debited, nil
}

// InsertCredit appends a positive ledger entry, used for purchases and for
// compensating refunds after a failed generation.
func (r *PostgresRepository) InsertCredit(ctx context.Context, userID string, amount int64, txType TransactionType, productType string, metadata map[string]any) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	meta, err := toJSON(metadata)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO credit_transactions (user_id, amount, type, product_type, metadata)
VALUES ($1, $2, $3, $4, $5::jsonb);`
	if _, err := r.pool.Exec(ctx, q, userID, amount, string(txType), productType, meta); err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	return nil
}

// CreditBalance computes the account balance as the sum of all ledger entries.
func (r *PostgresRepository) CreditBalance(ctx context.Context, userID string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1;`
	var balance int64
	if err := r.pool.QueryRow(ctx, q, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// ListCreditTransactions returns the latest ledger entries for an account.
func (r *PostgresRepository) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, user_id, amount, type, product_type, metadata, created_at
FROM credit_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;`

	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []CreditTransaction
	for rows.Next() {
		var tx CreditTransaction
		var txType string
		var metaJSON []byte
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &txType, &tx.ProductType, &metaJSON, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		tx.Type = TransactionType(txType)
		tx.Metadata = fromJSON(metaJSON)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit transactions: %w", err)
	}
	return txs, nil
}
