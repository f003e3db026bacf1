package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// -- Users --

func (r *SQLiteRepository) UpsertUserByWA(ctx context.Context, profile UserProfile) (*User, error) {
	// SQLite has no gen_random_uuid(); IDs are generated in Go. On conflict
	// the pre-generated ID is discarded and the existing row wins.
	const q = `
INSERT INTO users (id, wa_id, display_name, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (wa_id) DO UPDATE SET
    display_name = COALESCE(excluded.display_name, users.display_name),
    updated_at = CURRENT_TIMESTAMP
RETURNING ` + userColumns + `;`

	row := r.db.QueryRowContext(ctx, q, uuid.NewString(), profile.WAID, profile.DisplayName)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE id = ?
LIMIT 1;`

	row := r.db.QueryRowContext(ctx, q, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (r *SQLiteRepository) SetOnboarding(ctx context.Context, userID string, phase OnboardingPhase, email *string) error {
	if (phase == OnboardingCompleted) != (email != nil) {
		return fmt.Errorf("onboarding phase %s inconsistent with email presence", phase)
	}
	const q = `
UPDATE users
SET onboarding_phase = ?,
    email = COALESCE(?, email),
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, string(phase), email, userID)
	if err != nil {
		return fmt.Errorf("set onboarding: %w", err)
	}
	return requireRow(res, userID)
}

func (r *SQLiteRepository) SetGenerationContext(ctx context.Context, userID, refinedPrompt string, at time.Time) error {
	const q = `
UPDATE users
SET last_interaction_kind = ?,
    last_prompt = ?,
    last_prompt_at = ?,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, string(InteractionImageGeneration), refinedPrompt, at, userID)
	if err != nil {
		return fmt.Errorf("set generation context: %w", err)
	}
	return requireRow(res, userID)
}

func (r *SQLiteRepository) ResetInteraction(ctx context.Context, userID string, kind InteractionKind) error {
	const q = `
UPDATE users
SET last_interaction_kind = ?,
    last_prompt = NULL,
    last_prompt_at = NULL,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, string(kind), userID)
	if err != nil {
		return fmt.Errorf("reset interaction: %w", err)
	}
	return requireRow(res, userID)
}

// -- Messages --

func (r *SQLiteRepository) InsertMessage(ctx context.Context, msg MessageRecord) (bool, error) {
	const q = `
INSERT INTO messages (id, external_id, user_id, direction, kind, content, media_url, delivery_status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (external_id) DO NOTHING;`

	res, err := r.db.ExecContext(ctx, q,
		uuid.NewString(),
		msg.ExternalID,
		msg.UserID,
		string(msg.Direction),
		string(msg.Kind),
		msg.Content,
		msg.MediaURL,
		string(msg.DeliveryStatus),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message rows: %w", err)
	}
	return affected > 0, nil
}

func (r *SQLiteRepository) ListRecentMessages(ctx context.Context, userID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT external_id, direction, kind, content, media_url, delivery_status, created_at
FROM messages
WHERE user_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?;`

	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var msg MessageRecord
		var direction, kind, status string
		if err := rows.Scan(&msg.ExternalID, &direction, &kind, &msg.Content, &msg.MediaURL, &status, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		msg.UserID = userID
		msg.Direction = Direction(direction)
		msg.Kind = MessageKind(kind)
		msg.DeliveryStatus = DeliveryStatus(status)
		records = append(records, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}

func (r *SQLiteRepository) UpdateMessageStatus(ctx context.Context, externalID string, status DeliveryStatus) (bool, error) {
	newRank := StatusRank(status)
	if newRank < 0 {
		return false, fmt.Errorf("unknown delivery status: %s", status)
	}

	const q = `
UPDATE messages
SET delivery_status = ?,
    updated_at = CURRENT_TIMESTAMP
WHERE external_id = ?
  AND direction = 'outgoing'
  AND CASE delivery_status
        WHEN 'received' THEN 0
        WHEN 'sent' THEN 1
        WHEN 'delivered' THEN 2
        WHEN 'read' THEN 3
        WHEN 'failed' THEN 4
      END < ?;`

	res, err := r.db.ExecContext(ctx, q, string(status), externalID, newRank)
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update message status rows: %w", err)
	}
	return affected > 0, nil
}

// -- Credit ledger --

func (r *SQLiteRepository) TryDebitCredits(ctx context.Context, userID string, amount int64, productType string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	r.debitMu.Lock()
	defer r.debitMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	const balanceQ = `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?;`
	if err := tx.QueryRowContext(ctx, balanceQ, userID).Scan(&balance); err != nil {
		return false, fmt.Errorf("read balance: %w", err)
	}
	if balance < amount {
		return false, nil
	}

	const insertQ = `
INSERT INTO credit_transactions (id, user_id, amount, type, product_type, metadata)
VALUES (?, ?, ?, ?, ?, '{}');`
	if _, err := tx.ExecContext(ctx, insertQ, uuid.NewString(), userID, -amount, string(TxUse), productType); err != nil {
		return false, fmt.Errorf("insert use transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit debit tx: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) InsertCredit(ctx context.Context, userID string, amount int64, txType TransactionType, productType string, metadata map[string]any) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	meta, err := toJSON(metadata)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO credit_transactions (id, user_id, amount, type, product_type, metadata)
VALUES (?, ?, ?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, uuid.NewString(), userID, amount, string(txType), productType, meta); err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CreditBalance(ctx context.Context, userID string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?;`
	var balance int64
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

func (r *SQLiteRepository) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, user_id, amount, type, product_type, metadata, created_at
FROM credit_transactions
WHERE user_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?;`

	rows, err := r.db.QueryContext(ctx, q, userID, limit)
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

// -- Offerings catalog --

func (r *SQLiteRepository) ListActiveCreditProducts(ctx context.Context) ([]CreditProduct, error) {
	const q = `
SELECT ` + productColumns + `
FROM credit_products
WHERE active = 1
ORDER BY price ASC;`

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list credit products: %w", err)
	}
	defer rows.Close()

	var products []CreditProduct
	for rows.Next() {
		var p CreditProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Credits, &p.Price, &p.Currency, &p.Active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit products: %w", err)
	}
	return products, nil
}

func (r *SQLiteRepository) CheapestActiveProduct(ctx context.Context) (*CreditProduct, error) {
	products, err := r.ListActiveCreditProducts(ctx)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

func requireRow(res sql.Result, userID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}
