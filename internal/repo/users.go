package repo

import (
	"context"
	"fmt"
	"time"
)

const userColumns = `id, wa_id, display_name, email, onboarding_phase, last_interaction_kind, last_prompt, last_prompt_at, created_at, updated_at`

// UpsertUserByWA stores or updates the user profile based on the WhatsApp ID.
// A first contact creates the row with onboarding not started.
func (r *PostgresRepository) UpsertUserByWA(ctx context.Context, profile UserProfile) (*User, error) {
	const q = `
INSERT INTO users (wa_id, display_name, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (wa_id) DO UPDATE SET
    display_name = COALESCE(EXCLUDED.display_name, users.display_name),
    updated_at = NOW()
RETURNING ` + userColumns + `;`

	row := r.pool.QueryRow(ctx, q, profile.WAID, profile.DisplayName)
	return scanUser(row)
}

// GetUserByID returns user by internal identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE id = $1
LIMIT 1;`

	row := r.pool.QueryRow(ctx, q, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// SetOnboarding moves the user to the given onboarding phase. Email must be
// provided exactly when the phase is completed.
func (r *PostgresRepository) SetOnboarding(ctx context.Context, userID string, phase OnboardingPhase, email *string) error {
	if (phase == OnboardingCompleted) != (email != nil) {
		return fmt.Errorf("onboarding phase %s inconsistent with email presence", phase)
	}
	const q = `
UPDATE users
SET onboarding_phase = $2,
    email = COALESCE($3, email),
    updated_at = NOW()
WHERE id = $1;`

	ct, err := r.pool.Exec(ctx, q, userID, string(phase), email)
	if err != nil {
		return fmt.Errorf("set onboarding: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// SetGenerationContext records the refined prompt of the latest generation so
// the next turn can refer back to it. Persisted before the provider call.
func (r *PostgresRepository) SetGenerationContext(ctx context.Context, userID, refinedPrompt string, at time.Time) error {
	const q = `
UPDATE users
SET last_interaction_kind = $2,
    last_prompt = $3,
    last_prompt_at = $4,
    updated_at = NOW()
WHERE id = $1;`

	ct, err := r.pool.Exec(ctx, q, userID, string(InteractionImageGeneration), refinedPrompt, at)
	if err != nil {
		return fmt.Errorf("set generation context: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// ResetInteraction clears the generation context and records the new
// interaction kind.
func (r *PostgresRepository) ResetInteraction(ctx context.Context, userID string, kind InteractionKind) error {
	const q = `
UPDATE users
SET last_interaction_kind = $2,
    last_prompt = NULL,
    last_prompt_at = NULL,
    updated_at = NOW()
WHERE id = $1;`

	ct, err := r.pool.Exec(ctx, q, userID, string(kind))
	if err != nil {
		return fmt.Errorf("reset interaction: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var phase, kind string
	if err := row.Scan(&u.ID, &u.WAID, &u.DisplayName, &u.Email, &phase, &kind, &u.LastPrompt, &u.LastPromptAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.OnboardingPhase = OnboardingPhase(phase)
	u.LastInteractionKind = InteractionKind(kind)
	return &u, nil
}
