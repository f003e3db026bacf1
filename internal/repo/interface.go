package repo

import (
	"context"
	"io/fs"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	UpsertUserByWA(ctx context.Context, profile UserProfile) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	SetOnboarding(ctx context.Context, userID string, phase OnboardingPhase, email *string) error
	SetGenerationContext(ctx context.Context, userID, refinedPrompt string, at time.Time) error
	ResetInteraction(ctx context.Context, userID string, kind InteractionKind) error

	// Messages
	InsertMessage(ctx context.Context, msg MessageRecord) (bool, error)
	ListRecentMessages(ctx context.Context, userID string, limit int) ([]MessageRecord, error)
	UpdateMessageStatus(ctx context.Context, externalID string, status DeliveryStatus) (bool, error)

	// Credit ledger
	TryDebitCredits(ctx context.Context, userID string, amount int64, productType string) (bool, error)
	InsertCredit(ctx context.Context, userID string, amount int64, txType TransactionType, productType string, metadata map[string]any) error
	CreditBalance(ctx context.Context, userID string) (int64, error)
	ListCreditTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)

	// Offerings catalog
	ListActiveCreditProducts(ctx context.Context) ([]CreditProduct, error)
	CheapestActiveProduct(ctx context.Context) (*CreditProduct, error)
}
