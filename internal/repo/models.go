package repo

import "time"

// OnboardingPhase is the closed set of onboarding states a user moves through.
type OnboardingPhase string

const (
	OnboardingNotStarted    OnboardingPhase = "not_started"
	OnboardingAwaitingEmail OnboardingPhase = "awaiting_email"
	OnboardingCompleted     OnboardingPhase = "completed"
)

// InteractionKind records what the user last did, driving follow-up turns.
type InteractionKind string

const (
	InteractionNone            InteractionKind = "none"
	InteractionConversation    InteractionKind = "conversation"
	InteractionImageGeneration InteractionKind = "image_generation"
)

// Direction marks whether a message was received or sent by the bot.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageKind is the payload variant of a stored message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindTemplate MessageKind = "template"
	KindMedia    MessageKind = "media"
)

// DeliveryStatus is the platform delivery state of a message. Incoming
// messages stay at received; outgoing messages only move forward.
type DeliveryStatus string

const (
	StatusReceived  DeliveryStatus = "received"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// StatusRank orders delivery statuses so transitions are forward-only.
// A transition is applied only when the new rank is strictly greater.
func StatusRank(s DeliveryStatus) int {
	switch s {
	case StatusReceived:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return 4
	default:
		return -1
	}
}

// TransactionType is the business reason for a ledger entry.
type TransactionType string

const (
	TxPurchase TransactionType = "purchase"
	TxUse      TransactionType = "use"
	TxRefund   TransactionType = "refund"
)

// User represents the users table row. Email is non-nil exactly when
// OnboardingPhase is completed.
type User struct {
	ID                  string
	WAID                string
	DisplayName         *string
	Email               *string
	OnboardingPhase     OnboardingPhase
	LastInteractionKind InteractionKind
	LastPrompt          *string
	LastPromptAt        *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UserProfile carries data used to upsert a user on first contact.
type UserProfile struct {
	WAID        string
	DisplayName *string
}

// MessageRecord is used to persist conversation logs. ExternalID is the
// platform message ID and doubles as the idempotency key.
type MessageRecord struct {
	ID             string
	ExternalID     string
	UserID         string
	Direction      Direction
	Kind           MessageKind
	Content        *string
	MediaURL       *string
	DeliveryStatus DeliveryStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreditTransaction is an immutable ledger entry. The account balance is the
// sum of all entries for the user; there is no cached counter to drift.
type CreditTransaction struct {
	ID          string
	UserID      string
	Amount      int64
	Type        TransactionType
	ProductType string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// CreditProduct is a purchasable credit pack from the offerings catalog.
type CreditProduct struct {
	ID        string
	Name      string
	Credits   int64
	Price     int64
	Currency  string
	Active    bool
	CreatedAt time.Time
}
