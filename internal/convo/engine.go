// Package convo contains the message router and generation dispatcher: the
// pipeline that takes one inbound event through onboarding, classification,
// credit-gated dispatch and reply.
package convo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bot-gambar/internal/cache"
	"bot-gambar/internal/intent"
	"bot-gambar/internal/metrics"
	"bot-gambar/internal/nlu"
	"bot-gambar/internal/onboarding"
	"bot-gambar/internal/repo"
	"bot-gambar/internal/wa"
)

// Sender delivers outbound messages and returns the provider message ID.
type Sender interface {
	SendText(ctx context.Context, to, text string) (string, error)
	SendImage(ctx context.Context, to, imageURL, caption string) (string, error)
}

// ChatModel is the prompt-refinement and freeform-chat collaborator.
type ChatModel interface {
	RefinePrompt(ctx context.Context, raw string) (string, error)
	Chat(ctx context.Context, history []nlu.Turn, text string) (string, error)
}

// ImageProvider generates images for a prompt and returns result URLs.
type ImageProvider interface {
	Generate(ctx context.Context, prompt string) ([]string, error)
}

// EngineConfig carries router tunables.
type EngineConfig struct {
	HistoryLimit int
	OfferingsTTL time.Duration
}

// Engine is the top-level orchestrator for inbound events. Events for
// distinct users run fully in parallel; events for the same user are
// serialized by a per-user lock so credit and context mutation stay ordered.
type Engine struct {
	repo       repo.Repository
	sender     Sender
	chat       ChatModel
	images     ImageProvider
	cache      *cache.Redis
	metrics    *metrics.Metrics
	logger     *slog.Logger
	classifier *intent.Classifier
	keywords   intent.Keywords
	cfg        EngineConfig

	userLocks sync.Map // wa_id -> *sync.Mutex
}

// New builds the engine. The Redis cache may be nil; offerings lookups then
// always hit the repository.
func New(repository repo.Repository, chat ChatModel, images ImageProvider, sender Sender, redis *cache.Redis, m *metrics.Metrics, logger *slog.Logger, keywords intent.Keywords, cfg EngineConfig) *Engine {
	return &Engine{
		repo:       repository,
		sender:     sender,
		chat:       chat,
		images:     images,
		cache:      redis,
		metrics:    m,
		logger:     logger.With("component", "convo"),
		classifier: intent.New(keywords),
		keywords:   keywords,
		cfg:        cfg,
	}
}

// ProcessIncoming drives one inbound message through the pipeline stages:
// intake, onboarding gate, classification, action, persistence. Errors are
// returned only when no user-visible side effect happened yet, so a platform
// retry is safe; upstream failures are converted to apologetic replies.
func (e *Engine) ProcessIncoming(ctx context.Context, in wa.InboundMessage) error {
	unlock := e.lockUser(in.From)
	defer unlock()

	user, err := e.repo.UpsertUserByWA(ctx, repo.UserProfile{
		WAID:        in.From,
		DisplayName: optional(in.ProfileName),
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	inserted, err := e.repo.InsertMessage(ctx, repo.MessageRecord{
		ExternalID:     in.ExternalID,
		UserID:         user.ID,
		Direction:      repo.DirectionIncoming,
		Kind:           messageKind(in.Kind),
		Content:        optional(in.Text),
		DeliveryStatus: repo.StatusReceived,
	})
	if err != nil {
		return fmt.Errorf("store incoming message: %w", err)
	}
	if !inserted {
		// At-least-once delivery: the same external ID was already handled.
		e.logger.Debug("duplicate inbound message ignored", "external_id", in.ExternalID)
		return nil
	}
	if e.metrics != nil {
		e.metrics.IncomingMessages.WithLabelValues(in.Kind).Inc()
	}

	if outcome := onboarding.Evaluate(user.OnboardingPhase, in.Text); outcome.Intercepted {
		if err := e.repo.SetOnboarding(ctx, user.ID, outcome.NewPhase, outcome.Email); err != nil {
			return fmt.Errorf("persist onboarding phase: %w", err)
		}
		for _, reply := range outcome.Replies {
			e.sendText(ctx, user, reply)
		}
		return nil
	}

	if in.Kind != "text" || in.Text == "" {
		e.sendText(ctx, user, unsupportedReply)
		return nil
	}

	result := e.classifier.Classify(in.Text, intent.State{
		HasGenerationContext: user.LastInteractionKind == repo.InteractionImageGeneration && user.LastPrompt != nil,
		PriorPrompt:          deref(user.LastPrompt),
	})
	if e.metrics != nil {
		e.metrics.Intents.WithLabelValues(result.Kind.String()).Inc()
	}

	switch result.Kind {
	case intent.Greeting:
		e.sendText(ctx, user, greetingReply)
		return nil
	case intent.CreditBalance:
		e.replyBalance(ctx, user)
		return nil
	case intent.BuyCredits:
		e.replyOfferings(ctx, user)
		return nil
	case intent.ImageGenerate, intent.ImageModify:
		return e.handleGeneration(ctx, user, in.Text, result)
	default:
		return e.handleChat(ctx, user, in)
	}
}

// ProcessStatus applies a delivery-status callback. Unknown IDs, unknown
// statuses and out-of-order callbacks are all no-ops.
func (e *Engine) ProcessStatus(ctx context.Context, update wa.StatusUpdate) error {
	status, ok := deliveryStatus(update.Status)
	if !ok {
		e.logger.Debug("unknown delivery status ignored", "status", update.Status)
		return nil
	}
	applied, err := e.repo.UpdateMessageStatus(ctx, update.ExternalID, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if !applied {
		e.logger.Debug("status callback was a no-op", "external_id", update.ExternalID, "status", status)
	}
	return nil
}

func (e *Engine) handleChat(ctx context.Context, user *repo.User, in wa.InboundMessage) error {
	limit := e.cfg.HistoryLimit
	if limit <= 0 {
		limit = 10
	}

	records, err := e.repo.ListRecentMessages(ctx, user.ID, limit+1)
	if err != nil {
		e.logger.Warn("loading chat history failed, continuing without", "error", err, "user_id", user.ID)
		records = nil
	}

	reply, err := e.chat.Chat(ctx, historyTurns(records, in.ExternalID, limit), in.Text)
	if err != nil {
		e.logger.Error("chat model failed", "error", err, "user_id", user.ID)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("chat").Inc()
		}
		e.sendText(ctx, user, chatApologyReply)
		return nil
	}

	e.sendText(ctx, user, reply)
	e.sendText(ctx, user, nudgeReply)

	// A finished generation context must not leak into later turns once the
	// user has moved on to plain conversation.
	if user.LastInteractionKind == repo.InteractionImageGeneration {
		if err := e.repo.ResetInteraction(ctx, user.ID, repo.InteractionConversation); err != nil {
			e.logger.Error("resetting interaction failed", "error", err, "user_id", user.ID)
		}
	}
	return nil
}

func (e *Engine) replyBalance(ctx context.Context, user *repo.User) {
	balance, err := e.repo.CreditBalance(ctx, user.ID)
	if err != nil {
		e.logger.Error("reading balance failed", "error", err, "user_id", user.ID)
		e.sendText(ctx, user, chatApologyReply)
		return
	}

	msg := fmt.Sprintf("You have %d credit(s). Each image costs 1 credit.", balance)
	if balance == 0 {
		// The cheapest-offering hint reads the live catalog, not the cache.
		cheapest, err := e.repo.CheapestActiveProduct(ctx)
		if err != nil || cheapest == nil {
			msg += " Send \"buy credits\" to top up."
		} else {
			msg += fmt.Sprintf(" The %s pack gives you %d credits for %s. Send \"buy credits\" to see all packs.",
				cheapest.Name, cheapest.Credits, formatPrice(*cheapest))
		}
	}
	e.sendText(ctx, user, msg)
}

func (e *Engine) replyOfferings(ctx context.Context, user *repo.User) {
	products, err := e.activeProducts(ctx)
	if err != nil {
		e.logger.Error("loading offerings failed", "error", err, "user_id", user.ID)
		e.sendText(ctx, user, chatApologyReply)
		return
	}
	e.sendText(ctx, user, formatOfferings(products))
}

// sendText delivers a reply and appends the outgoing record. Send failures
// are logged but never abort the rest of the turn.
func (e *Engine) sendText(ctx context.Context, user *repo.User, text string) {
	extID, err := e.sender.SendText(ctx, user.WAID, text)
	if err != nil {
		e.logger.Error("sending text failed", "error", err, "user_id", user.ID)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("send").Inc()
		}
		return
	}
	e.appendOutgoing(ctx, user.ID, extID, repo.KindText, text, "")
}

func (e *Engine) appendOutgoing(ctx context.Context, userID, externalID string, kind repo.MessageKind, content, mediaURL string) {
	if _, err := e.repo.InsertMessage(ctx, repo.MessageRecord{
		ExternalID:     externalID,
		UserID:         userID,
		Direction:      repo.DirectionOutgoing,
		Kind:           kind,
		Content:        optional(content),
		MediaURL:       optional(mediaURL),
		DeliveryStatus: repo.StatusSent,
	}); err != nil {
		e.logger.Error("persisting outgoing message failed", "error", err, "external_id", externalID)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("persist").Inc()
		}
	}
}

func (e *Engine) lockUser(waID string) func() {
	v, _ := e.userLocks.LoadOrStore(waID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func historyTurns(records []repo.MessageRecord, currentExternalID string, limit int) []nlu.Turn {
	turns := make([]nlu.Turn, 0, len(records))
	// Records arrive most-recent-first; walk backwards for chronological
	// order and skip the message currently being answered.
	for i := len(records) - 1; i >= 0 && len(turns) < limit; i-- {
		rec := records[i]
		if rec.ExternalID == currentExternalID || rec.Content == nil || *rec.Content == "" {
			continue
		}
		role := "user"
		if rec.Direction == repo.DirectionOutgoing {
			role = "assistant"
		}
		turns = append(turns, nlu.Turn{Role: role, Content: *rec.Content})
	}
	return turns
}

func messageKind(waKind string) repo.MessageKind {
	switch waKind {
	case "text":
		return repo.KindText
	case "image":
		return repo.KindImage
	default:
		return repo.KindMedia
	}
}

func deliveryStatus(raw string) (repo.DeliveryStatus, bool) {
	switch raw {
	case "sent":
		return repo.StatusSent, true
	case "delivered":
		return repo.StatusDelivered, true
	case "read":
		return repo.StatusRead, true
	case "failed":
		return repo.StatusFailed, true
	default:
		return "", false
	}
}

func optional(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}

func deref(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}
