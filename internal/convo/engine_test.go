package convo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"
	"testing"
	"time"

	"bot-gambar/internal/intent"
	"bot-gambar/internal/nlu"
	"bot-gambar/internal/repo"
	"bot-gambar/internal/wa"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Repository with an ordered call log so tests can
// assert on sequencing across collaborators.
type fakeStore struct {
	mu       sync.Mutex
	log      *callLog
	users    map[string]*repo.User // keyed by wa_id
	byID     map[string]*repo.User
	messages []repo.MessageRecord
	seen     map[string]bool
	ledger   []repo.CreditTransaction
	products []repo.CreditProduct
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func newFakeStore(log *callLog) *fakeStore {
	return &fakeStore{
		log:   log,
		users: map[string]*repo.User{},
		byID:  map[string]*repo.User{},
		seen:  map[string]bool{},
		products: []repo.CreditProduct{
			{ID: "p1", Name: "Starter", Credits: 10, Price: 499, Currency: "USD", Active: true},
			{ID: "p2", Name: "Creator", Credits: 50, Price: 1999, Currency: "USD", Active: true},
		},
	}
}

func (s *fakeStore) Close()                                     {}
func (s *fakeStore) Ping(context.Context) error                 { return nil }
func (s *fakeStore) RunMigrations(context.Context, fs.FS) error { return nil }

func (s *fakeStore) UpsertUserByWA(_ context.Context, profile repo.UserProfile) (*repo.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[profile.WAID]; ok {
		copied := *u
		return &copied, nil
	}
	u := &repo.User{
		ID:                  "user-" + profile.WAID,
		WAID:                profile.WAID,
		DisplayName:         profile.DisplayName,
		OnboardingPhase:     repo.OnboardingNotStarted,
		LastInteractionKind: repo.InteractionNone,
	}
	s.users[profile.WAID] = u
	s.byID[u.ID] = u
	copied := *u
	return &copied, nil
}

func (s *fakeStore) GetUserByID(_ context.Context, id string) (*repo.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	copied := *u
	return &copied, nil
}

func (s *fakeStore) SetOnboarding(_ context.Context, userID string, phase repo.OnboardingPhase, email *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	u.OnboardingPhase = phase
	if email != nil {
		u.Email = email
	}
	return nil
}

func (s *fakeStore) SetGenerationContext(_ context.Context, userID, refinedPrompt string, at time.Time) error {
	s.log.add("set_context")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	u.LastInteractionKind = repo.InteractionImageGeneration
	u.LastPrompt = &refinedPrompt
	u.LastPromptAt = &at
	return nil
}

func (s *fakeStore) ResetInteraction(_ context.Context, userID string, kind repo.InteractionKind) error {
	s.log.add("reset_interaction")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	u.LastInteractionKind = kind
	u.LastPrompt = nil
	u.LastPromptAt = nil
	return nil
}

func (s *fakeStore) InsertMessage(_ context.Context, msg repo.MessageRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[msg.ExternalID] {
		return false, nil
	}
	s.seen[msg.ExternalID] = true
	msg.CreatedAt = time.Now()
	s.messages = append(s.messages, msg)
	return true, nil
}

func (s *fakeStore) ListRecentMessages(_ context.Context, userID string, limit int) ([]repo.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repo.MessageRecord
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].UserID == userID {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateMessageStatus(_ context.Context, externalID string, status repo.DeliveryStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		msg := &s.messages[i]
		if msg.ExternalID != externalID || msg.Direction != repo.DirectionOutgoing {
			continue
		}
		if repo.StatusRank(status) <= repo.StatusRank(msg.DeliveryStatus) {
			return false, nil
		}
		msg.DeliveryStatus = status
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) TryDebitCredits(_ context.Context, userID string, amount int64, productType string) (bool, error) {
	s.log.add("debit")
	s.mu.Lock()
	defer s.mu.Unlock()
	var balance int64
	for _, tx := range s.ledger {
		if tx.UserID == userID {
			balance += tx.Amount
		}
	}
	if balance < amount {
		return false, nil
	}
	s.ledger = append(s.ledger, repo.CreditTransaction{
		UserID: userID, Amount: -amount, Type: repo.TxUse, ProductType: productType,
	})
	return true, nil
}

func (s *fakeStore) InsertCredit(_ context.Context, userID string, amount int64, txType repo.TransactionType, productType string, metadata map[string]any) error {
	if txType == repo.TxRefund {
		s.log.add("refund")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, repo.CreditTransaction{
		UserID: userID, Amount: amount, Type: txType, ProductType: productType, Metadata: metadata,
	})
	return nil
}

func (s *fakeStore) CreditBalance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var balance int64
	for _, tx := range s.ledger {
		if tx.UserID == userID {
			balance += tx.Amount
		}
	}
	return balance, nil
}

func (s *fakeStore) ListCreditTransactions(_ context.Context, userID string, limit int) ([]repo.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repo.CreditTransaction
	for i := len(s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if s.ledger[i].UserID == userID {
			out = append(out, s.ledger[i])
		}
	}
	return out, nil
}

func (s *fakeStore) ListActiveCreditProducts(context.Context) ([]repo.CreditProduct, error) {
	return append([]repo.CreditProduct(nil), s.products...), nil
}

func (s *fakeStore) CheapestActiveProduct(context.Context) (*repo.CreditProduct, error) {
	if len(s.products) == 0 {
		return nil, nil
	}
	copied := s.products[0]
	return &copied, nil
}

type fakeSender struct {
	mu     sync.Mutex
	log    *callLog
	texts  []string
	images []string
	seq    int
	fail   bool
}

func (f *fakeSender) SendText(_ context.Context, _, text string) (string, error) {
	if f.fail {
		return "", errors.New("send failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.seq++
	return fmt.Sprintf("out-%d", f.seq), nil
}

func (f *fakeSender) SendImage(_ context.Context, _, imageURL, _ string) (string, error) {
	f.log.add("send_image")
	if f.fail {
		return "", errors.New("send failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, imageURL)
	f.seq++
	return fmt.Sprintf("out-%d", f.seq), nil
}

type fakeChat struct {
	mu        sync.Mutex
	log       *callLog
	refined   []string
	chatted   []string
	refineErr error
	chatErr   error
}

func (f *fakeChat) RefinePrompt(_ context.Context, raw string) (string, error) {
	f.log.add("refine")
	if f.refineErr != nil {
		return "", f.refineErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refined = append(f.refined, raw)
	return "refined: " + raw, nil
}

func (f *fakeChat) Chat(_ context.Context, history []nlu.Turn, text string) (string, error) {
	f.log.add("chat")
	if f.chatErr != nil {
		return "", f.chatErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatted = append(f.chatted, text)
	return "chat reply", nil
}

type fakeImages struct {
	log *callLog
	err error
}

func (f *fakeImages) Generate(_ context.Context, prompt string) ([]string, error) {
	f.log.add("generate")
	if f.err != nil {
		return nil, f.err
	}
	return []string{"https://images.example/result.png"}, nil
}

type testEnv struct {
	engine *Engine
	store  *fakeStore
	sender *fakeSender
	chat   *fakeChat
	images *fakeImages
	log    *callLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := &callLog{}
	store := newFakeStore(log)
	sender := &fakeSender{log: log}
	chat := &fakeChat{log: log}
	images := &fakeImages{log: log}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := New(store, chat, images, sender, nil, nil, logger, intent.DefaultKeywords(), EngineConfig{HistoryLimit: 10})
	return &testEnv{engine: engine, store: store, sender: sender, chat: chat, images: images, log: log}
}

// onboardedUser seeds a user past the onboarding gate.
func (env *testEnv) onboardedUser(t *testing.T, waID string) *repo.User {
	t.Helper()
	user, err := env.store.UpsertUserByWA(context.Background(), repo.UserProfile{WAID: waID})
	require.NoError(t, err)
	email := "user@example.com"
	require.NoError(t, env.store.SetOnboarding(context.Background(), user.ID, repo.OnboardingCompleted, &email))
	return user
}

func inbound(id, from, text string) wa.InboundMessage {
	return wa.InboundMessage{
		ExternalID: id,
		From:       from,
		Kind:       "text",
		Text:       text,
		Timestamp:  time.Now(),
	}
}

func TestNewUserIsGatedBeforeClassification(t *testing.T) {
	env := newTestEnv(t)

	// Even an obvious generation request is suppressed until onboarding ends.
	err := env.engine.ProcessIncoming(context.Background(), inbound("m1", "15550001111", "draw a cat"))
	require.NoError(t, err)

	require.Len(t, env.sender.texts, 1)
	assert.Contains(t, env.sender.texts[0], "email")
	assert.Empty(t, env.chat.refined, "no generation work before onboarding")

	user, err := env.store.GetUserByID(context.Background(), "user-15550001111")
	require.NoError(t, err)
	assert.Equal(t, repo.OnboardingAwaitingEmail, user.OnboardingPhase)
}

func TestOnboardingEmailFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.ProcessIncoming(ctx, inbound("m1", "15550001111", "hello")))
	require.NoError(t, env.engine.ProcessIncoming(ctx, inbound("m2", "15550001111", "not an email")))

	user, err := env.store.GetUserByID(ctx, "user-15550001111")
	require.NoError(t, err)
	assert.Equal(t, repo.OnboardingAwaitingEmail, user.OnboardingPhase, "invalid email must not advance the phase")

	require.NoError(t, env.engine.ProcessIncoming(ctx, inbound("m3", "15550001111", "Jane@Example.com")))

	user, err = env.store.GetUserByID(ctx, "user-15550001111")
	require.NoError(t, err)
	assert.Equal(t, repo.OnboardingCompleted, user.OnboardingPhase)
	require.NotNil(t, user.Email)
	assert.Equal(t, "jane@example.com", *user.Email, "email is stored lowercased")
}

func TestDuplicateDeliveryProducesOneReply(t *testing.T) {
	env := newTestEnv(t)
	env.onboardedUser(t, "15550001111")
	ctx := context.Background()

	msg := inbound("m1", "15550001111", "hi")
	require.NoError(t, env.engine.ProcessIncoming(ctx, msg))
	require.NoError(t, env.engine.ProcessIncoming(ctx, msg))

	assert.Len(t, env.sender.texts, 1, "replayed delivery must not produce a second reply")
	assert.Equal(t, greetingReply, env.sender.texts[0])
}

func TestGreeting(t *testing.T) {
	env := newTestEnv(t)
	env.onboardedUser(t, "15550001111")

	require.NoError(t, env.engine.ProcessIncoming(context.Background(), inbound("m1", "15550001111", "hey there")))
	require.Len(t, env.sender.texts, 1)
	assert.Equal(t, greetingReply, env.sender.texts[0])
}

func TestBalanceReplyMentionsCheapestPackWhenEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.onboardedUser(t, "15550001111")

	require.NoError(t, env.engine.ProcessIncoming(context.Background(), inbound("m1", "15550001111", "balance")))
	require.Len(t, env.sender.texts, 1)
	assert.Contains(t, env.sender.texts[0], "0 credit")
	assert.Contains(t, env.sender.texts[0], "Starter")
	assert.Contains(t, env.sender.texts[0], "$4.99")
}

func TestBuyCreditsListsOfferings(t *testing.T) {
	env := newTestEnv(t)
	env.onboardedUser(t, "15550001111")

	require.NoError(t, env.engine.ProcessIncoming(context.Background(), inbound("m1", "15550001111", "buy credits")))
	require.Len(t, env.sender.texts, 1)
	assert.Contains(t, env.sender.texts[0], "Starter")
	assert.Contains(t, env.sender.texts[0], "Creator")
	assert.Contains(t, env.sender.texts[0], "$19.99")
}

func TestFreeformChatRepliesAndNudges(t *testing.T) {
	env := newTestEnv(t)
	env.onboardedUser(t, "15550001111")

	require.NoError(t, env.engine.ProcessIncoming(context.Background(), inbound("m1", "15550001111", "how was your day?")))

	require.Len(t, env.sender.texts, 2)
	assert.Equal(t, "chat reply", env.sender.texts[0])
	assert.Equal(t, nudgeReply, env.sender.texts[1])
}

func TestFreeformChatResetsStaleGenerationContext(t *testing.T) {
	env := newTestEnv(t)
	user := env.onboardedUser(t, "15550001111")
	ctx := context.Background()

	require.NoError(t, env.store.SetGenerationContext(ctx, user.ID, "a red car", time.Now()))

	// No modification cue, so the turn is plain conversation and the old
	// context must be cleared afterwards.
	require.NoError(t, env.engine.ProcessIncoming(ctx, inbound("m1", "15550001111", "what is your favourite colour?")))

	got, err := env.store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.InteractionConversation, got.LastInteractionKind)
	assert.Nil(t, got.LastPrompt)
}

func TestChatModelFailureApologises(t *testing.T) {
	env := newTestEnv(t)
	env.onboardedUser(t, "15550001111")
	env.chat.chatErr = errors.New("model down")

	err := env.engine.ProcessIncoming(context.Background(), inbound("m1", "15550001111", "how was your day?"))
	require.NoError(t, err, "upstream chat failure must not bubble to the webhook")

	require.Len(t, env.sender.texts, 1)
	assert.Equal(t, chatApologyReply, env.sender.texts[0])
}

func TestNonTextMessageGetsFallback(t *testing.T) {
	env := newTestEnv(t)
	env.onboardedUser(t, "15550001111")

	msg := wa.InboundMessage{ExternalID: "m1", From: "15550001111", Kind: "audio", Timestamp: time.Now()}
	require.NoError(t, env.engine.ProcessIncoming(context.Background(), msg))

	require.Len(t, env.sender.texts, 1)
	assert.Equal(t, unsupportedReply, env.sender.texts[0])
}

func TestProcessStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	user := env.onboardedUser(t, "15550001111")
	ctx := context.Background()

	content := "here you go"
	_, err := env.store.InsertMessage(ctx, repo.MessageRecord{
		ExternalID:     "out-1",
		UserID:         user.ID,
		Direction:      repo.DirectionOutgoing,
		Kind:           repo.KindText,
		Content:        &content,
		DeliveryStatus: repo.StatusSent,
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.ProcessStatus(ctx, wa.StatusUpdate{ExternalID: "out-1", Status: "delivered"}))
	require.NoError(t, env.engine.ProcessStatus(ctx, wa.StatusUpdate{ExternalID: "out-1", Status: "sent"}), "backward transition is a no-op")
	require.NoError(t, env.engine.ProcessStatus(ctx, wa.StatusUpdate{ExternalID: "unknown", Status: "read"}), "unknown id is a no-op")
	require.NoError(t, env.engine.ProcessStatus(ctx, wa.StatusUpdate{ExternalID: "out-1", Status: "bogus"}), "unknown status is a no-op")

	records, err := env.store.ListRecentMessages(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, repo.StatusDelivered, records[0].DeliveryStatus)
}
