package convo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bot-gambar/internal/intent"
	"bot-gambar/internal/repo"
)

const productImageGeneration = "image_generation"

// handleGeneration runs the credit-gated generation pipeline. The order is
// deliberate: debit first, persist the refined context before the provider
// call (a crash mid-call still leaves correct context for the next turn),
// and refund exactly once on any failure after the debit.
func (e *Engine) handleGeneration(ctx context.Context, user *repo.User, raw string, result intent.Result) error {
	working := raw
	if result.Kind == intent.ImageModify {
		working = composeModification(raw, result.PriorPrompt, e.keywords.ModificationVerbs)
	}

	debited, err := e.repo.TryDebitCredits(ctx, user.ID, 1, productImageGeneration)
	if err != nil {
		return fmt.Errorf("debit credit: %w", err)
	}
	if !debited {
		if e.metrics != nil {
			e.metrics.CreditDebits.WithLabelValues("declined").Inc()
		}
		e.sendText(ctx, user, needCreditsReply)
		return nil
	}
	if e.metrics != nil {
		e.metrics.CreditDebits.WithLabelValues("ok").Inc()
	}

	refined, err := e.chat.RefinePrompt(ctx, working)
	if err != nil {
		return e.refundGeneration(ctx, user, fmt.Errorf("refine prompt: %w", err))
	}

	if err := e.repo.SetGenerationContext(ctx, user.ID, refined, time.Now()); err != nil {
		return e.refundGeneration(ctx, user, fmt.Errorf("persist generation context: %w", err))
	}

	e.sendText(ctx, user, workingOnItReply)

	urls, err := e.images.Generate(ctx, refined)
	if err != nil {
		return e.refundGeneration(ctx, user, fmt.Errorf("generate image: %w", err))
	}

	externalID, err := e.sender.SendImage(ctx, user.WAID, urls[0], imageCaption)
	if err != nil {
		return e.refundGeneration(ctx, user, fmt.Errorf("send image: %w", err))
	}
	e.appendOutgoing(ctx, user.ID, externalID, repo.KindImage, imageCaption, urls[0])
	return nil
}

// refundGeneration issues the compensating credit for an earlier debit and
// tells the user in plain language. A failed refund write is the one storage
// error that must surface, so the ledger never loses the pairing.
func (e *Engine) refundGeneration(ctx context.Context, user *repo.User, cause error) error {
	e.logger.Warn("generation failed, refunding credit", "error", cause, "user_id", user.ID)
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues("generation").Inc()
	}

	meta := map[string]any{"reason": "generation_failed"}
	if err := e.repo.InsertCredit(ctx, user.ID, 1, repo.TxRefund, productImageGeneration, meta); err != nil {
		if e.metrics != nil {
			e.metrics.CreditDebits.WithLabelValues("refund_failed").Inc()
		}
		return fmt.Errorf("refund credit after %v: %w", cause, err)
	}
	if e.metrics != nil {
		e.metrics.CreditDebits.WithLabelValues("refunded").Inc()
	}

	e.sendText(ctx, user, refundApologyReply)
	return nil
}

// composeModification builds the follow-up prompt from a modification turn:
// the stripped instruction plus the prior refined prompt as carried context.
func composeModification(raw, priorPrompt string, verbs []string) string {
	stripped := stripModificationPrefix(raw, verbs)
	if priorPrompt == "" {
		return stripped
	}
	return fmt.Sprintf("%s (maintaining style and context from previous image: %s)", stripped, priorPrompt)
}

// stripModificationPrefix removes the longest matching modification verb
// from the start of the text, if any.
func stripModificationPrefix(text string, verbs []string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	best := ""
	for _, verb := range verbs {
		if (lower == verb || strings.HasPrefix(lower, verb+" ")) && len(verb) > len(best) {
			best = verb
		}
	}
	if best == "" {
		return trimmed
	}
	return strings.TrimSpace(trimmed[len(best):])
}
