package onboarding

import (
	"testing"

	"bot-gambar/internal/repo"
)

func TestEvaluateNewUserIsPrompted(t *testing.T) {
	out := Evaluate(repo.OnboardingNotStarted, "draw me a castle")
	if !out.Intercepted {
		t.Fatal("expected first contact to be intercepted")
	}
	if out.NewPhase != repo.OnboardingAwaitingEmail {
		t.Fatalf("expected awaiting_email, got %s", out.NewPhase)
	}
	if len(out.Replies) != 1 || out.Replies[0] != promptReply {
		t.Fatalf("expected the email prompt, got %v", out.Replies)
	}
	if out.Email != nil {
		t.Fatal("no email should be captured on first contact")
	}
}

func TestEvaluateInvalidEmailStaysAwaiting(t *testing.T) {
	for _, text := range []string{"not an email", "foo@", "@bar.com", "foo@bar", ""} {
		out := Evaluate(repo.OnboardingAwaitingEmail, text)
		if !out.Intercepted {
			t.Fatalf("expected %q to be intercepted", text)
		}
		if out.NewPhase != repo.OnboardingAwaitingEmail {
			t.Fatalf("expected %q to keep phase awaiting_email, got %s", text, out.NewPhase)
		}
		if out.Email != nil {
			t.Fatalf("no email should be captured for %q", text)
		}
		if len(out.Replies) != 1 || out.Replies[0] != invalidEmailReply {
			t.Fatalf("expected the invalid-email reply for %q, got %v", text, out.Replies)
		}
	}
}

func TestEvaluateValidEmailCompletes(t *testing.T) {
	out := Evaluate(repo.OnboardingAwaitingEmail, "  Jane.Doe+test@Example.COM  ")
	if !out.Intercepted {
		t.Fatal("expected the email answer to be intercepted")
	}
	if out.NewPhase != repo.OnboardingCompleted {
		t.Fatalf("expected completed, got %s", out.NewPhase)
	}
	if out.Email == nil || *out.Email != "jane.doe+test@example.com" {
		t.Fatalf("expected trimmed lowercase email, got %v", out.Email)
	}
	if len(out.Replies) != 1 || out.Replies[0] != completedReply {
		t.Fatalf("expected the completion reply, got %v", out.Replies)
	}
}

func TestEvaluateCompletedPassesThrough(t *testing.T) {
	out := Evaluate(repo.OnboardingCompleted, "hi")
	if out.Intercepted {
		t.Fatal("completed users must pass through the gate")
	}
	if len(out.Replies) != 0 {
		t.Fatalf("no gate replies expected, got %v", out.Replies)
	}
}

func TestValidEmail(t *testing.T) {
	valid := []string{"a@b.co", "user.name@example.com", "u+tag@sub.domain.org"}
	for _, email := range valid {
		if !ValidEmail(email) {
			t.Fatalf("expected %q to be valid", email)
		}
	}
	invalid := []string{"", "plain", "a@b", "a b@c.com", "a@.com"}
	for _, email := range invalid {
		if ValidEmail(email) {
			t.Fatalf("expected %q to be invalid", email)
		}
	}
}
