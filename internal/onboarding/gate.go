// Package onboarding implements the state machine that intercepts all
// traffic for a user until a usable email address has been collected.
package onboarding

import (
	"regexp"
	"strings"

	"bot-gambar/internal/repo"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

const (
	promptReply = "Welcome! I turn your ideas into images, right here in the chat. " +
		"Before we start, what's your email address?"
	invalidEmailReply = "That doesn't look like an email address. " +
		"Please send it as name@example.com."
	completedReply = "Thanks, you're all set! Describe any image you'd like me to create. " +
		"Send \"balance\" to check your credits or \"buy credits\" to top up."
)

// Outcome describes what the gate decided for one inbound message.
// When Intercepted is true the message was consumed here and must not be
// classified; Replies are sent and the phase change persisted by the caller.
type Outcome struct {
	Intercepted bool
	Replies     []string
	NewPhase    repo.OnboardingPhase
	Email       *string
}

// Evaluate advances the onboarding state machine for one inbound message.
// Completed users pass straight through. Any message from a new user
// triggers the email prompt and is otherwise suppressed; while awaiting an
// email the whole message is treated as the answer.
func Evaluate(phase repo.OnboardingPhase, text string) Outcome {
	switch phase {
	case repo.OnboardingCompleted:
		return Outcome{}

	case repo.OnboardingAwaitingEmail:
		email := strings.TrimSpace(text)
		if !ValidEmail(email) {
			return Outcome{
				Intercepted: true,
				Replies:     []string{invalidEmailReply},
				NewPhase:    repo.OnboardingAwaitingEmail,
			}
		}
		lowered := strings.ToLower(email)
		return Outcome{
			Intercepted: true,
			Replies:     []string{completedReply},
			NewPhase:    repo.OnboardingCompleted,
			Email:       &lowered,
		}

	default:
		// NotStarted (and any unknown legacy value): prompt and suppress.
		return Outcome{
			Intercepted: true,
			Replies:     []string{promptReply},
			NewPhase:    repo.OnboardingAwaitingEmail,
		}
	}
}

// ValidEmail reports whether the text has a plausible local@domain.tld shape.
func ValidEmail(text string) bool {
	return emailPattern.MatchString(strings.TrimSpace(text))
}
