// Package intent classifies inbound message text into one of a closed set of
// intents using a deterministic, ordered rule list. The keyword sets are
// plain data passed in by the caller, so the classifier carries no ambient
// state and is trivially testable with substitute lists.
package intent

import (
	"regexp"
	"strings"
)

// Kind enumerates the classified purpose of one inbound message.
type Kind int

const (
	FreeformChat Kind = iota
	Greeting
	ImageGenerate
	ImageModify
	CreditBalance
	BuyCredits
)

// String returns a stable label for logs and metrics.
func (k Kind) String() string {
	switch k {
	case Greeting:
		return "greeting"
	case ImageGenerate:
		return "image_generate"
	case ImageModify:
		return "image_modify"
	case CreditBalance:
		return "credit_balance"
	case BuyCredits:
		return "buy_credits"
	default:
		return "freeform_chat"
	}
}

// Keywords holds the fixed phrase sets the rules match against.
type Keywords struct {
	Greetings         []string
	CreationVerbs     []string
	ModificationVerbs []string
	BalanceQueries    []string
}

// DefaultKeywords returns the production phrase sets.
func DefaultKeywords() Keywords {
	return Keywords{
		Greetings: []string{
			"hi", "hello", "hey", "yo", "good morning", "good afternoon", "good evening",
		},
		CreationVerbs: []string{
			"show", "generate", "create", "make", "want", "need", "give me",
			"draw", "paint", "picture", "photo", "image",
		},
		ModificationVerbs: []string{
			"make it", "change it", "turn it", "add", "remove", "more", "less",
		},
		BalanceQueries: []string{
			"check balance", "my balance", "credit balance", "how many credits",
			"show balance",
		},
	}
}

// State is the slice of conversation state the rules depend on.
type State struct {
	HasGenerationContext bool
	PriorPrompt          string
}

// Result is the classified intent. PriorPrompt is populated for ImageModify
// so the dispatcher can compose the follow-up prompt.
type Result struct {
	Kind        Kind
	PriorPrompt string
}

// Classifier evaluates the fixed rule order against normalized text.
type Classifier struct {
	kw Keywords
}

// New builds a classifier around the provided keyword sets.
func New(kw Keywords) *Classifier {
	return &Classifier{kw: kw}
}

var modifyPattern = regexp.MustCompile(`\b(make|change|turn|set) the\b`)

// Classify maps normalized text plus conversation state to exactly one
// intent. The first matching rule wins; modification is evaluated before
// generation because its trigger words overlap the creation verbs and a
// follow-up turn must win when a generation context exists.
func (c *Classifier) Classify(text string, st State) Result {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return Result{Kind: FreeformChat}
	}

	if c.isGreeting(norm) {
		return Result{Kind: Greeting}
	}

	if st.HasGenerationContext && c.isModification(norm) {
		return Result{Kind: ImageModify, PriorPrompt: st.PriorPrompt}
	}

	if containsAny(norm, c.kw.CreationVerbs) {
		return Result{Kind: ImageGenerate}
	}

	if c.isBalanceQuery(norm) {
		return Result{Kind: CreditBalance}
	}

	if norm == "buy credits" {
		return Result{Kind: BuyCredits}
	}

	return Result{Kind: FreeformChat}
}

func (c *Classifier) isGreeting(norm string) bool {
	for _, g := range c.kw.Greetings {
		if norm == g || strings.HasPrefix(norm, g+" ") || strings.HasPrefix(norm, g+",") || strings.HasPrefix(norm, g+"!") {
			return true
		}
	}
	return false
}

func (c *Classifier) isModification(norm string) bool {
	if containsAny(norm, c.kw.ModificationVerbs) {
		return true
	}
	if modifyPattern.MatchString(norm) {
		return true
	}
	return norm == "but" || norm == "and" ||
		strings.HasPrefix(norm, "but ") || strings.HasPrefix(norm, "and ")
}

func (c *Classifier) isBalanceQuery(norm string) bool {
	if norm == "balance" || norm == "credits" {
		return true
	}
	for _, phrase := range c.kw.BalanceQueries {
		if norm == phrase || strings.HasPrefix(norm, phrase+" ") {
			return true
		}
	}
	return false
}

func containsAny(norm string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}
