package intent

import "testing"

func TestClassifyRuleOrder(t *testing.T) {
	c := New(DefaultKeywords())

	cases := []struct {
		name string
		text string
		st   State
		want Kind
	}{
		{"greeting plain", "hi", State{}, Greeting},
		{"greeting with tail", "hello there, friend", State{}, Greeting},
		{"greeting bang", "hey!", State{}, Greeting},
		{"greeting beats creation verb", "hello, draw me later", State{}, Greeting},
		{"creation verb", "draw a cat wearing a hat", State{}, ImageGenerate},
		{"creation noun", "a picture of the ocean at dawn", State{}, ImageGenerate},
		{"modify wins with context", "make it blue", State{HasGenerationContext: true, PriorPrompt: "a red car"}, ImageModify},
		{"modify pattern with context", "change the background to night", State{HasGenerationContext: true, PriorPrompt: "a castle"}, ImageModify},
		{"modify without context is generate", "make it blue", State{}, ImageGenerate},
		{"balance exact", "balance", State{}, CreditBalance},
		{"balance phrase", "how many credits do i have", State{}, CreditBalance},
		{"buy credits exact", "buy credits", State{}, BuyCredits},
		{"freeform", "what's the weather like today", State{}, FreeformChat},
		{"empty", "   ", State{}, FreeformChat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.text, tc.st)
			if got.Kind != tc.want {
				t.Fatalf("Classify(%q) = %s, want %s", tc.text, got.Kind, tc.want)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := New(DefaultKeywords())
	st := State{HasGenerationContext: true, PriorPrompt: "a red car"}

	first := c.Classify("Make it blue", st)
	for i := 0; i < 50; i++ {
		got := c.Classify("Make it blue", st)
		if got != first {
			t.Fatalf("classification changed between runs: %v vs %v", got, first)
		}
	}
}

func TestClassifyCarriesPriorPrompt(t *testing.T) {
	c := New(DefaultKeywords())

	got := c.Classify("add a moon", State{HasGenerationContext: true, PriorPrompt: "a night sky"})
	if got.Kind != ImageModify {
		t.Fatalf("expected ImageModify, got %s", got.Kind)
	}
	if got.PriorPrompt != "a night sky" {
		t.Fatalf("expected prior prompt carried, got %q", got.PriorPrompt)
	}

	got = c.Classify("draw a cat", State{})
	if got.PriorPrompt != "" {
		t.Fatalf("expected no prior prompt for generate, got %q", got.PriorPrompt)
	}
}

func TestClassifyWithSubstituteKeywords(t *testing.T) {
	c := New(Keywords{
		Greetings:     []string{"ahoy"},
		CreationVerbs: []string{"conjure"},
	})

	if got := c.Classify("ahoy matey", State{}); got.Kind != Greeting {
		t.Fatalf("expected Greeting, got %s", got.Kind)
	}
	if got := c.Classify("conjure a dragon", State{}); got.Kind != ImageGenerate {
		t.Fatalf("expected ImageGenerate, got %s", got.Kind)
	}
	// The default lists no longer apply once substituted.
	if got := c.Classify("hi", State{}); got.Kind != FreeformChat {
		t.Fatalf("expected FreeformChat for unknown greeting, got %s", got.Kind)
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		FreeformChat:  "freeform_chat",
		Greeting:      "greeting",
		ImageGenerate: "image_generate",
		ImageModify:   "image_modify",
		CreditBalance: "credit_balance",
		BuyCredits:    "buy_credits",
	}
	for kind, want := range kinds {
		if got := kind.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
