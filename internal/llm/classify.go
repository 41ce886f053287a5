package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"siteeditor/api/internal/editflow"
)

const tierSystemPrompt = `You triage website edit requests from small business owners.

simple: a small, unambiguous text change (hours, phone number, a price, a typo, one sentence).
medium: a change to several places or a rewrite of one section's wording.
complex: new sections or pages, layout or design changes, anything ambiguous or risky.

Respond with ONLY JSON: {"tier":"simple|medium|complex"}`

const replySystemPrompt = `A business owner was shown an edit to their website and has replied.
Classify the reply.

confirm: they accept the edit (thanks, looks good, yes).
undo: they want the edit reverted.
more_edits: they ask for a further change to the site.
unrelated: anything else.

Respond with ONLY JSON: {"intent":"confirm|undo|more_edits|unrelated"}`

type TierClassifier struct {
	client *Client
}

func NewTierClassifier(client *Client) *TierClassifier {
	return &TierClassifier{client: client}
}

func (t *TierClassifier) Classify(ctx context.Context, instruction string) (editflow.Tier, error) {
	raw, err := t.client.completeJSON(ctx, tierSystemPrompt, instruction)
	if err != nil {
		return editflow.TierComplex, err
	}
	var payload struct {
		Tier string `json:"tier"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return editflow.TierComplex, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return editflow.ParseTier(payload.Tier), nil
}

type ReplyClassifier struct {
	client *Client
}

func NewReplyClassifier(client *Client) *ReplyClassifier {
	return &ReplyClassifier{client: client}
}

func (r *ReplyClassifier) ClassifyReply(ctx context.Context, text string) (editflow.Intent, error) {
	raw, err := r.client.completeJSON(ctx, replySystemPrompt, text)
	if err != nil {
		return editflow.IntentUnrelated, err
	}
	var payload struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return editflow.IntentUnrelated, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return editflow.ParseIntent(payload.Intent), nil
}

var (
	undoPattern    = regexp.MustCompile(`\b(undo|revert|roll ?back|put it back|change it back|go back|restore)\b`)
	editPattern    = regexp.MustCompile(`\b(also|another|one more|can you|could you|please (change|add|remove|update)|change|add|remove|update|replace)\b`)
	confirmPattern = regexp.MustCompile(`\b(yes|yep|yeah|ok|okay|looks (good|great)|perfect|great|thanks|thank you|confirm(ed)?|approve(d)?|love it)\b`)
)

// KeywordReplyClassifier is the fallback when no model is configured. Undo
// wins over further edits, which win over confirmation.
type KeywordReplyClassifier struct{}

func (KeywordReplyClassifier) ClassifyReply(_ context.Context, text string) (editflow.Intent, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	switch {
	case normalized == "":
		return editflow.IntentUnrelated, nil
	case undoPattern.MatchString(normalized):
		return editflow.IntentUndo, nil
	case editPattern.MatchString(normalized):
		return editflow.IntentMoreEdits, nil
	case confirmPattern.MatchString(normalized), strings.Contains(normalized, "👍"):
		return editflow.IntentConfirm, nil
	default:
		return editflow.IntentUnrelated, nil
	}
}

// ManualTierClassifier sends everything to a person. It stands in for the
// model classifier when none is configured.
type ManualTierClassifier struct{}

func (ManualTierClassifier) Classify(context.Context, string) (editflow.Tier, error) {
	return editflow.TierComplex, nil
}
