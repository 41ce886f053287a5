package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"siteeditor/api/internal/editflow"
	"siteeditor/api/internal/patch"
)

const proposerSystemPrompt = `You edit the HTML of a small business website on behalf of its owner.
Make only the change the owner asked for. Never remove unrelated content.

Respond with ONLY a JSON object, in one of two shapes:
{"changes":[{"search":"exact text copied from the document","replace":"new text"}],"summary":"one short sentence for the owner"}
{"fullDocument":"the complete new document","summary":"one short sentence for the owner"}

Prefer "changes". Each "search" must be copied verbatim from the current document and be long
enough to be unique. Use "fullDocument" only when the change touches most of the page.`

var proposalPrompt = template.Must(template.New("proposal").Parse(`{{if .PriorSummaries}}Earlier changes to this site, newest first:
{{range .PriorSummaries}}- {{.}}
{{end}}
{{end}}Owner's request:
{{.Instruction}}

Current document:
{{.CurrentDocument}}
`))

// Proposer asks the model for search/replace edits against the current document.
type Proposer struct {
	client *Client
}

func NewProposer(client *Client) *Proposer {
	return &Proposer{client: client}
}

func (p *Proposer) Propose(ctx context.Context, req editflow.ProposalRequest) (editflow.ProposalResult, error) {
	var prompt bytes.Buffer
	if err := proposalPrompt.Execute(&prompt, req); err != nil {
		return editflow.ProposalResult{}, fmt.Errorf("render proposal prompt: %w", err)
	}
	raw, err := p.client.completeJSON(ctx, proposerSystemPrompt, prompt.String())
	if err != nil {
		return editflow.ProposalResult{}, err
	}
	return parseProposal(raw)
}

type proposalPayload struct {
	Changes []struct {
		Search  string `json:"search"`
		Replace string `json:"replace"`
	} `json:"changes"`
	FullDocument string `json:"fullDocument"`
	Summary      string `json:"summary"`
}

// parseProposal accepts either a changes list or a full document. When both
// are present the changes win.
func parseProposal(raw string) (editflow.ProposalResult, error) {
	var payload proposalPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return editflow.ProposalResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result := editflow.ProposalResult{Summary: strings.TrimSpace(payload.Summary)}
	for _, change := range payload.Changes {
		if change.Search == "" {
			continue
		}
		result.Changes = append(result.Changes, patch.Proposal{Search: change.Search, Replace: change.Replace})
	}
	if len(result.Changes) > 0 {
		return result, nil
	}
	if strings.TrimSpace(payload.FullDocument) == "" {
		return editflow.ProposalResult{}, fmt.Errorf("%w: neither changes nor fullDocument", ErrMalformedResponse)
	}
	result.FullDocument = payload.FullDocument
	return result, nil
}
