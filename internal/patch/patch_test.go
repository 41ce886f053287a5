package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyExactReplacesFirstOccurrenceOnly(t *testing.T) {
	doc := `<h1>Welcome</h1><p>Welcome</p>`

	result := Apply(doc, []Proposal{{Search: "Welcome", Replace: "Hello"}})

	require.True(t, result.OK())
	assert.Equal(t, `<h1>Hello</h1><p>Welcome</p>`, result.Content)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, "exact", result.Outcomes[0].Strategy)
}

func TestApplyFlexibleWhitespace(t *testing.T) {
	doc := "<p>Open   daily\n from 9am</p>"

	result := Apply(doc, []Proposal{{Search: "Open daily from 9am", Replace: "Open weekdays from 8am"}})

	require.True(t, result.OK())
	assert.Equal(t, "<p>Open weekdays from 8am</p>", result.Content)
	assert.Equal(t, "fuzzy_whitespace", result.Outcomes[0].Strategy)
}

func TestApplyFlexibleWhitespaceKeepsRegexCharactersLiteral(t *testing.T) {
	doc := "<li>Price:  $5 (large)</li>"

	result := Apply(doc, []Proposal{{Search: "Price: $5 (large)", Replace: "Price: $1 (small)"}})

	require.True(t, result.OK())
	assert.Equal(t, "<li>Price: $1 (small)</li>", result.Content)
}

func TestApplyNormalizedPositionDoesNotCorruptAdjacentMarkup(t *testing.T) {
	doc := "<div class=\"hours\"><p>Open   daily\n\tfrom 9am</p></div>"
	search := "\n   Open daily from 9am\n"

	result := Apply(doc, []Proposal{{Search: search, Replace: "Open weekdays from 8am"}})

	require.True(t, result.OK())
	assert.Equal(t, `<div class="hours"><p>Open weekdays from 8am</p></div>`, result.Content)
	assert.Equal(t, "normalized_position", result.Outcomes[0].Strategy)
}

func TestNormalizedPositionMapsMultibyteOffsets(t *testing.T) {
	doc := "<p>Café   crème\n brûlée</p>"

	match, ok := NormalizedPosition{}.Attempt(doc, Proposal{Search: " Café crème brûlée ", Replace: "Tarte"})

	require.True(t, ok)
	assert.Equal(t, "Café   crème\n brûlée", doc[match.Start:match.End])
	assert.Equal(t, "Tarte", match.Replacement)
}

func TestNormalizedPositionSkipsShortSearches(t *testing.T) {
	_, ok := NormalizedPosition{}.Attempt("<p>Hi   there</p>", Proposal{Search: " Hi there ", Replace: "Hey"})

	assert.False(t, ok)
}

func TestNormalizedPositionEndsOnTokenBoundary(t *testing.T) {
	doc := "Call us at   555-1234 today"

	match, ok := NormalizedPosition{}.Attempt(doc, Proposal{Search: "\nus at 555-1234", Replace: "x"})

	require.True(t, ok)
	assert.Equal(t, "us at   555-1234", doc[match.Start:match.End])
}

func TestNormalizedPositionRefusesToSplitAToken(t *testing.T) {
	tests := []struct {
		name   string
		search string
	}{
		{"ends inside a number", "  Call us at 555-12"},
		{"starts inside a word", " ll us at 555-1234\n"},
	}
	doc := "Call  us at 555-1234 today"

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := NormalizedPosition{}.Attempt(doc, Proposal{Search: tt.search, Replace: "Phone 555-99"})
			assert.False(t, ok)

			result := Apply(doc, []Proposal{{Search: tt.search, Replace: "Phone 555-99"}})
			assert.False(t, result.OK())
			assert.Equal(t, doc, result.Content)
			assert.Len(t, result.FailedSearches, 1)
		})
	}
}

func TestNormalizedPositionAllowsMarkupBoundaries(t *testing.T) {
	doc := "<p>Open   daily</p><p>Closed\n Mondays</p>"

	match, ok := NormalizedPosition{}.Attempt(doc, Proposal{Search: "\tdaily</p><p>Closed Mondays", Replace: "x"})

	require.True(t, ok)
	assert.Equal(t, "daily</p><p>Closed\n Mondays", doc[match.Start:match.End])
}

func TestApplyAttributeValueFallback(t *testing.T) {
	doc := `<nav><a class="cta" href="https://old.example/menu">Menu</a></nav>`
	proposal := Proposal{
		Search:  `href="https://old.example/menu">Menu Link</a>`,
		Replace: `href="https://new.example/menu">Menu Link</a>`,
	}

	result := Apply(doc, []Proposal{proposal})

	require.True(t, result.OK())
	assert.Equal(t, `<nav><a class="cta" href="https://new.example/menu">Menu</a></nav>`, result.Content)
	assert.Equal(t, "attribute_value", result.Outcomes[0].Strategy)
}

func TestAttributeValueRequiresUniqueValue(t *testing.T) {
	doc := `<img src="logo.png"><img src="logo.png">`
	proposal := Proposal{Search: `<img alt="x" src="logo.png">`, Replace: `<img src="new.png">`}

	_, ok := AttributeValue{}.Attempt(doc, proposal)
	assert.False(t, ok, "search with two attributes must not match")

	_, ok = AttributeValue{}.Attempt(doc, Proposal{Search: `src="logo.png"`, Replace: `src="new.png"`})
	assert.False(t, ok, "repeated value must not match")
}

func TestApplyPartialSuccess(t *testing.T) {
	doc := `<h1>Joe's Pizza</h1><p>Open daily</p><footer>Call 555-0100</footer>`
	proposals := []Proposal{
		{Search: "Joe's Pizza", Replace: "Joe's Pizzeria"},
		{Search: "Closed on Sundays and public holidays", Replace: "Open on Sundays"},
		{Search: "Call 555-0100", Replace: "Call 555-0199"},
	}

	result := Apply(doc, proposals)

	require.True(t, result.OK())
	assert.True(t, result.Partial())
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, []string{"Closed on Sundays and public holidays"}, result.FailedSearches)
	assert.Equal(t, `<h1>Joe's Pizzeria</h1><p>Open daily</p><footer>Call 555-0199</footer>`, result.Content)
}

func TestApplyAllFailLeavesDocumentUntouched(t *testing.T) {
	doc := `<h1>Joe's Pizza</h1>`
	proposals := []Proposal{
		{Search: "Nothing like this exists here", Replace: "a"},
		{Search: "Nor does this sentence appear", Replace: "b"},
	}

	result := Apply(doc, proposals)

	assert.False(t, result.OK())
	assert.Equal(t, 0, result.Applied)
	assert.Len(t, result.FailedSearches, 2)
	assert.Equal(t, doc, result.Content)
}

func TestApplyIsSequential(t *testing.T) {
	result := Apply("<p>Hello</p>", []Proposal{
		{Search: "Hello", Replace: "Hi there"},
		{Search: "Hi there", Replace: "Greetings"},
	})

	require.Equal(t, 2, result.Applied)
	assert.Equal(t, "<p>Greetings</p>", result.Content)
}

func TestApplyEmptySearchFails(t *testing.T) {
	result := Apply("<p>Hello</p>", []Proposal{{Search: "", Replace: "boom"}})

	assert.False(t, result.OK())
	assert.Equal(t, "<p>Hello</p>", result.Content)
}

func TestApplyTruncatesFailedSearches(t *testing.T) {
	long := "this search text is deliberately long so that it exceeds the preview limit for failures by a lot"

	result := Apply("<p>x</p>", []Proposal{{Search: long, Replace: "y"}})

	require.Len(t, result.FailedSearches, 1)
	assert.Len(t, []rune(result.FailedSearches[0]), FailedSearchPreview)
}

func TestApplyEmptyBatchIsOK(t *testing.T) {
	result := Apply("<p>x</p>", nil)

	assert.True(t, result.OK())
	assert.Equal(t, 0, result.Applied)
}

func TestApplyFullDocument(t *testing.T) {
	result := ApplyFullDocument("<p>old</p>", "<p>new</p>")
	assert.True(t, result.OK())
	assert.Equal(t, "<p>new</p>", result.Content)

	blank := ApplyFullDocument("<p>old</p>", "  \n")
	assert.False(t, blank.OK())
	assert.Equal(t, "<p>old</p>", blank.Content)
}

func TestCustomStrategyOrder(t *testing.T) {
	applier := NewApplier(AttributeValue{})

	result := applier.Apply(`<a href="/a">A</a>`, []Proposal{{Search: "A</a>", Replace: "B</a>"}})

	assert.False(t, result.OK())
}
