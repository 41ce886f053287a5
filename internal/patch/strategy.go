package patch

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinNormalizedSearchLength is the shortest normalized search text the
// normalized-position strategy will try to anchor. Anything shorter matches too
// many places to be trusted.
const MinNormalizedSearchLength = 10

// Range is a half-open byte range [Start, End) in a document.
type Range struct {
	Start int
	End   int
}

// Match is a located range plus the text that should replace it.
type Match struct {
	Range
	Replacement string
}

// Strategy locates a proposal's target in a document.
type Strategy interface {
	Name() string
	Attempt(document string, proposal Proposal) (Match, bool)
}

// DefaultStrategies returns the matching cascade in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		Exact{},
		FuzzyWhitespace{},
		NormalizedPosition{},
		AttributeValue{},
	}
}

// Exact replaces the first literal occurrence of the search text.
type Exact struct{}

func (Exact) Name() string { return "exact" }

func (Exact) Attempt(document string, proposal Proposal) (Match, bool) {
	if proposal.Search == "" {
		return Match{}, false
	}
	idx := strings.Index(document, proposal.Search)
	if idx < 0 {
		return Match{}, false
	}
	return Match{
		Range:       Range{Start: idx, End: idx + len(proposal.Search)},
		Replacement: proposal.Replace,
	}, true
}

// FuzzyWhitespace matches the search text literally except that every whitespace
// run may match any non-empty run of whitespace in the document.
type FuzzyWhitespace struct{}

func (FuzzyWhitespace) Name() string { return "fuzzy_whitespace" }

func (FuzzyWhitespace) Attempt(document string, proposal Proposal) (Match, bool) {
	if strings.TrimSpace(proposal.Search) == "" {
		return Match{}, false
	}
	pattern, err := regexp.Compile(flexibleWhitespacePattern(proposal.Search))
	if err != nil {
		return Match{}, false
	}
	loc := pattern.FindStringIndex(document)
	if loc == nil {
		return Match{}, false
	}
	return Match{
		Range:       Range{Start: loc[0], End: loc[1]},
		Replacement: proposal.Replace,
	}, true
}

func flexibleWhitespacePattern(search string) string {
	var b strings.Builder
	inSpace := false
	literalStart := 0
	for i, r := range search {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteString(regexp.QuoteMeta(search[literalStart:i]))
				b.WriteString(`\s+`)
				inSpace = true
			}
			continue
		}
		if inSpace {
			literalStart = i
			inSpace = false
		}
	}
	if !inSpace {
		b.WriteString(regexp.QuoteMeta(search[literalStart:]))
	}
	return b.String()
}

// NormalizedPosition searches a whitespace-collapsed copy of the document and maps
// the hit back to original offsets, verifying the recovered slice before use.
type NormalizedPosition struct{}

func (NormalizedPosition) Name() string { return "normalized_position" }

func (NormalizedPosition) Attempt(document string, proposal Proposal) (Match, bool) {
	needle := strings.TrimSpace(collapseWhitespace(proposal.Search))
	if utf8.RuneCountInString(needle) < MinNormalizedSearchLength {
		return Match{}, false
	}

	normalized, offsets := normalizeWithOffsets(document)
	pos := strings.Index(normalized, needle)
	if pos < 0 {
		return Match{}, false
	}

	start := offsets[pos]
	end := offsets[pos+len(needle)-1] + 1
	if strings.TrimSpace(collapseWhitespace(document[start:end])) != needle {
		return Match{}, false
	}
	// A hit that starts or ends inside a word would splice that word apart.
	if splitsWord(document, start) || splitsWord(document, end) {
		return Match{}, false
	}
	return Match{
		Range:       Range{Start: start, End: end},
		Replacement: proposal.Replace,
	}, true
}

// normalizeWithOffsets collapses whitespace runs to a single space and returns,
// for every byte of the normalized string, its byte offset in text.
func normalizeWithOffsets(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	offsets := make([]int, 0, len(text))
	inSpace := false
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				offsets = append(offsets, i)
				inSpace = true
			}
			i += size
			continue
		}
		inSpace = false
		b.WriteString(text[i : i+size])
		for k := 0; k < size; k++ {
			offsets = append(offsets, i+k)
		}
		i += size
	}
	return b.String(), offsets
}

func collapseWhitespace(text string) string {
	normalized, _ := normalizeWithOffsets(text)
	return normalized
}

// splitsWord reports whether offset falls between two letters or digits.
func splitsWord(document string, offset int) bool {
	if offset <= 0 || offset >= len(document) {
		return false
	}
	before, _ := utf8.DecodeLastRuneInString(document[:offset])
	after, _ := utf8.DecodeRuneInString(document[offset:])
	return isWordRune(before) && isWordRune(after)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// AttributeValue handles proposals that quote a single attribute value
// (href="...", src='...'): when that value appears exactly once in the document,
// only the value itself is replaced. Repeated values are left alone because the
// owning element cannot be told apart.
type AttributeValue struct{}

func (AttributeValue) Name() string { return "attribute_value" }

var attributePattern = regexp.MustCompile(`([A-Za-z_:][-A-Za-z0-9_:.]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)

type attribute struct {
	name  string
	value string
}

func (AttributeValue) Attempt(document string, proposal Proposal) (Match, bool) {
	searchAttrs := quotedAttributes(proposal.Search)
	if len(searchAttrs) != 1 || searchAttrs[0].value == "" {
		return Match{}, false
	}
	target := searchAttrs[0]

	replacement, ok := correspondingValue(target.name, quotedAttributes(proposal.Replace))
	if !ok || replacement == target.value {
		return Match{}, false
	}

	if strings.Count(document, target.value) != 1 {
		return Match{}, false
	}
	idx := strings.Index(document, target.value)
	return Match{
		Range:       Range{Start: idx, End: idx + len(target.value)},
		Replacement: replacement,
	}, true
}

func quotedAttributes(text string) []attribute {
	matches := attributePattern.FindAllStringSubmatch(text, -1)
	attrs := make([]attribute, 0, len(matches))
	for _, m := range matches {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		attrs = append(attrs, attribute{name: strings.ToLower(m[1]), value: value})
	}
	return attrs
}

func correspondingValue(name string, attrs []attribute) (string, bool) {
	var found []string
	for _, attr := range attrs {
		if attr.name == name {
			found = append(found, attr.value)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	if len(found) == 0 && len(attrs) == 1 {
		return attrs[0].value, true
	}
	return "", false
}
