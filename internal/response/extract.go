package response

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/aigoflow/designgen-service/internal/generr"
)

// Strategy names the extraction step that produced a value.
type Strategy string

const (
	StrategyFencedBlock Strategy = "fenced_block"
	StrategyKeyword     Strategy = "keyword"
	StrategyBraceSpan   Strategy = "brace_span"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?is)```[ \\t]*json\\b[^\\S\\n]*\\n?(.*?)```")
	keywordPattern     = regexp.MustCompile(`(?i)(here is the json|here's the json|here is the design system|design system:|json:|result:|output:)`)
)

var errNotObject = errors.New("structured data is not an object")

// Extract locates the structured value embedded in free-form model output.
// Strategies run in order: fenced json blocks (longest first), keyword
// anchored spans, then the outermost brace span.
func Extract(text string) (map[string]any, Strategy, error) {
	var lastErr error

	blocks := fencedBlocks(text)
	for _, block := range blocks {
		v, err := decodeObject(block)
		if err == nil {
			return v, StrategyFencedBlock, nil
		}
		lastErr = err
	}

	for _, span := range keywordSpans(text) {
		v, err := decodeObject(span)
		if err == nil {
			return v, StrategyKeyword, nil
		}
		lastErr = err
	}

	if span, ok := outerBraceSpan(text); ok {
		v, err := decodeObject(span)
		if err == nil {
			return v, StrategyBraceSpan, nil
		}
		lastErr = err
	}

	return nil, "", &generr.Error{
		Kind:    generr.KindParse,
		Message: "no valid structured data found",
		Err:     lastErr,
	}
}

// fencedBlocks returns the bodies of ```json blocks, longest first.
func fencedBlocks(text string) []string {
	matches := fencedBlockPattern.FindAllStringSubmatch(text, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		body := strings.TrimSpace(m[1])
		if body != "" {
			blocks = append(blocks, body)
		}
	}
	sort.SliceStable(blocks, func(i, j int) bool {
		return len(blocks[i]) > len(blocks[j])
	})
	return blocks
}

// keywordSpans returns the first brace-delimited span after each anchor phrase.
func keywordSpans(text string) []string {
	var spans []string
	for _, loc := range keywordPattern.FindAllStringIndex(text, -1) {
		rest := text[loc[1]:]
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			continue
		}
		if end, ok := matchBrace(rest[start:]); ok {
			spans = append(spans, rest[start:start+end+1])
		}
	}
	return spans
}

// matchBrace returns the index of the brace closing s[0], skipping braces
// inside JSON strings.
func matchBrace(s string) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// outerBraceSpan returns text between the first '{' and the last '}' when a
// plain counter over it never goes negative and ends at zero.
func outerBraceSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	span := text[start : end+1]
	if !balanced(span) {
		return "", false
	}
	return span, true
}

func balanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func decodeObject(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}
