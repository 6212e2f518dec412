package dlp

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Detection records one distinct matched original value for one request,
// linking a pattern to the value it found and the placeholder (if any)
// that replaced it.
type Detection struct {
	PatternName   string
	Kind          Kind
	OriginalValue string
	Placeholder   string
	MessageIndex  *int
}

// RedactionMap is the per-request bijection between placeholders and the
// original values they replace. It is built during request ingress and
// consumed during response egress; it must never be shared across
// requests (placeholders are per-request only, per the open question
// resolution in DESIGN.md).
type RedactionMap struct {
	order      []placeholderEntry
	byOriginal map[string]string
}

type placeholderEntry struct {
	placeholder string
	original    string
}

// NewRedactionMap returns an empty Redaction Map.
func NewRedactionMap() *RedactionMap {
	return &RedactionMap{byOriginal: make(map[string]string)}
}

// Empty reports whether no replacements have been recorded.
func (m *RedactionMap) Empty() bool {
	return len(m.order) == 0
}

func (m *RedactionMap) lookup(original string) (string, bool) {
	p, ok := m.byOriginal[original]
	return p, ok
}

func (m *RedactionMap) add(placeholder, original string) {
	m.byOriginal[original] = placeholder
	m.order = append(m.order, placeholderEntry{placeholder: placeholder, original: original})
}

// Unredact replaces every placeholder occurring in s with its original
// value. Placeholders are substituted in descending order of length so
// that a short placeholder never clobbers a substring of a longer one
// that happens to share a prefix.
func (m *RedactionMap) Unredact(s string) string {
	if len(m.order) == 0 {
		return s
	}
	entries := make([]placeholderEntry, len(m.order))
	copy(entries, m.order)
	sort.Slice(entries, func(i, j int) bool {
		return len(entries[i].placeholder) > len(entries[j].placeholder)
	})
	for _, e := range entries {
		s = strings.ReplaceAll(s, e.placeholder, e.original)
	}
	return s
}

// MaxPlaceholderLen returns the length of the longest placeholder in the
// map, used by the streaming response path to size its trailing buffer
// so that a placeholder straddling a chunk boundary can still be matched.
func (m *RedactionMap) MaxPlaceholderLen() int {
	max := 0
	for _, e := range m.order {
		if len(e.placeholder) > max {
			max = len(e.placeholder)
		}
	}
	return max
}

// stringLeaf is one string value found during a pre-order JSON walk,
// together with the sjson-compatible path used to write it back.
type stringLeaf struct {
	path  string
	value string
}

// walkStrings recursively collects every string leaf under value, in
// pre-order: object keys in insertion order, array indices ascending.
func walkStrings(value gjson.Result, path string, out *[]stringLeaf) {
	if value.Type == gjson.JSON {
		value.ForEach(func(key, val gjson.Result) bool {
			childPath := key.String()
			if path != "" {
				childPath = path + "." + childPath
			}
			walkStrings(val, childPath, out)
			return true
		})
		return
	}
	if value.Type == gjson.String {
		*out = append(*out, stringLeaf{path: path, value: value.String()})
	}
}

// RedactBody applies DLP redaction to a request body. Redaction applies
// only to user-authored content: Claude messages with role "user", and
// Codex input items of type "message" (role "user") or
// "function_call_output". A body that is not valid JSON, or that
// contains neither a "messages" nor an "input" array, passes through
// unchanged. Traversal and match order are deterministic, so a fixed
// Pattern set and a fixed body always produce the same redacted body and
// Redaction Map.
func RedactBody(body []byte, patterns []CompiledPattern) ([]byte, *RedactionMap, []Detection) {
	rm := NewRedactionMap()
	if len(patterns) == 0 || !gjson.ValidBytes(body) {
		return body, rm, nil
	}

	root := gjson.ParseBytes(body)
	result := append([]byte(nil), body...)
	var detections []Detection
	var counter uint32

	redactLeaves := func(container gjson.Result, basePath string, messageIndex int) {
		var leaves []stringLeaf
		walkStrings(container, basePath, &leaves)
		idx := messageIndex
		for _, leaf := range leaves {
			redacted, dets := redactText(leaf.value, patterns, rm, &counter, &idx)
			detections = append(detections, dets...)
			if redacted == leaf.value {
				continue
			}
			updated, err := sjson.SetBytes(result, leaf.path, redacted)
			if err != nil {
				continue
			}
			result = updated
		}
	}

	if messages := root.Get("messages"); messages.IsArray() {
		for i, msg := range messages.Array() {
			if msg.Get("role").String() != "user" {
				continue
			}
			content := msg.Get("content")
			if !content.Exists() {
				continue
			}
			redactLeaves(content, fmt.Sprintf("messages.%d.content", i), i)
		}
	}

	if input := root.Get("input"); input.IsArray() {
		for i, item := range input.Array() {
			switch item.Get("type").String() {
			case "message":
				if item.Get("role").String() != "user" {
					continue
				}
				if content := item.Get("content"); content.Exists() {
					redactLeaves(content, fmt.Sprintf("input.%d.content", i), i)
				}
			case "function_call_output":
				if output := item.Get("output"); output.Exists() {
					redactLeaves(output, fmt.Sprintf("input.%d.output", i), i)
				}
			default:
				// reasoning, function_call, non-user messages: left untouched.
			}
		}
	}

	return result, rm, detections
}

// redactText runs every compiled pattern against text in pattern order,
// minting or reusing placeholders for surviving matches and replacing
// every occurrence of each original with its placeholder.
func redactText(text string, patterns []CompiledPattern, rm *RedactionMap, counter *uint32, messageIndex *int) (string, []Detection) {
	result := text
	var detections []Detection

	for _, pattern := range patterns {
		var matches []string
		for _, re := range pattern.Positive {
			matches = append(matches, re.FindAllString(result, -1)...)
		}
		if len(matches) < pattern.MinOccurrences {
			continue
		}

		for _, matched := range matches {
			if pattern.MinUniqueChars > 0 && countUniqueChars(matched) < pattern.MinUniqueChars {
				continue
			}
			if matchesAny(pattern.Negative, matched) {
				continue
			}

			placeholder, existed := rm.lookup(matched)
			if !existed {
				*counter++
				placeholder = createPlaceholder(*counter, matched)
				rm.add(placeholder, matched)
				idx := messageIndex
				detections = append(detections, Detection{
					PatternName:   pattern.Name,
					Kind:          pattern.Kind,
					OriginalValue: matched,
					Placeholder:   placeholder,
					MessageIndex:  idx,
				})
			}

			result = strings.ReplaceAll(result, matched, placeholder)
		}
	}

	return result, detections
}

func countUniqueChars(s string) int {
	seen := make(map[rune]struct{})
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}

func matchesAny(regexes []*regexp.Regexp, s string) bool {
	for _, re := range regexes {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
