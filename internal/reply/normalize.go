// Package reply classifies raw agent output into a Normalized reply and
// renders it as exactly one outbound WhatsApp message.
package reply

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/titanous/json5"
)

// Normalized is either PlainText or ActionReply.
type Normalized interface {
	kind() Kind
}

type PlainText struct {
	Body string
}

type ActionReply struct {
	Text   string
	Button Button
	Cards  []Card
}

// Button is the single link attached to an ActionReply. UseCTA is nil when
// the agent did not choose a rendering.
type Button struct {
	Title      string
	URL        string
	UseCTA     *bool
	IncludeURL bool
}

// Card is one carousel option.
type Card struct {
	Title       string
	Body        string
	URL         string
	ButtonTitle string
	Media       string
}

func (PlainText) kind() Kind   { return KindPlainText }
func (ActionReply) kind() Kind { return KindAction }

// KindOf names the variant of n.
func KindOf(n Normalized) Kind {
	if n == nil {
		return ""
	}
	return n.kind()
}

// ParseAmbiguityError reports a reply that looked structured but could not be
// decoded into an action. It never fails a request.
type ParseAmbiguityError struct {
	Stage string
	Err   error
}

func (e *ParseAmbiguityError) Error() string {
	if e.Err == nil {
		return "ambiguous reply: " + e.Stage
	}
	return fmt.Sprintf("ambiguous reply (%s): %v", e.Stage, e.Err)
}

func (e *ParseAmbiguityError) Unwrap() error { return e.Err }

// Classify maps any agent reply to exactly one Normalized variant.
func Classify(raw any) Normalized {
	n, _ := ClassifyDetail(raw)
	return n
}

// ClassifyDetail is Classify that also returns a *ParseAmbiguityError when a
// string reply carried the shape of an action but none could be recovered.
func ClassifyDetail(raw any) (Normalized, error) {
	switch v := raw.(type) {
	case map[string]any:
		if a, ok := actionFromObject(v); ok {
			return a, nil
		}
	case string:
		return classifyString(v)
	case []any:
		if text, ok := joinTextBlocks(v); ok {
			return classifyString(text)
		}
	}
	return PlainText{Body: stringify(raw)}, nil
}

func classifyString(s string) (Normalized, error) {
	trimmed := strings.TrimSpace(s)

	var strictErr error
	if strings.HasPrefix(trimmed, "{") {
		var v any
		if strictErr = json.Unmarshal([]byte(trimmed), &v); strictErr == nil {
			if a, ok := actionFrom(v); ok {
				return a, nil
			}
		} else {
			var lenient any
			if err := json5.Unmarshal([]byte(trimmed), &lenient); err == nil {
				if a, ok := actionFrom(lenient); ok {
					return a, nil
				}
			}
		}
	}

	if hasButtonMarker(s) {
		if a, ok := scanEmbedded(s); ok {
			return a, nil
		}
		return PlainText{Body: s}, &ParseAmbiguityError{Stage: "embedded object", Err: strictErr}
	}
	if strictErr != nil {
		return PlainText{Body: s}, &ParseAmbiguityError{Stage: "json", Err: strictErr}
	}
	return PlainText{Body: s}, nil
}

func hasButtonMarker(s string) bool {
	return strings.Contains(s, `"button"`) || strings.Contains(s, `'button'`)
}

// scanEmbedded tries every balanced {...} region, outermost first, and
// returns the first that decodes to an action object.
func scanEmbedded(s string) (ActionReply, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > start {
			candidate := s[start : end+1]
			var v any
			if err := json.Unmarshal([]byte(candidate), &v); err != nil {
				v = nil
				if err := json5.Unmarshal([]byte(candidate), &v); err != nil {
					v = nil
				}
			}
			if a, ok := actionFrom(v); ok {
				return a, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ActionReply{}, false
}

// matchBrace returns the index of the brace closing the one at open, or -1.
// Braces inside single or double quoted strings are ignored.
func matchBrace(s string, open int) int {
	depth := 0
	var quote byte
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// joinTextBlocks flattens LangGraph content blocks. ok is false when the
// list holds no text at all.
func joinTextBlocks(blocks []any) (string, bool) {
	var b strings.Builder
	found := false
	for _, block := range blocks {
		switch v := block.(type) {
		case string:
			b.WriteString(v)
			found = true
		case map[string]any:
			if t, _ := v["type"].(string); t != "" && t != "text" {
				continue
			}
			if text, ok := v["text"].(string); ok {
				b.WriteString(text)
				found = true
			}
		}
	}
	return b.String(), found
}

func actionFrom(v any) (ActionReply, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return ActionReply{}, false
	}
	return actionFromObject(m)
}

func actionFromObject(m map[string]any) (ActionReply, bool) {
	rawText, hasText := m["text"]
	rawButton, hasButton := m["button"]
	if !hasText || !hasButton {
		return ActionReply{}, false
	}

	a := ActionReply{Text: stringify(rawText)}
	if bm, ok := rawButton.(map[string]any); ok {
		a.Button = Button{
			Title:      firstString(bm, "text", "title"),
			URL:        strings.TrimSpace(firstString(bm, "url")),
			UseCTA:     optionalBool(bm["use_cta"]),
			IncludeURL: isTrue(bm["include_url"]),
		}
	}
	if list, ok := m["cards"].([]any); ok {
		for _, item := range list {
			cm, ok := item.(map[string]any)
			if !ok {
				continue
			}
			card := Card{
				Title:       firstString(cm, "title"),
				Body:        firstString(cm, "text", "body"),
				URL:         strings.TrimSpace(firstString(cm, "url")),
				ButtonTitle: firstString(cm, "button", "button_text"),
				Media:       firstString(cm, "media"),
			}
			// cards may carry a button object shaped like the top-level one
			if bm, ok := cm["button"].(map[string]any); ok {
				card.ButtonTitle = firstNonEmpty(firstString(bm, "text", "title"), card.ButtonTitle)
				card.URL = firstNonEmpty(card.URL, strings.TrimSpace(firstString(bm, "url")))
			}
			a.Cards = append(a.Cards, card)
		}
	}
	return a, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func optionalBool(v any) *bool {
	switch b := v.(type) {
	case bool:
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			t := true
			return &t
		case "false":
			f := false
			return &f
		}
	}
	return nil
}

func isTrue(v any) bool {
	b := optionalBool(v)
	return b != nil && *b
}

// stringify renders a reply for plain-text delivery: strings unchanged, nil
// as "", structured values as JSON.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
