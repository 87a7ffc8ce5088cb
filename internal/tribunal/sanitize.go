package tribunal

import "strings"

// Sanitize normalises an untrusted history value into a transcript.
//
// Only the last limit items of raw are inspected, so the result never holds
// more than limit entries. An item survives when it carries a non-empty
// string speaker and a non-empty string text; anything else is dropped
// silently. A raw value that is not a list yields an empty transcript.
// limit <= 0 selects [DefaultHistoryCap].
func Sanitize(raw any, limit int) []Entry {
	if limit <= 0 {
		limit = DefaultHistoryCap
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []Entry:
		items = make([]any, len(v))
		for i, e := range v {
			items[i] = e
		}
	case []map[string]any:
		items = make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}
	default:
		return []Entry{}
	}

	if len(items) > limit {
		items = items[len(items)-limit:]
	}

	out := make([]Entry, 0, len(items))
	for _, item := range items {
		if e, ok := entryOf(item); ok {
			out = append(out, e)
		}
	}
	return out
}

func entryOf(item any) (Entry, bool) {
	var e Entry
	switch v := item.(type) {
	case map[string]any:
		e.Speaker, _ = v["speaker"].(string)
		e.Text, _ = v["text"].(string)
	case map[string]string:
		e.Speaker, e.Text = v["speaker"], v["text"]
	case Entry:
		e = v
	case *Entry:
		if v != nil {
			e = *v
		}
	default:
		return Entry{}, false
	}
	if e.Speaker == "" || e.Text == "" {
		return Entry{}, false
	}
	return e, true
}

// tail returns a copy of the last n entries of h.
func tail(h []Entry, n int) []Entry {
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]Entry{}, h...)
}

// renderTranscript renders entries as "speaker: text" lines.
func renderTranscript(h []Entry) string {
	lines := make([]string, len(h))
	for i, e := range h {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}
