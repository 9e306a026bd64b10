package highlight

import (
	"regexp"
	"strings"
)

var ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

type Result struct {
	Text      string
	Count     int
	LineIndex []int
}

// ApplyANSI wraps every case-insensitive occurrence of query in the
// rendered text. Escape sequences are left intact and never matched
// across, so a term split by a color change stays unhighlighted.
func ApplyANSI(input, query string, wrap func(string) string) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{Text: input}
	}
	if wrap == nil {
		wrap = func(s string) string { return s }
	}

	var out strings.Builder
	var lineIndex []int
	total := 0

	for lineNo, line := range strings.SplitAfter(input, "\n") {
		count := 0
		for _, seg := range splitSegments(line) {
			if seg.ansi {
				out.WriteString(seg.text)
				continue
			}
			marked, n := markMatches(seg.text, query, wrap)
			out.WriteString(marked)
			count += n
		}
		if count > 0 {
			lineIndex = append(lineIndex, lineNo)
			total += count
		}
	}

	return Result{Text: out.String(), Count: total, LineIndex: lineIndex}
}

type segment struct {
	text string
	ansi bool
}

func splitSegments(s string) []segment {
	indices := ansiCSI.FindAllStringIndex(s, -1)
	if len(indices) == 0 {
		return []segment{{text: s}}
	}

	segs := make([]segment, 0, 2*len(indices)+1)
	pos := 0
	for _, idx := range indices {
		if idx[0] > pos {
			segs = append(segs, segment{text: s[pos:idx[0]]})
		}
		segs = append(segs, segment{text: s[idx[0]:idx[1]], ansi: true})
		pos = idx[1]
	}
	if pos < len(s) {
		segs = append(segs, segment{text: s[pos:]})
	}
	return segs
}

func markMatches(s, query string, wrap func(string) string) (string, int) {
	if s == "" {
		return s, 0
	}
	lower := strings.ToLower(s)
	q := strings.ToLower(query)

	var out strings.Builder
	count := 0
	start := 0
	for {
		rel := strings.Index(lower[start:], q)
		if rel < 0 {
			out.WriteString(s[start:])
			break
		}
		idx := start + rel
		end := idx + len(query)
		out.WriteString(s[start:idx])
		out.WriteString(wrap(s[idx:end]))
		count++
		start = end
	}
	return out.String(), count
}
