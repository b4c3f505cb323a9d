package structured

import (
	"regexp"
	"strings"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\n(.*?)\n[ \t]*```")
	fenceMarker = regexp.MustCompile("```(?:json|JSON)?")
)

// StripFences removes markdown code fences around a JSON payload. If a fenced
// block exists its body is returned; otherwise stray markers are dropped.
func StripFences(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(fenceMarker.ReplaceAllString(text, ""))
}

// Extract returns the first JSON object or array in text.
//
// The closing bracket is found by depth counting over the opening bracket
// kind only. Brackets inside string literals are counted too; payloads whose
// strings contain unbalanced brackets of the same kind are cut short and fail
// to decode, which sends them to the repair path. If the depth never returns
// to zero the remainder from the opening bracket is returned.
func Extract(text string) (string, bool) {
	text = StripFences(text)

	obj := strings.IndexByte(text, '{')
	arr := strings.IndexByte(text, '[')

	start := -1
	var open, close byte
	switch {
	case obj != -1 && (arr == -1 || obj < arr):
		start, open, close = obj, '{', '}'
	case arr != -1:
		start, open, close = arr, '[', ']'
	default:
		return "", false
	}

	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case open:
			depth++
		case close:
			depth--
		}
		if depth == 0 {
			return text[start : i+1], true
		}
	}
	return text[start:], true
}
