package response

import (
	"regexp"
	"strings"
)

// deniedKeys are dropped at every depth. Matching is case-insensitive.
var deniedKeys = map[string]struct{}{
	"__proto__":        {},
	"constructor":      {},
	"prototype":        {},
	"__definegetter__": {},
	"__definesetter__": {},
	"__lookupgetter__": {},
	"__lookupsetter__": {},
	"eval":             {},
	"script":           {},
	"javascript":       {},
	"onload":           {},
	"onerror":          {},
	"onclick":          {},
	"onmouseover":      {},
}

var executableMarkup = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`),
	regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>`),
	regexp.MustCompile(`(?is)<object\b[^>]*>.*?</object\s*>`),
	regexp.MustCompile(`(?is)<embed\b[^>]*/?>`),
	regexp.MustCompile(`(?i)^\s*javascript\s*:`),
}

// Sanitize returns a deep copy of v with denylisted keys removed at every
// level and string leaves holding executable markup replaced by "".
// It never fails, and Sanitize(Sanitize(v)) equals Sanitize(v).
func Sanitize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if IsDeniedKey(k) {
				continue
			}
			out[k] = Sanitize(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = Sanitize(child)
		}
		return out
	case string:
		if containsExecutableMarkup(val) {
			return ""
		}
		return val
	default:
		return val
	}
}

// SanitizeObject is Sanitize for a top-level object.
func SanitizeObject(v map[string]any) map[string]any {
	return Sanitize(v).(map[string]any)
}

// IsDeniedKey reports whether a key is stripped by Sanitize.
func IsDeniedKey(k string) bool {
	_, denied := deniedKeys[strings.ToLower(strings.TrimSpace(k))]
	return denied
}

func containsExecutableMarkup(s string) bool {
	if !strings.ContainsAny(s, "<:") {
		return false
	}
	for _, re := range executableMarkup {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
