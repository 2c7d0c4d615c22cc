package crawler

import "regexp"

// MatchKeywords returns the keywords that occur in text as whole words,
// ignoring case. Matched keywords keep their original casing and input
// order; duplicates collapse. Substring hits inside larger words do not
// count.
func MatchKeywords(text string, keywords []string) []string {
	if text == "" || len(keywords) == 0 {
		return nil
	}
	var matched []string
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			matched = append(matched, kw)
			seen[kw] = struct{}{}
		}
	}
	return matched
}
