package strategist

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	jsonPassword = regexp.MustCompile(`(?i)\{[^{}]*"(?:password|p4ssw0rd)"\s*:\s*"([^"]+)"[^{}]*\}`)

	passwordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:password|p4ssw0rd)\s+is\s*:?\s+([A-Za-z0-9_\-]+)`),
		regexp.MustCompile(`(?i)\bsecret\s+(?:word|code)\s+is\s*:?\s+([^\s.\r\n]+)`),
		regexp.MustCompile(`(?i)\bpasscode\s*[:\-]\s*([^\s.\r\n]+)`),
		regexp.MustCompile(`(?i)<password>\s*([^<]+?)\s*</password>`),
		regexp.MustCompile(`(?i)\[password\]\s*([^\]\s]+)\s*\[/password\]`),
		regexp.MustCompile(`(?i)<pw>\s*([A-Za-z0-9_\-]+)\s*</pw>`),
	}

	quotedToken = regexp.MustCompile(`“([^”]+)”|"([^"]+)"|‘([^’]+)’|'([^']+)'`)
	allCaps     = regexp.MustCompile(`\b([A-Z0-9]{3,})\b`)
	letterCSV   = regexp.MustCompile(`^\s*[A-Za-z](?:\s*[,\s]\s*[A-Za-z])+\s*\.?\s*$`)
	firstLetter = regexp.MustCompile(`[A-Za-z]`)
)

// cleanToken trims trailing punctuation and rejects masked or multi-word
// tokens.
func cleanToken(s string) (string, bool) {
	t := strings.TrimSpace(s)
	t = strings.TrimRight(t, ".,;:!?")
	t = strings.Trim(t, "`*_")
	if t == "" || strings.ContainsAny(t, " \t\r\n*•") {
		return "", false
	}
	return t, true
}

// ExtractCandidates lists password candidates found in a reply, strongest
// first: explicit JSON, "password is" style phrases and tags, the last quoted
// token, the last all-caps token.
func ExtractCandidates(reply string) []string {
	text := strings.ReplaceAll(reply, "`", "")
	var out []string
	add := func(s string) {
		if t, ok := cleanToken(s); ok {
			out = append(out, t)
		}
	}

	if m := jsonPassword.FindStringSubmatch(text); m != nil {
		add(m[1])
	}
	for _, re := range passwordPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			add(m[1])
		}
	}

	quoted := quotedToken.FindAllStringSubmatch(text, -1)
	for i := len(quoted) - 1; i >= 0; i-- {
		var tok string
		for _, g := range quoted[i][1:] {
			if g != "" {
				tok = g
				break
			}
		}
		if t, ok := cleanToken(tok); ok {
			out = append(out, t)
			break
		}
	}

	if caps := allCaps.FindAllStringSubmatch(text, -1); len(caps) > 0 {
		add(caps[len(caps)-1][1])
	}
	return dedupe(out)
}

// LettersCandidate joins a reply of single letters ("O, C, E, A, N") into a
// word. It needs at least three letters.
func LettersCandidate(reply string) (string, bool) {
	if !letterCSV.MatchString(reply) {
		return "", false
	}
	var b strings.Builder
	for _, r := range reply {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() < 3 {
		return "", false
	}
	return b.String(), true
}

// AcrosticCandidate reads the first letter of each non-empty line.
func AcrosticCandidate(reply string) (string, bool) {
	var b strings.Builder
	for _, line := range strings.Split(reply, "\n") {
		if l := firstLetter.FindString(line); l != "" {
			b.WriteString(strings.ToUpper(l))
		}
	}
	if b.Len() < 3 {
		return "", false
	}
	return b.String(), true
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
