package enrich

import (
	"regexp"
	"strings"
	"unicode"
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// ignoredLocalParts are mailbox names that never reach a person.
var ignoredLocalParts = []string{"noreply", "no-reply", "donotreply", "do-not-reply", "mailer-daemon"}

// imageSuffixes catch retina asset names such as logo@2x.png.
var imageSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

// ExtractEmails returns the distinct contact addresses found in text,
// lower-cased, in order of first appearance.
func ExtractEmails(text string) []string {
	matches := emailPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		addr := strings.ToLower(strings.Trim(m, ".-"))
		if !usableEmail(addr) {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func usableEmail(addr string) bool {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return false
	}
	local := addr[:at]
	for _, p := range ignoredLocalParts {
		if local == p || strings.HasPrefix(local, p+"+") {
			return false
		}
	}
	for _, s := range imageSuffixes {
		if strings.HasSuffix(addr, s) {
			return false
		}
	}
	return true
}

var stopWords = map[string]struct{}{
	"and": {}, "the": {}, "for": {}, "with": {}, "you": {}, "our": {}, "are": {},
	"will": {}, "your": {}, "this": {}, "that": {}, "from": {}, "have": {}, "all": {},
	"who": {}, "can": {}, "not": {}, "but": {}, "job": {}, "work": {}, "team": {},
}

// tokens returns the distinct lower-case words of text that carry meaning
// for matching.
func tokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	}) {
		if len([]rune(w)) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// MatchScore rates from 0 to 100 how many of a listing's words also appear
// in the resume. Title words count double.
func MatchScore(title, description string, resume map[string]struct{}) int {
	if len(resume) == 0 {
		return 0
	}
	titleWords := tokens(title)
	descWords := tokens(description)
	for w := range titleWords {
		delete(descWords, w)
	}

	var total, hit int
	for w := range titleWords {
		total += 2
		if _, ok := resume[w]; ok {
			hit += 2
		}
	}
	for w := range descWords {
		total++
		if _, ok := resume[w]; ok {
			hit++
		}
	}
	if total == 0 {
		return 0
	}
	return hit * 100 / total
}
