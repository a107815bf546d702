package policy

import (
	"regexp"
	"strings"
	"unicode"
)

// Kind names a category of candidate personal data.
type Kind string

const (
	KindEmail      Kind = "email"
	KindProfileURL Kind = "profile_url"
	KindNationalID Kind = "national_id"
	KindBirthDate  Kind = "birth_date"
	KindPhone      Kind = "phone"
	KindName       Kind = "candidate_name"
)

// Marker returns the placeholder that replaces data of kind k.
func (k Kind) Marker() string {
	return "[" + strings.ToUpper(string(k)) + "]"
}

type rule struct {
	kind   Kind
	re     *regexp.Regexp
	accept func(match string) bool
}

// Rules run in order. Emails and profile links go before the numeric rules
// so digits inside them are not reread as phone numbers.
var rules = []rule{
	{kind: KindEmail, re: regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)},
	{kind: KindProfileURL, re: regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:linkedin\.com/in|github\.com|gitlab\.com|twitter\.com|x\.com)/[a-z0-9_\-.%]+/?`)},
	{kind: KindNationalID, re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{kind: KindBirthDate, re: regexp.MustCompile(`(?i)\b(?:born(?:\s+on)?|date\s+of\s+birth|dob)[:\s]+(?:\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}|[a-z]+\s+\d{1,2},?\s+\d{4}|\d{1,2}\s+[a-z]+\s+\d{4})`)},
	{kind: KindPhone, re: regexp.MustCompile(`\+?\d[\d\-(). ]{6,}\d`), accept: phoneLike},
}

// phoneLike rejects short numeric runs such as years, ISO dates and salaries.
func phoneLike(match string) bool {
	digits := 0
	for _, r := range match {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits >= 9
}

// Redaction is candidate text with personal data replaced by markers.
type Redaction struct {
	Text  string
	Kinds []Kind
}

func (r Redaction) Changed() bool { return len(r.Kinds) > 0 }

// Redact masks contact details, profile links, birth dates, ID numbers and
// the given candidate names in text a candidate spoke or uploaded.
func Redact(input string, names ...string) Redaction {
	out := Redaction{Text: input}
	for _, rl := range rules {
		hit := false
		out.Text = rl.re.ReplaceAllStringFunc(out.Text, func(m string) string {
			if rl.accept != nil && !rl.accept(m) {
				return m
			}
			hit = true
			return rl.kind.Marker()
		})
		if hit {
			out.Kinds = append(out.Kinds, rl.kind)
		}
	}
	if re := namePattern(names); re != nil {
		next := re.ReplaceAllString(out.Text, KindName.Marker())
		if next != out.Text {
			out.Text = next
			out.Kinds = append(out.Kinds, KindName)
		}
	}
	return out
}

// namePattern matches any word of the candidate's names, ignoring case.
// Single letters and initials are left alone.
func namePattern(names []string) *regexp.Regexp {
	var words []string
	seen := make(map[string]bool)
	for _, n := range names {
		for _, w := range strings.FieldsFunc(n, func(r rune) bool { return !unicode.IsLetter(r) && r != '\'' && r != '-' }) {
			key := strings.ToLower(w)
			if len([]rune(w)) < 2 || seen[key] {
				continue
			}
			seen[key] = true
			words = append(words, regexp.QuoteMeta(w))
		}
	}
	if len(words) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
}

// RedactForLog redacts input and truncates it to maxRunes so candidate text
// can be attached to log lines.
func RedactForLog(input string, maxRunes int, names ...string) string {
	out := Redact(input, names...).Text
	if maxRunes <= 0 {
		return out
	}
	r := []rune(out)
	if len(r) <= maxRunes {
		return out
	}
	return string(r[:maxRunes]) + "…"
}
