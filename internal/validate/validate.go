package validate

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxContentRunes  = 200
	MaxUsernameRunes = 50
)

type Category string

const (
	CategoryLength    Category = "length"
	CategoryProfanity Category = "profanity"
	CategoryURL       Category = "url"
)

// Error is a validation rejection. Reason is safe to return to the
// client; the matched token is never included.
type Error struct {
	Category Category
	Reason   string
}

func (e *Error) Error() string {
	return e.Reason
}

var (
	whitespaceRuns = regexp.MustCompile(`\s+`)
	urlPattern     = regexp.MustCompile(`(?i)https?://[^\s]+`)
	usernameStrip  = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// baseTokens are the dictionary words the profanity patterns are built
// from. Each is expanded to catch symbol substitution, letter spacing
// and common leet/homoglyph swaps.
var baseTokens = []string{
	"fuck",
	"shit",
	"bitch",
	"asshole",
	"cunt",
	"dick",
	"bastard",
	"whore",
	"slut",
	"cock",
	"pussy",
	"nigger",
	"faggot",
	"retard",
}

// letterClasses maps a letter to the character class of lookalikes a
// filter-evading client might substitute for it.
var letterClasses = map[rune]string{
	'a': "[a@4]",
	'b': "[b8]",
	'c': "[ck(]",
	'e': "[e3]",
	'f': "(?:f|ph)",
	'g': "[g9]",
	'i': "[i1!l|]",
	'o': "[o0]",
	's': "[s$5z]",
	't': "[t7+]",
	'u': "[uv]",
}

// separator allows letters of a token to be spaced out with
// whitespace, dots, dashes, underscores or asterisks.
const separator = `[\s.\-_*]*`

// genericSymbol stands in for a censored inner letter, as in "f*ck".
const genericSymbol = `[*@#$%&?!]`

var profanityPatterns = compileProfanityPatterns()

func compileProfanityPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(baseTokens))
	for _, token := range baseTokens {
		runes := []rune(token)
		parts := make([]string, len(runes))
		for i, r := range runes {
			class, ok := letterClasses[r]
			if !ok {
				class = string(r)
			}
			if i > 0 && i < len(runes)-1 {
				// inner letters may be fully masked by a symbol
				class = "(?:" + class + "|" + genericSymbol + ")"
			}
			parts[i] = class
		}
		pattern := `(?i)\b` + strings.Join(parts, separator) + `\b`
		patterns = append(patterns, regexp.MustCompile(pattern))
	}
	return patterns
}

type Validator struct {
	allowedHosts []string
}

// NewValidator returns a validator whose URL check accepts only hosts
// equal to, or subdomains of, the given allow-list.
func NewValidator(allowedHosts []string) *Validator {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Validator{allowedHosts: hosts}
}

// Validate applies the length, profanity and URL checks in order,
// short-circuiting on the first failure.
func (v *Validator) Validate(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return &Error{Category: CategoryLength, Reason: "message cannot be empty"}
	}
	if utf8.RuneCountInString(trimmed) > MaxContentRunes {
		return &Error{Category: CategoryLength, Reason: "message exceeds maximum length"}
	}

	for _, pattern := range profanityPatterns {
		if pattern.MatchString(trimmed) {
			return &Error{Category: CategoryProfanity, Reason: "message contains inappropriate language"}
		}
	}

	for _, raw := range urlPattern.FindAllString(trimmed, -1) {
		// strip trailing punctuation picked up by the match
		raw = strings.TrimRight(raw, ".,;:!?)")
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return &Error{Category: CategoryURL, Reason: "message contains an invalid link"}
		}
		if !v.hostAllowed(u.Hostname()) {
			return &Error{Category: CategoryURL, Reason: "message contains a link to an unapproved site"}
		}
	}

	return nil
}

func (v *Validator) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range v.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// Sanitize trims the content, strips NUL bytes and collapses
// whitespace runs to a single space. Idempotent.
func Sanitize(content string) string {
	content = strings.ReplaceAll(content, "\x00", "")
	content = whitespaceRuns.ReplaceAllString(content, " ")
	return strings.TrimSpace(content)
}

// SanitizeUsername keeps only [A-Za-z0-9_] and truncates to the
// maximum username length. May return an empty string; callers reject
// that upstream.
func SanitizeUsername(s string) string {
	s = usernameStrip.ReplaceAllString(s, "")
	runes := []rune(s)
	if len(runes) > MaxUsernameRunes {
		runes = runes[:MaxUsernameRunes]
	}
	return string(runes)
}
