package interpreter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// rule is one entry of the ordered interpretation table. match reports
// whether the rule claims the instruction; once a rule claims it, build
// decides the action, which may be Unknown when parameters are missing.
type rule struct {
	name  string
	match *regexp.Regexp
	build func(instruction string) Action
}

// rules is evaluated top to bottom and the first match wins, so an
// instruction mentioning both "navigate" and "click" is a navigation, and
// one mentioning both "click" and "type" is a click.
var rules = []rule{
	{name: "navigate", match: regexp.MustCompile(`(?i)\b(navigate|go to|open|visit|browse to)\b`), build: buildNavigate},
	{name: "click", match: regexp.MustCompile(`(?i)\b(click|press|tap)`), build: buildClick},
	{name: "fill", match: regexp.MustCompile(`(?i)\b(type|fill|enter)\b`), build: buildFill},
	{name: "scroll", match: regexp.MustCompile(`(?i)\bscroll`), build: buildScroll},
	{name: "wait", match: regexp.MustCompile(`(?i)\b(wait|pause|sleep)\b`), build: buildWait},
	{name: "screenshot", match: regexp.MustCompile(`(?i)(screenshot|screen shot|snapshot|\bcapture\b)`), build: func(string) Action { return Screenshot{} }},
}

// Interpret maps one instruction to an Action using the ordered rule table.
// It never panics; anything unrecognised becomes Unknown.
func Interpret(instruction string) Action {
	trimmed := strings.TrimSpace(instruction)
	if trimmed == "" {
		return Unknown{Reason: "empty instruction"}
	}
	for _, r := range rules {
		if r.match.MatchString(trimmed) {
			return r.build(trimmed)
		}
	}
	return Unknown{Reason: "no rule matched"}
}

// RuleName reports which rule claims instruction, or "" when none does.
func RuleName(instruction string) string {
	trimmed := strings.TrimSpace(instruction)
	for _, r := range rules {
		if r.match.MatchString(trimmed) {
			return r.name
		}
	}
	return ""
}

var (
	urlPattern        = regexp.MustCompile(`(?i)https?://[^\s'"<>()\[\]{}]+`)
	bareDomainPattern = regexp.MustCompile(`(?i)\b((?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,})(/[^\s'"<>]*)?`)
)

// ExtractURL returns the first well-formed http(s) URL in s. A bare domain
// such as "example.com/login" is promoted to https.
func ExtractURL(s string) string {
	if m := urlPattern.FindString(s); m != "" {
		return strings.TrimRight(m, ".,;:!?")
	}
	if m := bareDomainPattern.FindString(s); m != "" {
		return "https://" + strings.TrimRight(m, ".,;:!?")
	}
	return ""
}

func buildNavigate(instruction string) Action {
	if u := ExtractURL(instruction); u != "" {
		return Navigate{URL: u}
	}
	return Unknown{Reason: "navigate instruction without a URL"}
}

var (
	clickKeyword  = regexp.MustCompile(`(?i)\b(?:click|press|tap)(?:s|ed)?\b(?:\s+on\b)?`)
	quotedPattern = regexp.MustCompile(`['"“‘]([^'"”’]+)['"”’]`)
	leadingNoise  = regexp.MustCompile(`(?i)^(?:on|the|a|an)\s+`)
)

func buildClick(instruction string) Action {
	loc := clickKeyword.FindStringIndex(instruction)
	remainder := instruction
	if loc != nil {
		remainder = instruction[loc[1]:]
	}
	if m := quotedPattern.FindStringSubmatch(remainder); m != nil {
		if target := strings.TrimSpace(m[1]); target != "" {
			return Click{Target: target}
		}
	}
	target := strings.TrimSpace(remainder)
	for {
		next := leadingNoise.ReplaceAllString(target, "")
		if next == target {
			break
		}
		target = strings.TrimSpace(next)
	}
	target = strings.TrimRight(target, ".,;:!")
	if target == "" {
		return Unknown{Reason: "click instruction without a target"}
	}
	return Click{Target: target}
}

var fillPatterns = []struct {
	re          *regexp.Regexp
	value, into int
}{
	// type 'hello' in '#search'
	{regexp.MustCompile(`(?i)\b(?:type|fill|enter)\b\s+(?:in\s+)?['"]([^'"]*)['"]\s+(?:in|into)\s+(?:the\s+)?['"]([^'"]+)['"]`), 1, 2},
	// fill '#email' with 'a@b.c'
	{regexp.MustCompile(`(?i)\b(?:type|fill|enter)\b\s+(?:in\s+)?(?:the\s+)?['"]([^'"]+)['"]\s+with\s+['"]([^'"]*)['"]`), 2, 1},
}

func buildFill(instruction string) Action {
	for _, p := range fillPatterns {
		if m := p.re.FindStringSubmatch(instruction); m != nil {
			return Fill{Target: strings.TrimSpace(m[p.into]), Value: m[p.value]}
		}
	}
	return Unknown{Reason: "fill instruction does not match type '<text>' in '<target>'"}
}

var (
	integerPattern = regexp.MustCompile(`-?\d+`)
	scrollUp       = regexp.MustCompile(`(?i)\bup(?:wards?)?\b`)
)

const maxScrollPixels = 100000

func buildScroll(instruction string) Action {
	pixels := DefaultScrollPixels
	if m := integerPattern.FindString(instruction); m != "" {
		if v, err := strconv.Atoi(m); err == nil && v != 0 {
			pixels = v
		}
	}
	pixels = clampScroll(pixels)
	if scrollUp.MatchString(instruction) && pixels > 0 {
		pixels = -pixels
	}
	return Scroll{Pixels: pixels}
}

func clampScroll(pixels int) int {
	return max(-maxScrollPixels, min(pixels, maxScrollPixels))
}

var durationPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?|m|mins?|minutes?)?\b`)

func buildWait(instruction string) Action {
	m := durationPattern.FindStringSubmatch(instruction)
	if m == nil {
		return Wait{Duration: DefaultWait}
	}
	d, err := parseDuration(m[1], m[2])
	if err != nil || d <= 0 {
		return Wait{Duration: DefaultWait}
	}
	if d > MaxWait {
		d = MaxWait
	}
	return Wait{Duration: d}
}

func parseDuration(number, unit string) (time.Duration, error) {
	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, err
	}
	var scale time.Duration
	switch u := strings.ToLower(unit); {
	case strings.HasPrefix(u, "ms"), strings.HasPrefix(u, "milli"):
		scale = time.Millisecond
	case u == "m", strings.HasPrefix(u, "min"):
		scale = time.Minute
	case u == "", u == "s", strings.HasPrefix(u, "sec"):
		scale = time.Second
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
	if v > float64(MaxWait/scale)+1 {
		return MaxWait, nil
	}
	return time.Duration(v * float64(scale)), nil
}
