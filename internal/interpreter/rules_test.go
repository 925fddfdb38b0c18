package interpreter

import (
	"math/rand"
	"testing"
	"time"
	"unicode/utf8"

	"runthru/internal/domain"
)

func TestInterpretScenarios(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Action
	}{
		{"navigate with url", "navigate to https://example.com", Navigate{URL: "https://example.com"}},
		{"go to trims punctuation", "Go to https://example.com/login.", Navigate{URL: "https://example.com/login"}},
		{"open url", "open https://example.com/login", Navigate{URL: "https://example.com/login"}},
		{"bare domain promoted", "visit example.org/pricing", Navigate{URL: "https://example.org/pricing"}},
		{"navigate without url", "navigate to the settings page", Unknown{Reason: "navigate instruction without a URL"}},
		{"type in", "type 'hello' in '#search'", Fill{Target: "#search", Value: "hello"}},
		{"type into double quotes", `Type "jane@example.com" into "Email"`, Fill{Target: "Email", Value: "jane@example.com"}},
		{"fill with", "fill '#password' with 's3cret'", Fill{Target: "#password", Value: "s3cret"}},
		{"type malformed", "type hello", Unknown{Reason: "fill instruction does not match type '<text>' in '<target>'"}},
		{"click remainder", "Click Sign In", Click{Target: "Sign In"}},
		{"click on the", "click on the Submit button.", Click{Target: "Submit button"}},
		{"click quoted", "Click the 'Add to cart' button", Click{Target: "Add to cart"}},
		{"click nothing", "click", Unknown{Reason: "click instruction without a target"}},
		{"scroll default", "scroll down", Scroll{Pixels: DefaultScrollPixels}},
		{"scroll amount", "scroll down 300 pixels", Scroll{Pixels: 300}},
		{"scroll up", "scroll up 200", Scroll{Pixels: -200}},
		{"scroll clamped", "scroll down 5000000", Scroll{Pixels: maxScrollPixels}},
		{"wait default", "wait for the page", Wait{Duration: DefaultWait}},
		{"wait seconds", "wait 3 seconds", Wait{Duration: 3 * time.Second}},
		{"wait ms", "pause 250ms", Wait{Duration: 250 * time.Millisecond}},
		{"wait capped", "wait 10 minutes", Wait{Duration: MaxWait}},
		{"screenshot", "Take a screenshot of the dashboard", Screenshot{}},
		{"unknown", "verify the total is correct", Unknown{Reason: "no rule matched"}},
		{"empty", "   ", Unknown{Reason: "empty instruction"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Interpret(tc.in); got != tc.want {
				t.Fatalf("Interpret(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

// First matching rule wins; these pin down the tie-breaks.
func TestInterpretFirstMatchWins(t *testing.T) {
	cases := []struct {
		in   string
		rule string
		kind domain.ActionKind
	}{
		{"navigate to https://example.com and click Login", "navigate", domain.ActionNavigate},
		{"click the search box and type 'hello' in '#q'", "click", domain.ActionClick},
		{"type 'x' in '#q' then scroll down", "fill", domain.ActionFill},
		{"scroll down and wait 2 seconds", "scroll", domain.ActionScroll},
		{"wait, then take a screenshot", "wait", domain.ActionWait},
		{"go to the cart and click checkout", "navigate", domain.ActionUnknown},
	}
	for _, tc := range cases {
		if got := RuleName(tc.in); got != tc.rule {
			t.Errorf("RuleName(%q) = %q, want %q", tc.in, got, tc.rule)
		}
		if got := Interpret(tc.in).Kind(); got != tc.kind {
			t.Errorf("Interpret(%q).Kind() = %q, want %q", tc.in, got, tc.kind)
		}
	}
}

func TestInterpretNeverPanicsOnRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcdefghijklmnopqrstuvwxyz '\"#./:0123456789-\t\n清点击✓\x00")
	keywords := []string{"click ", "type ", "navigate to ", "scroll ", "wait ", "screenshot", "http://", "'"}

	for i := 0; i < 5000; i++ {
		var buf []rune
		for j := rng.Intn(80); j > 0; j-- {
			if rng.Intn(8) == 0 {
				buf = append(buf, []rune(keywords[rng.Intn(len(keywords))])...)
				continue
			}
			buf = append(buf, alphabet[rng.Intn(len(alphabet))])
		}
		in := string(buf)
		if rng.Intn(10) == 0 {
			in += string([]byte{0xff, 0xfe})
		}
		action := Interpret(in)
		if action == nil {
			t.Fatalf("nil action for %q", in)
		}
		if w, ok := action.(Wait); ok && (w.Duration <= 0 || w.Duration > MaxWait) {
			t.Fatalf("wait out of bounds for %q: %v", in, w.Duration)
		}
	}
}

func FuzzInterpret(f *testing.F) {
	for _, seed := range []string{"navigate to https://example.com", "type 'a' in 'b'", "click", "", "wait 99999999999999999999 s"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		action := Interpret(in)
		if action == nil {
			t.Fatal("nil action")
		}
		if n, ok := action.(Navigate); ok && !utf8.ValidString(n.URL) && utf8.ValidString(in) {
			t.Fatalf("invalid url extracted from valid input: %q", n.URL)
		}
	})
}
