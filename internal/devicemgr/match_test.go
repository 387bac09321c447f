package devicemgr

import "testing"

func TestMatchStringLiteral(t *testing.T) {
	cases := []struct {
		pattern, value string
		want           bool
	}{
		{"", "anything", true},
		{"Xbox Controller", "Xbox Controller", true},
		{"Xbox Controller", "Other Device", false},
		{"Xbox", "Xbox Controller", false}, // literal equality, no substring match
	}
	for _, c := range cases {
		if got := MatchString(c.pattern, c.value); got != c.want {
			t.Errorf("MatchString(%q, %q) = %v, want %v", c.pattern, c.value, got, c.want)
		}
	}
}

func TestMatchStringRegexHeuristic(t *testing.T) {
	cases := []struct {
		pattern, value string
		want           bool
	}{
		{"^Xbox", "Xbox Controller", true},
		{"^Xbox", "Not Xbox Controller", false},
		{"Controller$", "Xbox Controller", true},
		{"Controller$", "Controller X", false},
		{"Xbox.*Controller", "Xbox Wireless Controller", true},
		{"Xbox.+Controller", "XboxController", false}, // .+ needs at least one char
	}
	for _, c := range cases {
		if got := MatchString(c.pattern, c.value); got != c.want {
			t.Errorf("MatchString(%q, %q) = %v, want %v", c.pattern, c.value, got, c.want)
		}
	}
}

func TestMatchStringInvalidRegexFallsBackToLiteral(t *testing.T) {
	// "[" alone looks like regex under no heuristic rule, so exercise the
	// fallback via a pattern that DOES look like regex but fails to compile.
	pattern := "^(unclosed"
	if MatchString(pattern, pattern) != true {
		t.Errorf("MatchString with invalid regex should fall back to literal equality")
	}
	if MatchString(pattern, "something else") {
		t.Errorf("MatchString with invalid regex should not match a different literal value")
	}
}

func TestLooksLikeRegexHeuristic(t *testing.T) {
	cases := []struct {
		pattern string
		want    bool
	}{
		{"plain text", false},
		{"^anchored", true},
		{"anchored$", true},
		{"has.*wildcard", true},
		{"has.+wildcard", true},
		{"", false},
	}
	for _, c := range cases {
		if got := looksLikeRegex(c.pattern); got != c.want {
			t.Errorf("looksLikeRegex(%q) = %v, want %v", c.pattern, got, c.want)
		}
	}
}
