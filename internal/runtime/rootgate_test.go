package runtime

import "testing"

func TestRootGateOK(t *testing.T) {
	cases := []struct {
		name      string
		euid      int
		allowRoot string
		want      bool
	}{
		{"root without escape hatch is refused", 0, "", false},
		{"root with escape hatch set is allowed", 0, "1", true},
		{"non-root is always allowed", 1000, "", true},
		{"non-root with escape hatch set is still allowed", 1000, "1", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := rootGateOK(c.euid, c.allowRoot); got != c.want {
				t.Errorf("rootGateOK(%d, %q) = %v, want %v", c.euid, c.allowRoot, got, c.want)
			}
		})
	}
}
