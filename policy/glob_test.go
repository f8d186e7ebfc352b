package policy

import "testing"

func TestMatchGlobCrossesSlashesAndSpaces(t *testing.T) {
	cases := []struct {
		pattern, value string
		want           bool
	}{
		{"rm -rf*", "rm -rf /", true},
		{"rm -rf*", "rm -rf /var/lib", true},
		{"rm -rf*", "ls -la", false},
		{"*secret*", "/root/.ssh/secret_key", true},
		{"http*", "https://api.example.com", true},
		{"*", "anything at all", true},
		{"", "anything at all", true},
		{"Bash", "bash", false},
	}
	for _, c := range cases {
		if got := matchGlob(c.pattern, c.value); got != c.want {
			t.Fatalf("matchGlob(%q, %q) = %v, want %v", c.pattern, c.value, got, c.want)
		}
	}
}
