package resource

import "testing"

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.js", "a.js", true},
		{"*.js", "src/a.js", false},
		{"**/*.js", "src/a.js", true},
		{"**/*.js", "a.js", true},
		{"**/*.js", "src/deep/a.js", true},
		{"src/**/a.js", "src/a.js", true},
		{"src/**/a.js", "src/x/y/a.js", true},
		{"src/*.js", "src/x/a.js", false},
		{".hidden/*.js", ".hidden/a.js", true},
		{"*", "a.js", true},
		{"*", "a/b.js", false},
	}
	for _, c := range cases {
		if got := MatchGlob(c.pattern, c.path); got != c.want {
			t.Errorf("MatchGlob(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"*.css", "**/*.js"}
	if !MatchAny(patterns, "src/a.js") {
		t.Fatal("expected a match against **/*.js")
	}
	if MatchAny(patterns, "src/a.png") {
		t.Fatal("expected no match")
	}
}
