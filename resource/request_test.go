package resource

import "testing"

func TestRequestKeyCanonicalForm(t *testing.T) {
	cases := []struct {
		req  Request
		want string
	}{
		{NewPathRequest("/a.js"), "path:/a.js"},
		{NewDepPathRequest("/a.js"), "dep-path:/a.js"},
		{NewPatternsRequest([]string{"**/*.js"}), `patterns:["**/*.js"]`},
		{NewDepPatternsRequest([]string{"a", "b"}), `dep-patterns:["a","b"]`},
	}
	for _, c := range cases {
		if got := c.req.Key(); got != c.want {
			t.Errorf("Key() = %q, want %q", got, c.want)
		}
	}
}

func TestRequestEqual(t *testing.T) {
	a := NewPatternsRequest([]string{"*.js", "*.css"})
	b := NewPatternsRequest([]string{"*.js", "*.css"})
	c := NewPatternsRequest([]string{"*.css", "*.js"})
	if !a.Equal(b) {
		t.Fatal("expected equal requests to be equal")
	}
	if a.Equal(c) {
		t.Fatal("pattern order must matter for equality")
	}
	if NewPathRequest("/a").Equal(NewDepPathRequest("/a")) {
		t.Fatal("path and dep-path requests must not be equal")
	}
}

func TestRequestIsDependencySide(t *testing.T) {
	if NewPathRequest("/a").IsDependencySide() {
		t.Fatal("path request must not be dependency-side")
	}
	if !NewDepPathRequest("/a").IsDependencySide() {
		t.Fatal("dep-path request must be dependency-side")
	}
	if !NewDepPatternsRequest(nil).IsDependencySide() {
		t.Fatal("dep-patterns request must be dependency-side")
	}
}

func TestParseRequestTypeRoundTrip(t *testing.T) {
	for _, rt := range []RequestType{PathRequest, PatternsRequest, DepPathRequest, DepPatternsRequest} {
		parsed, ok := ParseRequestType(rt.String())
		if !ok || parsed != rt {
			t.Errorf("round trip failed for %v", rt)
		}
	}
	if _, ok := ParseRequestType("bogus"); ok {
		t.Fatal("expected ParseRequestType to reject unknown strings")
	}
}

func TestRecordingToRequests(t *testing.T) {
	rec := Recording{
		Paths:    []string{"/a.js", "/b.js"},
		Patterns: [][]string{{"*.css"}, {"*.png", "*.jpg"}},
	}
	reqs := rec.ToRequests(false)
	if len(reqs) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(reqs))
	}
	if reqs[0].Type != PathRequest || reqs[0].Path != "/a.js" {
		t.Errorf("unexpected first request: %+v", reqs[0])
	}
	if reqs[2].Type != PatternsRequest {
		t.Errorf("expected patterns request at index 2, got %+v", reqs[2])
	}

	depReqs := rec.ToRequests(true)
	for _, r := range depReqs {
		if !r.IsDependencySide() {
			t.Errorf("expected dependency-side request, got %+v", r)
		}
	}
}
