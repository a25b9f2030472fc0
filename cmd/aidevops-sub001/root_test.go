package main

import "testing"

func TestSSHRemotePatternExtractsOwnerRepo(t *testing.T) {
	cases := []struct {
		url       string
		wantOwner string
		wantRepo  string
		wantMatch bool
	}{
		{"git@github.com:acme/widget.git", "acme", "widget", true},
		{"https://github.com/acme/widget.git", "acme", "widget", true},
		{"https://github.com/acme/widget", "acme", "widget", true},
		{"git@github.com:acme/widget", "acme", "widget", true},
		{"not-a-remote-url", "", "", false},
	}
	for _, c := range cases {
		m := sshRemotePattern.FindStringSubmatch(c.url)
		if c.wantMatch && m == nil {
			t.Errorf("expected %q to match", c.url)
			continue
		}
		if !c.wantMatch {
			if m != nil {
				t.Errorf("expected %q not to match, got %v", c.url, m)
			}
			continue
		}
		if m[2] != c.wantOwner || m[3] != c.wantRepo {
			t.Errorf("%q: got owner=%q repo=%q, want owner=%q repo=%q", c.url, m[2], m[3], c.wantOwner, c.wantRepo)
		}
	}
}
