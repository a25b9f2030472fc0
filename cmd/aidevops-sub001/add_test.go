package main

import "testing"

func TestJoinRest(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"fix"}, "fix"},
		{[]string{"fix", "the", "bug"}, "fix the bug"},
	}
	for _, c := range cases {
		if got := joinRest(c.in); got != c.want {
			t.Errorf("joinRest(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
