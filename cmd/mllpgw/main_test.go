package main

import "testing"

func TestToSegments(t *testing.T) {
	cases := map[string]string{
		"MSH|a\nPID|b\n":     "MSH|a\rPID|b",
		"MSH|a\r\nPID|b\r\n": "MSH|a\rPID|b",
		"MSH|a\rPID|b":       "MSH|a\rPID|b",
		"":                   "",
	}
	for in, want := range cases {
		if got := string(toSegments([]byte(in))); got != want {
			t.Fatalf("toSegments(%q) = %q, want %q", in, got, want)
		}
	}
}
