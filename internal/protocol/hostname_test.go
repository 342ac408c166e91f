package protocol

import "testing"

func TestSanitizeHost(t *testing.T) {
	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"play.example.com", "play.example.com", true},
		{"Play.Example.COM", "play.example.com", true},
		{"play.example.com\x00FML\x00uuid", "play.example.com", true},
		{"play.example.com/192.168.1.1", "play.example.com", true},
		{"  play.example.com  ", "play.example.com", true},
		{"", "", false},
		{"\x00leading-nul", "", false},
		{"/leading-slash", "", false},
	}
	for _, c := range cases {
		got, ok := SanitizeHost(c.in)
		if ok != c.wantOK || got != c.want {
			t.Fatalf("SanitizeHost(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.wantOK)
		}
	}
}

func TestSanitizeHostIdempotent(t *testing.T) {
	first, ok := SanitizeHost("Play.Example.COM\x00extra")
	if !ok {
		t.Fatal("expected ok")
	}
	second, ok := SanitizeHost(first)
	if !ok || second != first {
		t.Fatalf("sanitize not idempotent: %q -> %q", first, second)
	}
}
