package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPResolver(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.10"})
	if err != nil {
		t.Fatalf("parse trusted proxies: %v", err)
	}
	resolver := NewClientIPResolver(trusted)

	cases := []struct {
		name   string
		peer   string
		xff    string
		realIP string
		want   string
	}{
		{name: "untrusted peer ignores headers", peer: "198.51.100.4:5000", xff: "203.0.113.1", realIP: "203.0.113.2", want: "198.51.100.4"},
		{name: "trusted peer takes last untrusted hop", peer: "10.1.2.3:443", xff: "6.6.6.6, 203.0.113.7, 10.9.9.9", want: "203.0.113.7"},
		{name: "single trusted address", peer: "192.0.2.10:80", xff: "203.0.113.8", want: "203.0.113.8"},
		{name: "all hops trusted falls back to x-real-ip", peer: "10.1.2.3:443", xff: "10.4.4.4", realIP: "203.0.113.9", want: "203.0.113.9"},
		{name: "malformed hop stops at peer", peer: "10.1.2.3:443", xff: "203.0.113.7, not-an-ip", want: "10.1.2.3"},
		{name: "no port on remote addr", peer: "198.51.100.5", want: "198.51.100.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.peer
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				r.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := resolver.Resolve(r); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for bad prefix length")
	}
	if _, err := ParseTrustedProxies([]string{"proxy.internal"}); err == nil {
		t.Fatal("expected error for hostname")
	}
}
