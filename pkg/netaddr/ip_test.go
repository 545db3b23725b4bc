package netaddr_test

import (
	"testing"

	"github.com/quaydev/aio/pkg/netaddr"
)

func TestParseIPCategories(t *testing.T) {
	cases := []struct {
		in         string
		wantV6     bool
		loopback   bool
		unspecfied bool
		multicast  bool
	}{
		{"127.0.0.1", false, true, false, false},
		{"0.0.0.0", false, false, true, false},
		{"224.0.0.1", false, false, false, true},
		{"::1", true, true, false, false},
		{"::", true, false, true, false},
		{"ff02::1", true, false, false, true},
		{"::ffff:127.0.0.1", true, true, false, false},
	}
	for _, c := range cases {
		ip, err := netaddr.ParseIP(c.in)
		if err != nil {
			t.Fatalf("ParseIP(%q): %v", c.in, err)
		}
		if ip.IsV6() != c.wantV6 {
			t.Errorf("ParseIP(%q).IsV6() = %v, want %v", c.in, ip.IsV6(), c.wantV6)
		}
		if ip.IsLoopback() != c.loopback {
			t.Errorf("ParseIP(%q).IsLoopback() = %v, want %v", c.in, ip.IsLoopback(), c.loopback)
		}
		if ip.IsUnspecified() != c.unspecfied {
			t.Errorf("ParseIP(%q).IsUnspecified() = %v, want %v", c.in, ip.IsUnspecified(), c.unspecfied)
		}
		if ip.IsMulticast() != c.multicast {
			t.Errorf("ParseIP(%q).IsMulticast() = %v, want %v", c.in, ip.IsMulticast(), c.multicast)
		}
	}
}

func TestParseIPRejects(t *testing.T) {
	for _, in := range []string{"", "256.0.0.1", "1.2.3", "not-an-ip", "1:2:3:4:5:6:7:8:9"} {
		if _, err := netaddr.ParseIP(in); err == nil {
			t.Errorf("ParseIP(%q) succeeded, want error", in)
		}
	}
}

func TestRoundTripMappedConversion(t *testing.T) {
	// to_ipv6(to_ipv4(to_ipv6(a))) == to_ipv6(a) for IPv4/IPv4-mapped inputs.
	for _, in := range []string{"192.168.1.1", "::ffff:192.168.1.1"} {
		a, err := netaddr.ParseIP(in)
		if err != nil {
			t.Fatal(err)
		}
		v6 := a.To16()
		v4, ok := v6.To4()
		if !ok {
			t.Fatalf("To4() failed for %q", in)
		}
		if got, want := v4.To16(), a.To16(); got != want {
			t.Errorf("round trip mismatch for %q: got %v want %v", in, got, want)
		}
	}
}

func TestIPString(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1": "127.0.0.1",
		"::1":       "::1",
		"::":        "::",
		"2001:db8::1": "2001:db8::1",
	}
	for in, want := range cases {
		ip, err := netaddr.ParseIP(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := ip.String(); got != want {
			t.Errorf("ParseIP(%q).String() = %q, want %q", in, got, want)
		}
	}
}
