package netaddr_test

import (
	"testing"

	"github.com/quaydev/aio/pkg/netaddr"
)

func TestEndpointRoundTrip(t *testing.T) {
	loopback, err := netaddr.ParseIP("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	ep := netaddr.NewEndpoint(loopback, 8080)
	if got := ep.Port(); got != 8080 {
		t.Errorf("Port() = %d, want 8080", got)
	}
	if got := ep.IP().String(); got != "127.0.0.1" {
		t.Errorf("IP() = %q, want 127.0.0.1", got)
	}
	other := netaddr.NewEndpoint(loopback, 8080)
	if !ep.Equal(other) {
		t.Errorf("identical endpoints not equal")
	}
}

func TestEndpointInequality(t *testing.T) {
	a, _ := netaddr.ParseIP("10.0.0.1")
	b, _ := netaddr.ParseIP("10.0.0.2")
	epA := netaddr.NewEndpoint(a, 100)
	epB := netaddr.NewEndpoint(b, 100)
	if epA.Equal(epB) {
		t.Error("distinct addresses compared equal")
	}
	epC := netaddr.NewEndpoint(a, 101)
	if epA.Equal(epC) {
		t.Error("distinct ports compared equal")
	}
}

func TestEndpointV6Extras(t *testing.T) {
	ip, _ := netaddr.ParseIP("fe80::1")
	ep := netaddr.NewEndpointV6(ip, 443, 7, 3)
	if ep.FlowInfo() != 7 || ep.ScopeID() != 3 {
		t.Errorf("flowinfo/scope not preserved: %d/%d", ep.FlowInfo(), ep.ScopeID())
	}
	other := netaddr.NewEndpointV6(ip, 443, 8, 3)
	if ep.Equal(other) {
		t.Error("endpoints with different flow info compared equal")
	}
}
