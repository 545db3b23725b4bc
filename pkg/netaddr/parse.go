package netaddr

import "net/netip"

// ParseIP parses a canonical IPv4 dotted-decimal or IPv6 colon-hex string
// (including "::"-compressed and IPv4-mapped-IPv6 forms such as
// "::ffff:a.b.c.d") into an IP, delegating the actual grammar to
// net/netip.ParseAddr rather than hand-rolling it: netip already rejects
// the same malformed forms spec.md §6 calls out (leading zeros, octets out
// of range, more than one "::"), and As4()/As16() hand back bytes in the
// exact wire order IP's own fields are stored in. Rejects empty strings,
// out-of-range octets, buffer-overlong input, and zoned addresses (this
// runtime's IP has no zone field; Endpoint's scope id is a separate,
// caller-supplied value per spec.md §3), matching spec.md §6's parser
// contract.
func ParseIP(s string) (IP, error) {
	if s == "" {
		return IP{}, ErrEmptyAddress
	}
	if len(s) > maxAddressLen {
		return IP{}, ErrAddressTooLong
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return IP{}, ErrInvalidAddress
	}
	if addr.Zone() != "" {
		return IP{}, ErrInvalidAddress
	}
	if addr.Is4() {
		b := addr.As4()
		return V4(b[0], b[1], b[2], b[3]), nil
	}
	return V6(addr.As16()), nil
}
