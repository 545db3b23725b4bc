package netaddr

// Endpoint is a {family, port, address} tuple plus the IPv6 flow info and
// scope id. Port, flow info and scope id are stored in wire (big-endian)
// order; accessors convert on read/write so a caller never has to think
// about byte order.
//
// Endpoint is comparable and trivially copyable — no field holds a pointer
// or slice. Its memory layout is its own, not the kernel's sockaddr_in /
// sockaddr_in6 layout (the family is this package's Family value, and the
// address precedes the flow info), so it is not passed by pointer to
// system socket calls: the socket adaptors convert it to a platform
// sockaddr first.
type Endpoint struct {
	family   Family
	port     uint16 // wire order
	addr     [16]byte
	flowInfo uint32 // wire order, v6 only
	scopeID  uint32 // wire order, v6 only
}

// NewEndpointV4 builds an IPv4 endpoint. port is given in host order.
func NewEndpointV4(ip IP, port uint16) Endpoint {
	v4, _ := ip.To4()
	var e Endpoint
	e.family = FamilyV4
	e.setPort(port)
	copy(e.addr[:4], v4.addr[:4])
	return e
}

// NewEndpointV6 builds an IPv6 endpoint. port is given in host order.
func NewEndpointV6(ip IP, port uint16, flowInfo, scopeID uint32) Endpoint {
	v6 := ip.To16()
	var e Endpoint
	e.family = FamilyV6
	e.setPort(port)
	e.addr = v6.addr
	e.flowInfo = swap32(flowInfo)
	e.scopeID = swap32(scopeID)
	return e
}

// NewEndpoint chooses the family from ip's own tag.
func NewEndpoint(ip IP, port uint16) Endpoint {
	if ip.IsV6() && !ip.IsIPv4MappedIPv6() {
		return NewEndpointV6(ip, port, 0, 0)
	}
	return NewEndpointV4(ip, port)
}

func (e *Endpoint) setPort(port uint16) {
	e.port = swap16(port)
}

// Family reports the endpoint's address family.
func (e Endpoint) Family() Family { return e.family }

// Port returns the port number in host byte order.
func (e Endpoint) Port() uint16 { return swap16(e.port) }

// IP reconstructs the address value.
func (e Endpoint) IP() IP {
	if e.family == FamilyV6 {
		return V6(e.addr)
	}
	var a [4]byte
	copy(a[:], e.addr[:4])
	return V4(a[0], a[1], a[2], a[3])
}

// FlowInfo returns the IPv6 flow label in host order; zero for IPv4.
func (e Endpoint) FlowInfo() uint32 {
	if e.family != FamilyV6 {
		return 0
	}
	return swap32(e.flowInfo)
}

// ScopeID returns the IPv6 zone index in host order; zero for IPv4.
func (e Endpoint) ScopeID() uint32 {
	if e.family != FamilyV6 {
		return 0
	}
	return swap32(e.scopeID)
}

// String renders "ip:port", bracketing IPv6 addresses.
func (e Endpoint) String() string {
	ip := e.IP().String()
	if e.family == FamilyV6 {
		return "[" + ip + "]:" + itoa(int(e.Port()))
	}
	return ip + ":" + itoa(int(e.Port()))
}

// Equal implements spec.md §3's endpoint equality: family, port and address
// must all match, plus flow info/scope id when the family is IPv6.
func (e Endpoint) Equal(other Endpoint) bool {
	if e.family != other.family || e.port != other.port || e.addr != other.addr {
		return false
	}
	if e.family == FamilyV6 {
		return e.flowInfo == other.flowInfo && e.scopeID == other.scopeID
	}
	return true
}

func swap16(v uint16) uint16 {
	return v<<8 | v>>8
}

func swap32(v uint32) uint32 {
	return v<<24 | (v&0xff00)<<8 | (v&0xff0000)>>8 | v>>24
}
