// Package ice implements the ICE agent: candidate gathering, STUN
// connectivity checks, pair prioritization, nomination, the
// keep-alive/probe loop, and the state machine driving all of it
// (spec.md §4.4, component E).
package ice

import "net"

// Family distinguishes IPv4 from IPv6 addresses, per spec.md §3.
type Family byte

// Family values.
const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// Address is the 2-tuple(+hint) spec.md §3 requires: a family, 16-byte
// address (v4-mapped when Family is FamilyIPv4), a port in host byte
// order, and an "is point-to-point" hint used to deprioritize VPN
// interfaces during host-candidate gathering.
type Address struct {
	Family       Family
	IP           [16]byte
	Port         uint16
	PointToPoint bool
}

// NewAddress builds an Address from a net.IP and port.
func NewAddress(ip net.IP, port uint16, pointToPoint bool) Address {
	a := Address{Port: port, PointToPoint: pointToPoint}
	if v4 := ip.To4(); v4 != nil {
		a.Family = FamilyIPv4
		copy(a.IP[12:], v4)
	} else {
		a.Family = FamilyIPv6
		copy(a.IP[:], ip.To16())
	}
	return a
}

// NetIP renders the Address back to a net.IP.
func (a Address) NetIP() net.IP {
	if a.Family == FamilyIPv4 {
		return net.IP(a.IP[12:16])
	}
	ip := make(net.IP, 16)
	copy(ip, a.IP[:])
	return ip
}

// UDPAddr renders the Address as a *net.UDPAddr.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.NetIP(), Port: int(a.Port)}
}

// Zero reports whether the address is the zero value.
func (a Address) Zero() bool {
	return a == Address{}
}

// Equal compares family, IP and port (not the point-to-point hint).
func (a Address) Equal(b Address) bool {
	return a.Family == b.Family && a.IP == b.IP && a.Port == b.Port
}

// String renders a human-readable host:port form.
func (a Address) String() string {
	return a.UDPAddr().String()
}
