// Package registry is the in-memory catalog of configured listeners,
// transmitters, targets, and maps.
//
// All ids are positive integers carried in host byte order throughout this
// package and everything downstream of it; network byte order only exists
// at the syscall boundary inside internal/sockets. Mixing the two is, per
// the original implementation's own design notes, the main correctness
// hazard in this kind of code, so the rule is kept simple: nothing outside
// internal/sockets ever calls htonl/htons/ntohl/ntohs equivalents.
package registry

// Listener is a configured ingress endpoint: one UDP socket bound to a
// specific address/port that receives datagrams to be repeated.
type Listener struct {
	ID      int
	Address uint32 // host byte order, 0 = any interface
	Port    uint16 // host byte order, 1025-65535
	FD      int    // ingress socket file descriptor
}

// Transmitter is a configured egress socket, optionally bound, used as the
// send channel for one or more targets.
type Transmitter struct {
	ID      int
	Address uint32 // host byte order, 0 = any
	Port    uint16 // host byte order, 0 = ephemeral
	FD      int    // egress socket file descriptor
}

// Target is a destination record (address, port, transmitter) named by id.
type Target struct {
	ID            int
	Address       uint32 // host byte order, must be non-zero
	Port          uint16 // host byte order, must be non-zero
	TransmitterID int
}

// Map is a matching rule routing an incoming datagram to a single target.
// Maps have no identity of their own; insertion order is significant and
// observable because duplicate-map fan-out (two maps targeting the same
// target) must send the payload twice, in the order the maps were defined.
type Map struct {
	ListenerID int
	SrcAddress uint32 // host byte order, 0 = wildcard
	SrcPort    uint16 // host byte order, 0 = wildcard
	TargetID   int
}

// Matches reports whether an incoming datagram on listenerID from
// (srcAddr, srcPort) (both host byte order) satisfies this map.
func (m Map) Matches(listenerID int, srcAddr uint32, srcPort uint16) bool {
	if m.ListenerID != listenerID {
		return false
	}
	if m.SrcAddress != 0 && m.SrcAddress != srcAddr {
		return false
	}
	if m.SrcPort != 0 && m.SrcPort != srcPort {
		return false
	}
	return true
}
