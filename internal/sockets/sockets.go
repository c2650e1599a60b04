// Package sockets is the Socket Manager: it owns every UDP socket the
// daemon holds, opens them non-blocking with SO_REUSEADDR and large
// receive/send buffers, optionally binds them, and performs the raw
// recvfrom/sendto calls the Event Loop and Dispatcher need.
//
// Every syscall here goes through golang.org/x/sys/unix, continuing the
// syscall-level idiom the original multicast-repeater already uses for its
// raw sender (SO_REUSEADDR, SO_BINDTODEVICE) rather than reaching for
// net.ListenUDP, whose blocking, goroutine-scheduled Read/Write would hide
// the single-threaded poll(2) loop the forwarding engine is built around.
package sockets

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Role is a socket's logical direction. It is immutable after creation.
type Role int

const (
	// RoleIngress sockets belong to a Listener and are read from.
	RoleIngress Role = iota
	// RoleEgress sockets belong to a Transmitter and are written to.
	RoleEgress
)

func (r Role) String() string {
	if r == RoleIngress {
		return "ingress"
	}
	return "egress"
}

const (
	// RecvBufferSize is the SO_RCVBUF set on every socket.
	RecvBufferSize = 5 * 1024 * 1024
	// SendBufferSize is the SO_SNDBUF set on egress (transmitter) sockets.
	SendBufferSize = 5 * 1024 * 1024
	// MaxPacketSize is the largest UDP payload recvfrom will return
	// (65535 - 20 bytes IPv4 header - 8 bytes UDP header).
	MaxPacketSize = 65507
)

// Socket is an opened, possibly bound UDP socket.
type Socket struct {
	FD   int
	Role Role
	// RecvBufferBytes/SendBufferBytes are read back from the kernel after
	// setsockopt, since Linux commonly doubles the requested value. The
	// Registry keeps only FD, so these values are not logged.
	RecvBufferBytes int
	SendBufferBytes int
}

// Open creates a non-blocking SOCK_DGRAM socket, sets SO_REUSEADDR and
// SO_RCVBUF, and if address or port is non-zero, binds it. If role is
// RoleEgress, SO_SNDBUF is also set. address and port are host byte order;
// address == 0 means "any interface", port == 0 means "bind any/ephemeral".
//
// If both address and port are 0, the socket is returned unbound.
func Open(role Role, address uint32, port uint16) (Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return Socket{}, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return Socket{}, fmt.Errorf("set non-blocking: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return Socket{}, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, RecvBufferSize); err != nil {
		unix.Close(fd)
		return Socket{}, fmt.Errorf("setsockopt SO_RCVBUF: %w", err)
	}

	sock := Socket{FD: fd, Role: role}
	if rcvbuf, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF); err == nil {
		sock.RecvBufferBytes = rcvbuf
	}

	if role == RoleEgress {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, SendBufferSize); err != nil {
			unix.Close(fd)
			return Socket{}, fmt.Errorf("setsockopt SO_SNDBUF: %w", err)
		}
		if sndbuf, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF); err == nil {
			sock.SendBufferBytes = sndbuf
		}
	}

	if address == 0 && port == 0 {
		return sock, nil
	}

	sa := &unix.SockaddrInet4{Port: int(port)}
	if address != 0 {
		sa.Addr = addressToBytes(address)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return Socket{}, fmt.Errorf("bind %s:%d: %w", FormatAddress(address), port, err)
	}

	return sock, nil
}

// Close closes the socket's file descriptor.
func Close(fd int) error {
	return unix.Close(fd)
}

// RecvFrom receives one datagram into buf, returning the number of bytes
// read and the source address/port in host byte order. It is only called
// once the fd is known to be readable; unix.EAGAIN/EWOULDBLOCK should not
// occur in that case but are returned like any other error if they do.
func RecvFrom(fd int, buf []byte) (n int, srcAddr uint32, srcPort uint16, err error) {
	n, from, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	sa4, ok := from.(*unix.SockaddrInet4)
	if !ok || sa4 == nil {
		return n, 0, 0, fmt.Errorf("recvfrom: unexpected address family")
	}
	return n, bytesToAddress(sa4.Addr), uint16(sa4.Port), nil
}

// SendTo sends payload via fd to (dstAddr, dstPort), both host byte order.
func SendTo(fd int, payload []byte, dstAddr uint32, dstPort uint16) error {
	sa := &unix.SockaddrInet4{Port: int(dstPort), Addr: addressToBytes(dstAddr)}
	return unix.Sendto(fd, payload, 0, sa)
}

func addressToBytes(addr uint32) [4]byte {
	return [4]byte{
		byte(addr >> 24),
		byte(addr >> 16),
		byte(addr >> 8),
		byte(addr),
	}
}

func bytesToAddress(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// FormatAddress renders a host-byte-order IPv4 address as a dotted quad.
func FormatAddress(addr uint32) string {
	b := addressToBytes(addr)
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}
