// Package dispatch implements the match-and-fan-out logic that runs once
// per readable socket: receive one datagram, find every map that matches
// it, and send the payload verbatim to each matching target.
package dispatch

import (
	"github.com/UnionPacific/udp-repeater/internal/registry"
	"github.com/UnionPacific/udp-repeater/internal/repeatererr"
	"github.com/UnionPacific/udp-repeater/internal/sockets"
	"github.com/sirupsen/logrus"
)

// Dispatcher receives and forwards datagrams for a single Registry. It
// holds no mutable state of its own; the fixed receive buffer is
// stack-scoped to a single Dispatch call, per spec.md §3.
type Dispatcher struct {
	reg *registry.Registry
	log *logrus.Logger
}

// New returns a Dispatcher over reg, logging diagnostics to log.
func New(reg *registry.Registry, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, log: log}
}

// Dispatch handles one readable fd. If fd belongs to a transmitter (no
// listener role), it receives and discards a single datagram to clear the
// readable condition and returns. Otherwise it receives one datagram,
// matches it against every map in insertion order, and sends it to every
// matching target's transmitter socket. A send failure on one target does
// not abort dispatch to the others.
func (d *Dispatcher) Dispatch(fd int) error {
	listenerID, isListener := d.reg.ListenerIDForFD(fd)

	var buf [sockets.MaxPacketSize]byte
	n, srcAddr, srcPort, err := sockets.RecvFrom(fd, buf[:])
	if err != nil {
		return repeatererr.New(repeatererr.KindRecv, "recvfrom", listenerID, err)
	}

	if !isListener {
		// Transmitter-only socket: drain and ignore, per spec.md §4.5 step 1.
		return nil
	}

	d.log.WithFields(logrus.Fields{
		"listener": listenerID,
		"src":      sockets.FormatAddress(srcAddr),
		"src_port": srcPort,
		"bytes":    n,
	}).Debug("received datagram")

	payload := buf[:n]
	for _, m := range d.reg.Maps() {
		if !m.Matches(listenerID, srcAddr, srcPort) {
			continue
		}
		if err := d.forward(payload, m.TargetID); err != nil {
			d.log.WithFields(logrus.Fields{
				"listener": listenerID,
				"target":   m.TargetID,
				"error":    err,
			}).Error("forward failed")
		}
	}

	return nil
}

// forward looks up the target and its transmitter, then sends payload
// unchanged (same bytes, same length) to the target's destination.
func (d *Dispatcher) forward(payload []byte, targetID int) error {
	target, ok := d.reg.FindTarget(targetID)
	if !ok {
		return repeatererr.New(repeatererr.KindSend, "find_target", targetID,
			errNotFound("target"))
	}

	transmitter, ok := d.reg.FindTransmitter(target.TransmitterID)
	if !ok {
		return repeatererr.New(repeatererr.KindSend, "find_transmitter", target.TransmitterID,
			errNotFound("transmitter"))
	}

	if err := sockets.SendTo(transmitter.FD, payload, target.Address, target.Port); err != nil {
		return repeatererr.New(repeatererr.KindSend, "sendto", target.ID, err)
	}

	d.log.WithFields(logrus.Fields{
		"target":      target.ID,
		"transmitter": transmitter.ID,
		"dst":         sockets.FormatAddress(target.Address),
		"dst_port":    target.Port,
		"bytes":       len(payload),
	}).Debug("sent datagram")

	return nil
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) + " not found" }

func errNotFound(what string) error { return notFoundError(what) }
