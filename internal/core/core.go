// Package core is the Bootstrap facade: it drives create_listener /
// create_transmitter / create_target / create_map calls from whatever
// collaborator supplies them (internal/config, or a test), runs the
// Validator, and then enters the Event Loop.
//
// Core is the single owning context the DESIGN NOTES ask for in place of
// process-wide mutable globals: there is exactly one logical instance per
// process, but it is constructed and passed around explicitly rather than
// living as package-level state.
package core

import (
	"context"
	"fmt"

	"github.com/UnionPacific/udp-repeater/internal/dispatch"
	"github.com/UnionPacific/udp-repeater/internal/eventloop"
	"github.com/UnionPacific/udp-repeater/internal/registry"
	"github.com/UnionPacific/udp-repeater/internal/sockets"
	"github.com/UnionPacific/udp-repeater/internal/validate"
	"github.com/sirupsen/logrus"
)

// Core owns a Registry and the logger used throughout setup and the event
// loop.
type Core struct {
	reg *registry.Registry
	log *logrus.Logger
}

// New returns a Core with an empty Registry.
func New(log *logrus.Logger) *Core {
	if log == nil {
		log = logrus.New()
	}
	return &Core{reg: registry.New(), log: log}
}

// CreateListener opens an ingress socket and registers listener id.
func (c *Core) CreateListener(id int, address uint32, port uint16) error {
	l, err := c.reg.CreateListener(id, address, port)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"listener": l.ID, "address": sockets.FormatAddress(l.Address), "port": l.Port, "fd": l.FD,
	}).Info("listener created")
	return nil
}

// CreateTransmitter opens an egress socket and registers transmitter id.
func (c *Core) CreateTransmitter(id int, address uint32, port uint16) error {
	t, err := c.reg.CreateTransmitter(id, address, port)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"transmitter": t.ID, "address": sockets.FormatAddress(t.Address), "port": t.Port, "fd": t.FD,
	}).Info("transmitter created")
	return nil
}

// CreateTarget registers a destination record.
func (c *Core) CreateTarget(id int, address uint32, port uint16, transmitterID int) error {
	t, err := c.reg.CreateTarget(id, address, port, transmitterID)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"target": t.ID, "address": sockets.FormatAddress(t.Address), "port": t.Port, "transmitter": t.TransmitterID,
	}).Info("target created")
	return nil
}

// CreateMap appends a matching rule. listener_id and target_id are not
// cross-checked here; Validate does that before the event loop starts.
func (c *Core) CreateMap(listenerID int, srcAddress uint32, srcPort uint16, targetID int) {
	c.reg.CreateMap(listenerID, srcAddress, srcPort, targetID)
	c.log.WithFields(logrus.Fields{
		"listener": listenerID, "src": sockets.FormatAddress(srcAddress), "src_port": srcPort, "target": targetID,
	}).Info("map created")
}

// Validate runs the cross-reference checks and logs every violation found.
// It returns the same errors it logs, so callers can decide how to react.
func (c *Core) Validate() []error {
	errs := validate.Validate(c.reg)
	for _, err := range errs {
		c.log.WithError(err).Error("configuration validation failed")
	}
	return errs
}

// DumpConfiguration logs every transmitter, target, and map at Debug
// level, mirroring the original repeater's DEBUG-build startup dump
// (print_transmitters/print_targets/print_maps).
func (c *Core) DumpConfiguration() {
	for _, t := range c.reg.Transmitters() {
		c.log.WithFields(logrus.Fields{"id": t.ID, "fd": t.FD}).Debug("transmitter")
	}
	for _, t := range c.reg.Targets() {
		c.log.WithFields(logrus.Fields{
			"id": t.ID, "address": sockets.FormatAddress(t.Address), "port": t.Port, "transmitter": t.TransmitterID,
		}).Debug("target")
	}
	for i, m := range c.reg.Maps() {
		c.log.WithFields(logrus.Fields{
			"index": i + 1, "listener": m.ListenerID, "address": sockets.FormatAddress(m.SrcAddress),
			"port": m.SrcPort, "target": m.TargetID,
		}).Debug("map")
	}
}

// Run builds the Dispatcher and Event Loop from the current Registry state
// and blocks servicing datagrams until ctx is canceled or a fatal error
// occurs. Cancellation is seen only when the loop's blocking poll next
// returns (see eventloop.Loop.Run). Callers must call Validate first and
// confirm it returned no errors; Run does not re-validate.
func (c *Core) Run(ctx context.Context, cfg eventloop.Config) error {
	listenerFDs := make([]int, 0)
	egressFDs := make([]int, 0)
	for _, l := range c.reg.Listeners() {
		listenerFDs = append(listenerFDs, l.FD)
	}
	for _, t := range c.reg.Transmitters() {
		egressFDs = append(egressFDs, t.FD)
	}
	if len(listenerFDs) == 0 {
		return fmt.Errorf("no listeners configured")
	}

	d := dispatch.New(c.reg, c.log)
	loop := eventloop.New(d, c.log, cfg, listenerFDs, egressFDs)
	c.log.Info("repeater started")
	return loop.Run(ctx)
}

// Close closes every socket fd the Registry owns. daemon.Start calls it when
// validation fails, before handing off to a detached child, and when a
// foreground Run returns.
func (c *Core) Close() {
	for _, fd := range c.reg.AllFDs() {
		sockets.Close(fd)
	}
}

// Registry exposes the underlying Registry for read-only inspection (e.g.
// by tests that want to assert on Maps()/Targets()).
func (c *Core) Registry() *registry.Registry {
	return c.reg
}
