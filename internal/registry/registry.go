package registry

import (
	"fmt"

	"github.com/UnionPacific/udp-repeater/internal/repeatererr"
	"github.com/UnionPacific/udp-repeater/internal/sockets"
)

// Registry is the in-memory catalog of listeners, transmitters, targets,
// and maps. It exclusively owns these records; internal/sockets exclusively
// owns the underlying socket handles, which the Registry only references by
// file descriptor value.
//
// A Registry is built up by the create_* calls during configuration, then
// treated as immutable for the remainder of the process lifetime. It is not
// safe for concurrent mutation, but that is fine: the Event Loop is
// strictly single-threaded and never mutates the Registry.
type Registry struct {
	listeners    map[int]*Listener
	transmitters map[int]*Transmitter
	targets      map[int]*Target
	maps         []Map

	// fdListener maps an ingress socket's fd to its listener id. Looked up
	// once per readable fd by the Dispatcher, so it is a plain map
	// keyed by fd rather than an array indexed by fd (file descriptors from
	// the OS are not bounded by a small constant).
	fdListener map[int]int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		listeners:    make(map[int]*Listener),
		transmitters: make(map[int]*Transmitter),
		targets:      make(map[int]*Target),
		fdListener:   make(map[int]int),
	}
}

// CreateListener validates id and port, opens an ingress socket bound to
// (address, port) via internal/sockets, and records the fd's listener id.
func (r *Registry) CreateListener(id int, address uint32, port uint16) (Listener, error) {
	if id <= 0 {
		return Listener{}, repeatererr.New(repeatererr.KindConfiguration, "create_listener", id,
			fmt.Errorf("listener id must be positive"))
	}
	if port == 0 {
		return Listener{}, repeatererr.New(repeatererr.KindConfiguration, "create_listener", id,
			fmt.Errorf("listener must have a port defined"))
	}
	if _, exists := r.listeners[id]; exists {
		return Listener{}, repeatererr.New(repeatererr.KindConfiguration, "create_listener", id,
			fmt.Errorf("duplicate listener id"))
	}

	sock, err := sockets.Open(sockets.RoleIngress, address, port)
	if err != nil {
		return Listener{}, repeatererr.New(repeatererr.KindSocket, "create_listener", id, err)
	}

	l := &Listener{ID: id, Address: address, Port: port, FD: sock.FD}
	r.listeners[id] = l
	r.fdListener[sock.FD] = id
	return *l, nil
}

// CreateTransmitter validates id, opens an egress socket bound to
// (address, port) (either may be 0), and records transmitter id -> fd.
func (r *Registry) CreateTransmitter(id int, address uint32, port uint16) (Transmitter, error) {
	if id <= 0 {
		return Transmitter{}, repeatererr.New(repeatererr.KindConfiguration, "create_transmitter", id,
			fmt.Errorf("transmitter id must be positive"))
	}
	if _, exists := r.transmitters[id]; exists {
		return Transmitter{}, repeatererr.New(repeatererr.KindConfiguration, "create_transmitter", id,
			fmt.Errorf("duplicate transmitter id"))
	}

	sock, err := sockets.Open(sockets.RoleEgress, address, port)
	if err != nil {
		return Transmitter{}, repeatererr.New(repeatererr.KindSocket, "create_transmitter", id, err)
	}

	t := &Transmitter{ID: id, Address: address, Port: port, FD: sock.FD}
	r.transmitters[id] = t
	return *t, nil
}

// CreateTarget validates id, address, port, and transmitter_id, then stores
// the record. It does not check that transmitter_id resolves to a defined
// transmitter; that cross-reference check belongs to internal/validate.
func (r *Registry) CreateTarget(id int, address uint32, port uint16, transmitterID int) (Target, error) {
	if id <= 0 {
		return Target{}, repeatererr.New(repeatererr.KindConfiguration, "create_target", id,
			fmt.Errorf("target id must be positive"))
	}
	if address == 0 {
		return Target{}, repeatererr.New(repeatererr.KindConfiguration, "create_target", id,
			fmt.Errorf("target must have an address defined"))
	}
	if port == 0 {
		return Target{}, repeatererr.New(repeatererr.KindConfiguration, "create_target", id,
			fmt.Errorf("target must have a port defined"))
	}
	if transmitterID <= 0 {
		return Target{}, repeatererr.New(repeatererr.KindConfiguration, "create_target", id,
			fmt.Errorf("target must have a transmitter defined"))
	}
	if _, exists := r.targets[id]; exists {
		return Target{}, repeatererr.New(repeatererr.KindConfiguration, "create_target", id,
			fmt.Errorf("duplicate target id"))
	}

	t := &Target{ID: id, Address: address, Port: port, TransmitterID: transmitterID}
	r.targets[id] = t
	return *t, nil
}

// CreateMap appends a matching rule to the ordered map list. There is no
// duplicate detection: identical maps produce duplicate forwards, and
// matching semantics depend on insertion order being preserved.
func (r *Registry) CreateMap(listenerID int, srcAddress uint32, srcPort uint16, targetID int) Map {
	m := Map{ListenerID: listenerID, SrcAddress: srcAddress, SrcPort: srcPort, TargetID: targetID}
	r.maps = append(r.maps, m)
	return m
}

// FindTransmitter looks up a transmitter by id in amortized O(1).
func (r *Registry) FindTransmitter(id int) (Transmitter, bool) {
	t, ok := r.transmitters[id]
	if !ok {
		return Transmitter{}, false
	}
	return *t, true
}

// FindTarget looks up a target by id in amortized O(1).
func (r *Registry) FindTarget(id int) (Target, bool) {
	t, ok := r.targets[id]
	if !ok {
		return Target{}, false
	}
	return *t, true
}

// FindListener looks up a listener by id in amortized O(1).
func (r *Registry) FindListener(id int) (Listener, bool) {
	l, ok := r.listeners[id]
	if !ok {
		return Listener{}, false
	}
	return *l, true
}

// ListenerIDForFD returns the listener id owning fd, and false if fd
// belongs to a transmitter (or no known socket at all).
func (r *Registry) ListenerIDForFD(fd int) (int, bool) {
	id, ok := r.fdListener[fd]
	return id, ok
}

// Maps returns the maps in insertion order. Callers must not mutate the
// returned slice's backing array.
func (r *Registry) Maps() []Map {
	return r.maps
}

// Targets returns every defined target, in unspecified order.
func (r *Registry) Targets() []Target {
	out := make([]Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, *t)
	}
	return out
}

// Transmitters returns every defined transmitter, in unspecified order.
func (r *Registry) Transmitters() []Transmitter {
	out := make([]Transmitter, 0, len(r.transmitters))
	for _, t := range r.transmitters {
		out = append(out, *t)
	}
	return out
}

// Listeners returns every defined listener, in unspecified order.
func (r *Registry) Listeners() []Listener {
	out := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, *l)
	}
	return out
}

// AllFDs returns every socket fd the Registry knows about (listeners and
// transmitters both), for the Event Loop / Socket Manager to register with
// the poller or close on shutdown.
func (r *Registry) AllFDs() []int {
	out := make([]int, 0, len(r.listeners)+len(r.transmitters))
	for _, l := range r.listeners {
		out = append(out, l.FD)
	}
	for _, t := range r.transmitters {
		out = append(out, t.FD)
	}
	return out
}
