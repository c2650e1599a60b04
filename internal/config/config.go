// Package config implements the JSON configuration parser described in
// spec.md §6. It is the reference implementation of the "concrete
// configuration file format parser" that spec.md §1 treats as an external
// collaborator: it only ever produces a sequence of create_* calls against
// internal/core.Core, and never reaches into the Registry, Validator, or
// Event Loop directly.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/UnionPacific/udp-repeater/internal/core"
	"github.com/UnionPacific/udp-repeater/internal/repeatererr"
)

// Document is the decoded form of the rules file, before its create_*
// calls have been applied to a Core.
type Document struct {
	Listen   []Listen      `json:"listen"`
	Transmit []Transmit    `json:"transmit"`
	Target   []TargetEntry `json:"target"`
	Map      []MapEntry    `json:"map"`
}

// Listen is one entry of the "listen" array.
type Listen struct {
	ID      int
	Address uint32
	Port    uint16
}

// Transmit is one entry of the "transmit" array.
type Transmit struct {
	ID      int
	Address uint32
	Port    uint16
}

// TargetEntry is one entry of the "target" array.
type TargetEntry struct {
	ID            int
	Address       uint32
	Port          uint16
	TransmitterID int
}

// MapEntry is one entry of the "map" array, already expanded: the raw JSON
// "target" field is an array of ids, and Load produces one MapEntry per id,
// sharing the other fields, per spec.md §6's expansion rule.
type MapEntry struct {
	ListenerID int
	Address    uint32
	Port       uint16
	TargetID   int
}

// rawListen/rawTransmit/etc mirror the literal JSON field names. encoding/json
// matches a key against the whole tag name, so there are no prefix matches
// ("identifier" does not match "id"); its matching ignores case, so "ID" or
// "Id" is accepted as "id".
type rawListen struct {
	ID      *int    `json:"id"`
	Address *string `json:"address"`
	Port    *string `json:"port"`
}

type rawTransmit struct {
	ID      *int    `json:"id"`
	Address *string `json:"address"`
	Port    *string `json:"port"`
}

type rawTarget struct {
	ID          *int    `json:"id"`
	Address     *string `json:"address"`
	Port        *string `json:"port"`
	Transmitter *int    `json:"transmitter"`
}

type rawMap struct {
	Source  *int    `json:"source"`
	Target  []int   `json:"target"`
	Address *string `json:"address"`
	Port    *string `json:"port"`
}

type rawDocument struct {
	Listen   []rawListen   `json:"listen"`
	Transmit []rawTransmit `json:"transmit"`
	Target   []rawTarget   `json:"target"`
	Map      []rawMap      `json:"map"`
}

// Load reads and decodes the rules file at path, returning a fully
// validated Document ready to Apply to a Core.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, repeatererr.New(repeatererr.KindConfiguration, "read_config", 0, err)
	}
	return Parse(data)
}

// Parse decodes raw JSON bytes into a Document, enforcing every field
// contract in spec.md §6's schema table.
func Parse(data []byte) (*Document, error) {
	// Unrecognized top-level keys are tolerated (the original parser only
	// warns about them, per spec.md §6), so this is a plain Unmarshal
	// rather than DisallowUnknownFields.
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, repeatererr.New(repeatererr.KindConfiguration, "parse_config", 0, err)
	}

	if len(raw.Listen) == 0 {
		return nil, repeatererr.New(repeatererr.KindConfiguration, "parse_config", 0, fmt.Errorf("listen config not found"))
	}
	if len(raw.Transmit) == 0 {
		return nil, repeatererr.New(repeatererr.KindConfiguration, "parse_config", 0, fmt.Errorf("transmit config not found"))
	}
	if len(raw.Target) == 0 {
		return nil, repeatererr.New(repeatererr.KindConfiguration, "parse_config", 0, fmt.Errorf("target config not found"))
	}
	if len(raw.Map) == 0 {
		return nil, repeatererr.New(repeatererr.KindConfiguration, "parse_config", 0, fmt.Errorf("map config not found"))
	}

	doc := &Document{}

	for _, rl := range raw.Listen {
		l, err := decodeListen(rl)
		if err != nil {
			return nil, err
		}
		doc.Listen = append(doc.Listen, l)
	}

	for _, rt := range raw.Transmit {
		t, err := decodeTransmit(rt)
		if err != nil {
			return nil, err
		}
		doc.Transmit = append(doc.Transmit, t)
	}

	for _, rt := range raw.Target {
		t, err := decodeTarget(rt)
		if err != nil {
			return nil, err
		}
		doc.Target = append(doc.Target, t)
	}

	for _, rm := range raw.Map {
		entries, err := decodeMap(rm)
		if err != nil {
			return nil, err
		}
		doc.Map = append(doc.Map, entries...)
	}

	return doc, nil
}

func decodeListen(rl rawListen) (Listen, error) {
	if rl.ID == nil {
		return Listen{}, fieldErr("listen->id not found")
	}
	if rl.Address == nil {
		return Listen{}, fieldErr("listen->address not found")
	}
	if rl.Port == nil {
		return Listen{}, fieldErr("listen->port not found")
	}
	addr, err := parseAddress(*rl.Address, false)
	if err != nil {
		return Listen{}, fieldErr("listen->address is not a valid IPv4 address")
	}
	port, err := parsePort(*rl.Port, false)
	if err != nil {
		return Listen{}, err
	}
	return Listen{ID: *rl.ID, Address: addr, Port: port}, nil
}

func decodeTransmit(rt rawTransmit) (Transmit, error) {
	if rt.ID == nil {
		return Transmit{}, fieldErr("transmit->id not found")
	}
	if rt.Address == nil {
		return Transmit{}, fieldErr("transmit->address not found")
	}
	if rt.Port == nil {
		return Transmit{}, fieldErr("transmit->port not found")
	}
	addr, err := parseAddress(*rt.Address, false)
	if err != nil {
		return Transmit{}, fieldErr("transmit->address is not a valid IPv4 address")
	}
	port, err := parsePort(*rt.Port, true)
	if err != nil {
		return Transmit{}, err
	}
	return Transmit{ID: *rt.ID, Address: addr, Port: port}, nil
}

func decodeTarget(rt rawTarget) (TargetEntry, error) {
	if rt.ID == nil {
		return TargetEntry{}, fieldErr("target->id not found")
	}
	if rt.Address == nil {
		return TargetEntry{}, fieldErr("target->address not found")
	}
	if rt.Port == nil {
		return TargetEntry{}, fieldErr("target->port not found")
	}
	if rt.Transmitter == nil {
		return TargetEntry{}, fieldErr("target->transmitter not found")
	}
	addr, err := parseAddress(*rt.Address, true)
	if err != nil {
		return TargetEntry{}, fieldErr("target->address is not a valid IPv4 address")
	}
	port, err := parsePort(*rt.Port, false)
	if err != nil {
		return TargetEntry{}, err
	}
	return TargetEntry{ID: *rt.ID, Address: addr, Port: port, TransmitterID: *rt.Transmitter}, nil
}

func decodeMap(rm rawMap) ([]MapEntry, error) {
	if rm.Source == nil {
		return nil, fieldErr("map->source not found")
	}
	if rm.Target == nil {
		return nil, fieldErr("map->target not found")
	}
	if rm.Address == nil {
		return nil, fieldErr("map->address not found")
	}
	if rm.Port == nil {
		return nil, fieldErr("map->port not found")
	}
	addr, err := parseAddress(*rm.Address, false)
	if err != nil {
		return nil, fieldErr("map->address is not a valid IPv4 address")
	}
	port, err := parsePort(*rm.Port, true)
	if err != nil {
		return nil, err
	}

	entries := make([]MapEntry, 0, len(rm.Target))
	for _, targetID := range rm.Target {
		entries = append(entries, MapEntry{
			ListenerID: *rm.Source,
			Address:    addr,
			Port:       port,
			TargetID:   targetID,
		})
	}
	return entries, nil
}

// parseAddress accepts "*" (meaning 0, wildcard/any) unless forbidWildcard is
// true, or an IPv4 dotted-quad literal, returned in host byte order.
func parseAddress(s string, forbidWildcard bool) (uint32, error) {
	if s == "*" {
		if forbidWildcard {
			return 0, fmt.Errorf("address must not be wildcard")
		}
		return 0, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("not an IPv4 address %q", s)
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3]), nil
}

// parsePort accepts a decimal string in (1024, 65536), or "*" (meaning 0)
// if wildcardOK is true.
func parsePort(s string, wildcardOK bool) (uint16, error) {
	if s == "*" {
		if wildcardOK {
			return 0, nil
		}
		return 0, fieldErr("port must not be wildcard")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fieldErr(fmt.Sprintf("port %q is not a valid integer", s))
	}
	if n <= 1024 || n > 65535 {
		return 0, fieldErr(fmt.Sprintf("%d is an invalid port, must be 1025-65535", n))
	}
	return uint16(n), nil
}

func fieldErr(msg string) error {
	return repeatererr.New(repeatererr.KindConfiguration, "parse_config", 0, fmt.Errorf("%s", msg))
}

// Apply issues the create_listener / create_transmitter / create_target /
// create_map calls in the document's natural order (listen, transmit,
// target, map), matching the order the original parser processes its JSON
// object's keys in.
func Apply(doc *Document, c *core.Core) error {
	for _, l := range doc.Listen {
		if err := c.CreateListener(l.ID, l.Address, l.Port); err != nil {
			return err
		}
	}
	for _, t := range doc.Transmit {
		if err := c.CreateTransmitter(t.ID, t.Address, t.Port); err != nil {
			return err
		}
	}
	for _, t := range doc.Target {
		if err := c.CreateTarget(t.ID, t.Address, t.Port, t.TransmitterID); err != nil {
			return err
		}
	}
	for _, m := range doc.Map {
		c.CreateMap(m.ListenerID, m.Address, m.Port, m.TargetID)
	}
	return nil
}
