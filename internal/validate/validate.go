// Package validate performs the single-shot cross-reference check that runs
// after configuration and before the Event Loop starts.
package validate

import (
	"fmt"

	"github.com/UnionPacific/udp-repeater/internal/registry"
	"github.com/UnionPacific/udp-repeater/internal/repeatererr"
)

// Validate checks a Registry for every violation listed in spec.md §4.3:
//
//  1. every map's target id must exist
//  2. every target's transmitter id must exist, and the target must be used
//     by at least one map
//  3. every transmitter must be used by at least one target
//
// All checks run regardless of earlier failures, so the caller sees every
// violation at once, matching "all checks are performed before returning".
// Validate is idempotent: running it twice over the same Registry yields
// the same result, since it only reads the Registry.
func Validate(r *registry.Registry) []error {
	var errs []error

	usedTargets := make(map[int]bool)
	for _, m := range r.Maps() {
		if _, ok := r.FindTarget(m.TargetID); !ok {
			errs = append(errs, repeatererr.New(repeatererr.KindValidation, "map->target", m.TargetID,
				fmt.Errorf("target %d referenced in map but not defined", m.TargetID)))
			continue
		}
		usedTargets[m.TargetID] = true
	}

	usedTransmitters := make(map[int]bool)
	for _, t := range r.Targets() {
		usedTransmitters[t.TransmitterID] = true
		if _, ok := r.FindTransmitter(t.TransmitterID); !ok {
			errs = append(errs, repeatererr.New(repeatererr.KindValidation, "target->transmitter", t.TransmitterID,
				fmt.Errorf("transmitter %d referenced in target but not defined", t.TransmitterID)))
		}
		if !usedTargets[t.ID] {
			errs = append(errs, repeatererr.New(repeatererr.KindValidation, "target", t.ID,
				fmt.Errorf("target %d defined, but not used in any maps", t.ID)))
		}
	}

	for _, tx := range r.Transmitters() {
		if !usedTransmitters[tx.ID] {
			errs = append(errs, repeatererr.New(repeatererr.KindValidation, "transmitter", tx.ID,
				fmt.Errorf("transmitter %d defined, but not used in any targets", tx.ID)))
		}
	}

	return errs
}
