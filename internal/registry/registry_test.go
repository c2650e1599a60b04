package registry

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var testPortCounter atomic.Uint32

func TestCreateListenerRejectsBadInput(t *testing.T) {
	r := New()

	_, err := r.CreateListener(0, 0, 9000)
	require.Error(t, err, "id must be positive")

	_, err = r.CreateListener(1, 0, 0)
	require.Error(t, err, "port must be non-zero")
}

func TestCreateListenerOpensRealSocket(t *testing.T) {
	r := New()

	l, err := r.CreateListener(1, 0, ephemeralLoopbackPort(t))
	require.NoError(t, err)
	require.Equal(t, 1, l.ID)
	require.NotZero(t, l.FD)

	id, ok := r.ListenerIDForFD(l.FD)
	require.True(t, ok)
	require.Equal(t, 1, id)
}

func TestCreateListenerRejectsDuplicateID(t *testing.T) {
	r := New()
	_, err := r.CreateListener(1, 0, ephemeralLoopbackPort(t))
	require.NoError(t, err)

	_, err = r.CreateListener(1, 0, ephemeralLoopbackPort(t))
	require.Error(t, err)
}

func TestCreateTransmitterAllowsFullyWildcardBind(t *testing.T) {
	r := New()
	tx, err := r.CreateTransmitter(1, 0, 0)
	require.NoError(t, err)
	require.NotZero(t, tx.FD)

	// A transmitter's fd must never resolve as a listener id.
	_, ok := r.ListenerIDForFD(tx.FD)
	require.False(t, ok)
}

func TestCreateTargetValidation(t *testing.T) {
	r := New()

	_, err := r.CreateTarget(1, 0, 9000, 1)
	require.Error(t, err, "address must be non-zero")

	_, err = r.CreateTarget(1, 0x7F000001, 0, 1)
	require.Error(t, err, "port must be non-zero")

	_, err = r.CreateTarget(1, 0x7F000001, 9000, 0)
	require.Error(t, err, "transmitter id must be positive")

	target, err := r.CreateTarget(1, 0x7F000001, 9000, 5)
	require.NoError(t, err)
	require.Equal(t, uint32(0x7F000001), target.Address)
}

func TestCreateMapPreservesInsertionOrderAndDuplicates(t *testing.T) {
	r := New()
	r.CreateMap(1, 0, 0, 1)
	r.CreateMap(1, 0, 0, 1) // duplicate map, observable fan-out
	r.CreateMap(1, 0x7F000001, 4000, 2)

	maps := r.Maps()
	require.Len(t, maps, 3)
	require.Equal(t, 1, maps[0].TargetID)
	require.Equal(t, 1, maps[1].TargetID)
	require.Equal(t, 2, maps[2].TargetID)
}

func TestMapMatchesWildcardsAndExactValues(t *testing.T) {
	wildcard := Map{ListenerID: 1, SrcAddress: 0, SrcPort: 0, TargetID: 1}
	require.True(t, wildcard.Matches(1, 0x01020304, 4000))
	require.False(t, wildcard.Matches(2, 0x01020304, 4000))

	exact := Map{ListenerID: 1, SrcAddress: 0x01020304, SrcPort: 4000, TargetID: 1}
	require.True(t, exact.Matches(1, 0x01020304, 4000))
	require.False(t, exact.Matches(1, 0x01020304, 4001))
	require.False(t, exact.Matches(1, 0x01020305, 4000))
}

// ephemeralLoopbackPort returns a distinct port >1024 for each call, since
// tests exercise real bound sockets rather than mocks and must not collide.
func ephemeralLoopbackPort(t *testing.T) uint16 {
	t.Helper()
	return uint16(21000 + testPortCounter.Add(1))
}
