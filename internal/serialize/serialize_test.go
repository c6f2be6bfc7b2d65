package serialize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcastRoundTrip(t *testing.T) {
	s := NewClosureSerializer()
	payload := &TaskPayload{
		DatasetID:           12,
		DatasetName:         "ds12",
		NumPartitions:       64,
		ShuffleID:           3,
		NumReducePartitions: 8,
	}
	bc, err := s.Broadcast(payload)
	require.NoError(t, err)
	require.NotEmpty(t, bc.ID())
	require.NotEmpty(t, bc.Data())

	decoded, err := s.Read(bc)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestBroadcastIDsAreUnique(t *testing.T) {
	s := NewClosureSerializer()
	a, err := s.Broadcast(&TaskPayload{ShuffleID: -1})
	require.NoError(t, err)
	b, err := s.Broadcast(&TaskPayload{ShuffleID: -1})
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())
}
