package serialize

import (
	"bytes"
	"encoding/gob"

	"github.com/gofrs/uuid"
	"github.com/pierrec/lz4"
)

// TaskPayload is the stage-attempt closure shipped to every task of
// the attempt: enough of the stage's identity for an executor, which
// shares the driver binary, to resolve the operators to run.
type TaskPayload struct {
	DatasetID     int
	DatasetName   string
	NumPartitions int
	// ShuffleID is -1 for result stages
	ShuffleID           int
	NumReducePartitions int
}

// Broadcast is an immutable serialized value identified cluster-wide
// by a uuid. One Broadcast is created per stage attempt.
type Broadcast struct {
	id   string
	data []byte
}

// ID returns the cluster-wide id of this Broadcast
func (b *Broadcast) ID() string {
	return b.id
}

// Data returns the serialized bytes of this Broadcast
func (b *Broadcast) Data() []byte {
	return b.data
}

// ClosureSerializer encodes task closures for broadcast, compressing
// with lz4.
type ClosureSerializer struct{}

// NewClosureSerializer instantiates a new ClosureSerializer
func NewClosureSerializer() *ClosureSerializer {
	return &ClosureSerializer{}
}

// Broadcast serializes a TaskPayload once and wraps it for shipping
func (s *ClosureSerializer) Broadcast(payload *TaskPayload) (*Broadcast, error) {
	var buff bytes.Buffer
	compressor := lz4.NewWriter(&buff)
	if err := gob.NewEncoder(compressor).Encode(payload); err != nil {
		return nil, err
	}
	if err := compressor.Close(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &Broadcast{id: id.String(), data: buff.Bytes()}, nil
}

// Read decompresses and decodes a broadcast closure
func (s *ClosureSerializer) Read(b *Broadcast) (*TaskPayload, error) {
	decompressor := lz4.NewReader(bytes.NewReader(b.Data()))
	payload := new(TaskPayload)
	if err := gob.NewDecoder(decompressor).Decode(payload); err != nil {
		return nil, err
	}
	return payload, nil
}
