package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thrillee/epccore/internal/ue"
)

const RecordVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported state record version")

// Record is the envelope written to the blob store on every checkpoint.
type Record struct {
	Version      int         `json:"version"`
	CheckpointID uuid.UUID   `json:"checkpoint_id"`
	InstanceID   uuid.UUID   `json:"instance_id"`
	TakenAt      time.Time   `json:"taken_at"`
	Stats        ue.Stats    `json:"stats"`
	Store        ue.Snapshot `json:"store"`
}

func EncodeRecord(r Record) ([]byte, error) {
	if r.Version == 0 {
		r.Version = RecordVersion
	}
	blob, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode state record: %w", err)
	}
	return blob, nil
}

func DecodeRecord(blob []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(blob, &r); err != nil {
		return Record{}, fmt.Errorf("decode state record: %w", err)
	}
	if r.Version != RecordVersion {
		return Record{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.Version)
	}
	return r, nil
}
