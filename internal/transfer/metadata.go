package transfer

import (
	"encoding/json"
	"fmt"
	"math"
)

// Metadata is the text control frame that precedes a file's binary chunks.
// Chunks is advisory; the receiver completes on byte count alone.
type Metadata struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Size     int64  `json:"size"`
	Chunks   int64  `json:"chunks"`
}

// ChunkCount returns ceil(size/chunkSize).
func ChunkCount(size int64, chunkSize int) int64 {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	c := int64(chunkSize)
	return (size + c - 1) / c
}

func encodeMetadata(m Metadata) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if m.Size < 0 {
		return Metadata{}, fmt.Errorf("%w: negative size %d", ErrInvalidMetadata, m.Size)
	}
	return m, nil
}

// Percent maps done/total onto [0, 100], rounding to the nearest integer.
// An empty total counts as complete.
func Percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	if done <= 0 {
		return 0
	}
	p := int(math.Round(float64(done) * 100 / float64(total)))
	return min(p, 100)
}
