package transfer

import "io"

// Phase is the lifecycle of one direction of a transfer.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseActive   Phase = "active"
	PhaseComplete Phase = "complete"
)

// TransferState is a snapshot of one direction.
type TransferState struct {
	Phase          Phase
	BytesProcessed int64
	DeclaredTotal  int64
}

// State is a snapshot of both directions of an engine.
type State struct {
	Send    TransferState
	Receive TransferState
}

// Artifact is a completely received file.
type Artifact struct {
	Name     string
	MimeType string
	Data     []byte
}

// Source is a file to send. Exactly Size bytes are read from Reader.
type Source struct {
	Name     string
	MimeType string
	Size     int64
	Reader   io.Reader
}
