package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrTransferBusy    = errors.New("a send is already in progress")
	ErrAlreadyPending  = errors.New("a send is already waiting for the channel")
	ErrChannelClosed   = errors.New("channel closed")
	ErrChannel         = errors.New("channel error")
	ErrRead            = errors.New("read failed")
	ErrNoArtifact      = errors.New("nothing received yet")
	ErrInvalidMetadata = errors.New("invalid metadata frame")
	ErrInvalidSource   = errors.New("invalid source")
)

// TransferError records the operation and file a transfer failure happened in.
type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}
