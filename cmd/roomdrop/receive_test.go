package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/roomdrop/internal/session"
	"github.com/BioHazard786/roomdrop/internal/transfer"
)

func TestParseRoomInput(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "kitten-waffle-stardust-happy", want: "kitten-waffle-stardust-happy"},
		{in: "  padded-room  ", want: "padded-room"},
		{in: "https://roomdrop.qzz.io/r/kitten-waffle-stardust-happy", want: "kitten-waffle-stardust-happy"},
		{in: "https://roomdrop.qzz.io/r/abc/", want: "abc"},
		{in: "roomdrop.qzz.io/r/abc", want: "abc"},
		{in: "https://roomdrop.qzz.io/", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRoomInput(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListenerWaitConnected(t *testing.T) {
	l := newListener()
	done := make(chan struct{})

	l.ConnectionState(session.StateConnecting)
	l.ConnectionState(session.StateConnected)
	require.NoError(t, l.waitConnected(context.Background(), done))

	l.ConnectionState(session.StateDisconnected)
	assert.ErrorIs(t, l.waitConnected(context.Background(), done), errConnectionLost)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.waitConnected(ctx, done), context.DeadlineExceeded)

	close(done)
	assert.ErrorIs(t, l.waitConnected(context.Background(), done), session.ErrClosed)
}

func TestListenerConsumesOnReceive(t *testing.T) {
	l := newListener()
	defer close(l.done)

	calls := 0
	l.consume = func() (transfer.Artifact, error) {
		calls++
		return transfer.Artifact{Name: "a.txt", Data: []byte("hi")}, nil
	}

	l.Received(transfer.Metadata{Name: "a.txt", Size: 2})
	assert.Equal(t, 1, calls)

	select {
	case a := <-l.artifacts:
		assert.Equal(t, "a.txt", a.Name)
	default:
		t.Fatal("artifact not forwarded")
	}

	// Progress without a view is a no-op.
	l.Progress(50)
	l.Sent()
}
