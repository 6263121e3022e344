package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type frame struct {
	text bool
	data []byte
}

// fakeChannel records frames. With track set, binary frames count against
// the buffer until drainEvery empties it; otherwise the buffer stays empty
// unless stuck is set.
type fakeChannel struct {
	mu        sync.Mutex
	open      bool
	frames    []frame
	buffered  uint64
	track     bool
	stuck     bool
	maxAtSend uint64
	waits     int
	deliver   func(text bool, data []byte)
	sendErr   error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{open: true}
}

func (c *fakeChannel) SendText(s string) error {
	return c.push(true, []byte(s))
}

func (c *fakeChannel) Send(data []byte) error {
	return c.push(false, data)
}

func (c *fakeChannel) push(text bool, data []byte) error {
	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	if !text {
		c.maxAtSend = max(c.maxAtSend, c.buffered)
		if c.track {
			c.buffered += uint64(len(data))
		}
	}
	c.frames = append(c.frames, frame{text: text, data: append([]byte(nil), data...)})
	deliver := c.deliver
	c.mu.Unlock()

	if deliver != nil {
		deliver(text, data)
	}
	return nil
}

func (c *fakeChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stuck {
		return 1 << 40
	}
	if c.buffered > 0 {
		c.waits++
	}
	return c.buffered
}

// drainEvery removes n buffered bytes per tick until the test ends.
func (c *fakeChannel) drainEvery(t *testing.T, interval time.Duration, n uint64) {
	t.Helper()
	c.mu.Lock()
	c.track = true
	c.mu.Unlock()

	stop := make(chan struct{})
	done := make(chan struct{})
	t.Cleanup(func() {
		close(stop)
		<-done
	})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				c.buffered -= min(c.buffered, n)
				c.mu.Unlock()
			}
		}
	}()
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) snapshot() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

type recorder struct {
	mu       sync.Mutex
	events   []string
	progress []int
	received []Metadata
	sent     int
}

func (r *recorder) Progress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("progress:%d", p))
	r.progress = append(r.progress, p)
}

func (r *recorder) Received(m Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "received")
	r.received = append(r.received, m)
}

func (r *recorder) Sent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "sent")
	r.sent++
}

func (r *recorder) snapshot() ([]string, []int, []Metadata, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...),
		append([]int(nil), r.progress...),
		append([]Metadata(nil), r.received...),
		r.sent
}

func newTestEngine(t *testing.T, chunk int, obs Observer) *Engine {
	t.Helper()
	return NewEngine(Options{
		ChunkSize:     chunk,
		HighWaterMark: DefaultHighWaterMark,
		PollInterval:  time.Millisecond,
		Observer:      obs,
		Logger:        zap.NewNop(),
	})
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func source(name string, data []byte) Source {
	return Source{Name: name, MimeType: "application/octet-stream", Size: int64(len(data)), Reader: bytes.NewReader(data)}
}

func TestSendFramesFile(t *testing.T) {
	ch := newFakeChannel()
	e := newTestEngine(t, 65536, nil)
	e.Open(ch)

	data := randomBytes(t, 200000)
	require.NoError(t, e.Send(context.Background(), source("report.pdf", data)))

	frames := ch.snapshot()
	require.Len(t, frames, 5)
	require.True(t, frames[0].text)

	var meta Metadata
	require.NoError(t, json.Unmarshal(frames[0].data, &meta))
	assert.Equal(t, Metadata{Name: "report.pdf", MimeType: "application/octet-stream", Size: 200000, Chunks: 4}, meta)

	var got []byte
	var sizes []int
	for _, f := range frames[1:] {
		assert.False(t, f.text)
		sizes = append(sizes, len(f.data))
		got = append(got, f.data...)
	}
	assert.Equal(t, []int{65536, 65536, 65536, 3392}, sizes)
	assert.Equal(t, data, got)

	st := e.State().Send
	assert.Equal(t, PhaseComplete, st.Phase)
	assert.Equal(t, int64(200000), st.BytesProcessed)
}

func TestSendFrameCountProperty(t *testing.T) {
	for _, tc := range []struct{ size, chunk int }{
		{1, 16}, {16, 16}, {17, 16}, {1000, 7}, {4096, 1024}, {65537, 65536},
	} {
		t.Run(fmt.Sprintf("%d/%d", tc.size, tc.chunk), func(t *testing.T) {
			ch := newFakeChannel()
			e := newTestEngine(t, tc.chunk, nil)
			e.Open(ch)

			require.NoError(t, e.Send(context.Background(), source("f", randomBytes(t, tc.size))))

			frames := ch.snapshot()
			var total int
			for _, f := range frames[1:] {
				assert.LessOrEqual(t, len(f.data), tc.chunk)
				total += len(f.data)
			}
			assert.Equal(t, int(ChunkCount(int64(tc.size), tc.chunk)), len(frames)-1)
			assert.Equal(t, tc.size, total)
		})
	}
}

func TestSendProgressIsMonotonic(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, 1000, rec)
	e.Open(newFakeChannel())

	require.NoError(t, e.Send(context.Background(), source("f", randomBytes(t, 12345))))

	events, progress, _, sent := rec.snapshot()
	assert.Equal(t, 1, sent)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, []string{"progress:100", "sent", "progress:0"}, events[len(events)-3:])

	during := progress[:len(progress)-1]
	assert.Equal(t, 0, during[0])
	for i := 1; i < len(during); i++ {
		assert.GreaterOrEqual(t, during[i], during[i-1])
		assert.LessOrEqual(t, during[i], 100)
	}
}

func TestLoopbackRoundTrip(t *testing.T) {
	senderRec, receiverRec := &recorder{}, &recorder{}
	sender := newTestEngine(t, 4096, senderRec)
	receiver := newTestEngine(t, 4096, receiverRec)

	ch := newFakeChannel()
	ch.deliver = receiver.HandleFrame
	sender.Open(ch)

	data := randomBytes(t, 150001)
	src := Source{Name: "photo.png", MimeType: "image/png", Size: int64(len(data)), Reader: bytes.NewReader(data)}
	require.NoError(t, sender.Send(context.Background(), src))

	_, progress, received, _ := receiverRec.snapshot()
	require.Len(t, received, 1)
	assert.Equal(t, int64(150001), received[0].Size)
	assert.Equal(t, 100, progress[len(progress)-2])
	assert.Equal(t, 0, progress[len(progress)-1])

	art, err := receiver.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, "photo.png", art.Name)
	assert.Equal(t, "image/png", art.MimeType)
	assert.True(t, bytes.Equal(data, art.Data))

	st := receiver.State().Receive
	assert.Equal(t, PhaseComplete, st.Phase)
	assert.Equal(t, int64(150001), st.BytesProcessed)
}

func metaFrame(t *testing.T, name string, size int64) []byte {
	t.Helper()
	b, err := json.Marshal(Metadata{Name: name, MimeType: "text/plain", Size: size})
	require.NoError(t, err)
	return b
}

func TestMetadataMidTransferDiscardsPartial(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, 16, rec)

	e.HandleFrame(true, metaFrame(t, "a.txt", 10))
	e.HandleFrame(false, []byte("aaaa"))
	assert.Equal(t, int64(4), e.State().Receive.BytesProcessed)

	e.HandleFrame(true, metaFrame(t, "b.txt", 3))
	assert.Equal(t, int64(0), e.State().Receive.BytesProcessed)

	e.HandleFrame(false, []byte("bbb"))

	_, progress, received, _ := rec.snapshot()
	assert.Equal(t, []int{0, 40, 0, 100, 0}, progress)
	require.Len(t, received, 1)
	assert.Equal(t, "b.txt", received[0].Name)

	art, err := e.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, []byte("bbb"), art.Data)
}

func TestMetadataReplacesArtifact(t *testing.T) {
	e := newTestEngine(t, 16, nil)

	e.HandleFrame(true, metaFrame(t, "a.txt", 2))
	e.HandleFrame(false, []byte("aa"))
	_, err := e.Retrieve()
	require.NoError(t, err)

	e.HandleFrame(true, metaFrame(t, "b.txt", 2))
	_, err = e.Retrieve()
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestFramesAfterCompletionAreIgnored(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, 16, rec)

	e.HandleFrame(true, metaFrame(t, "a.txt", 2))
	e.HandleFrame(false, []byte("aa"))
	e.HandleFrame(false, []byte("zz"))

	_, _, received, _ := rec.snapshot()
	assert.Len(t, received, 1)
	art, err := e.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, []byte("aa"), art.Data)
}

func TestMalformedMetadata(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, 16, rec)

	e.HandleFrame(true, []byte("{not json"))
	e.HandleFrame(false, []byte("data"))
	e.HandleFrame(true, []byte(`{"name":"x","type":"","size":-4}`))

	_, err := e.Retrieve()
	assert.ErrorIs(t, err, ErrNoArtifact)
	assert.Equal(t, PhaseIdle, e.State().Receive.Phase)

	_, progress, received, _ := rec.snapshot()
	assert.Equal(t, []int{0, 0}, progress)
	assert.Empty(t, received)
}

func TestZeroByteFile(t *testing.T) {
	senderRec, receiverRec := &recorder{}, &recorder{}
	sender := newTestEngine(t, 16, senderRec)
	receiver := newTestEngine(t, 16, receiverRec)

	ch := newFakeChannel()
	ch.deliver = receiver.HandleFrame
	sender.Open(ch)

	require.NoError(t, sender.Send(context.Background(), Source{Name: "empty", MimeType: "text/plain"}))

	assert.Len(t, ch.snapshot(), 1)

	events, _, _, _ := senderRec.snapshot()
	assert.Equal(t, []string{"progress:0", "progress:100", "sent", "progress:0"}, events)

	events, _, received, _ := receiverRec.snapshot()
	assert.Equal(t, []string{"progress:0", "progress:100", "received", "progress:0"}, events)
	require.Len(t, received, 1)

	art, err := receiver.Retrieve()
	require.NoError(t, err)
	assert.Empty(t, art.Data)
	assert.Equal(t, "empty", art.Name)
}

func TestFlowControlWaitsForDrain(t *testing.T) {
	const chunk = 1024
	ch := newFakeChannel()
	ch.drainEvery(t, time.Millisecond, 512)

	e := NewEngine(Options{
		ChunkSize:     chunk,
		HighWaterMark: 4 * chunk,
		PollInterval:  time.Millisecond,
		Logger:        zap.NewNop(),
	})
	e.Open(ch)

	data := randomBytes(t, 64*chunk)
	require.NoError(t, e.Send(context.Background(), source("big", data)))

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.LessOrEqual(t, ch.maxAtSend, uint64(4*chunk), "chunk sent above the high-water mark")
	assert.Positive(t, ch.maxAtSend, "buffer never filled")
	assert.Greater(t, ch.waits, 0)

	var got []byte
	for _, f := range ch.frames[1:] {
		got = append(got, f.data...)
	}
	assert.Equal(t, data, got)
}

func TestSendWhileBusy(t *testing.T) {
	ch := newFakeChannel()
	ch.stuck = true
	e := newTestEngine(t, 16, nil)
	e.Open(ch)

	data := randomBytes(t, 64)
	errc := make(chan error, 1)
	go func() { errc <- e.Send(context.Background(), source("first", data)) }()

	require.Eventually(t, func() bool {
		return e.State().Send.Phase == PhaseActive
	}, 5*time.Second, time.Millisecond)

	err := e.Send(context.Background(), source("second", []byte("x")))
	assert.ErrorIs(t, err, ErrTransferBusy)

	e.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not stop after close")
	}

	st := e.State()
	assert.Equal(t, PhaseIdle, st.Send.Phase)
	assert.Zero(t, st.Send.BytesProcessed)
}

func (e *Engine) hasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

func TestPendingSendStartsOnOpen(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, 8, rec)

	data := randomBytes(t, 20)
	errc := make(chan error, 1)
	go func() { errc <- e.Send(context.Background(), source("queued", data)) }()

	require.Eventually(t, e.hasPending, 5*time.Second, time.Millisecond)

	err := e.Send(context.Background(), source("second", []byte("x")))
	assert.ErrorIs(t, err, ErrAlreadyPending)

	ch := newFakeChannel()
	e.Open(ch)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("queued send did not start")
	}

	frames := ch.snapshot()
	require.Len(t, frames, 4)
	assert.True(t, frames[0].text)

	_, _, _, sent := rec.snapshot()
	assert.Equal(t, 1, sent)
}

func TestCloseFailsPendingSend(t *testing.T) {
	e := newTestEngine(t, 8, nil)

	errc := make(chan error, 1)
	go func() { errc <- e.Send(context.Background(), source("queued", []byte("abc"))) }()
	require.Eventually(t, e.hasPending, 5*time.Second, time.Millisecond)

	e.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending send was not released")
	}
	assert.False(t, e.hasPending())
}

func TestPendingSendContextCancel(t *testing.T) {
	e := newTestEngine(t, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Send(ctx, source("queued", []byte("abc"))) }()
	require.Eventually(t, e.hasPending, 5*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.False(t, e.hasPending())
}

type shortReader struct{ n int }

func (r *shortReader) Read(p []byte) (int, error) {
	if r.n == 0 {
		return 0, errors.New("disk unplugged")
	}
	n := min(len(p), r.n)
	r.n -= n
	return n, nil
}

func TestReadErrorAbortsSend(t *testing.T) {
	rec := &recorder{}
	ch := newFakeChannel()
	e := newTestEngine(t, 16, rec)
	e.Open(ch)

	err := e.Send(context.Background(), Source{Name: "bad", Size: 100, Reader: &shortReader{n: 40}})
	require.ErrorIs(t, err, ErrRead)

	var terr *TransferError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "bad", terr.File)

	_, progress, _, sent := rec.snapshot()
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, progress[len(progress)-1])
	assert.Equal(t, PhaseIdle, e.State().Send.Phase)

	// Ready for a retry.
	require.NoError(t, e.Send(context.Background(), source("good", []byte("hello"))))
}

func TestChannelSendErrorAbortsSend(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = errors.New("sctp: stream closed")
	e := newTestEngine(t, 16, nil)
	e.Open(ch)

	err := e.Send(context.Background(), source("f", []byte("abc")))
	assert.ErrorIs(t, err, ErrChannel)
	assert.Equal(t, PhaseIdle, e.State().Send.Phase)
}

func TestInvalidSource(t *testing.T) {
	e := newTestEngine(t, 16, nil)
	assert.ErrorIs(t, e.Send(context.Background(), Source{Name: "neg", Size: -1}), ErrInvalidSource)
	assert.ErrorIs(t, e.Send(context.Background(), Source{Name: "nil", Size: 3}), ErrInvalidSource)
}

func TestCloseClearsReceiveState(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, 16, rec)

	e.HandleFrame(true, metaFrame(t, "a.txt", 10))
	e.HandleFrame(false, []byte("aaaa"))

	e.Close()
	st := e.State().Receive
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Zero(t, st.BytesProcessed)

	e.HandleFrame(false, []byte("aaaaaa"))
	_, err := e.Retrieve()
	assert.ErrorIs(t, err, ErrNoArtifact)

	_, progress, _, _ := rec.snapshot()
	assert.Equal(t, 0, progress[len(progress)-1])
}

func TestArtifactConsumeAndClear(t *testing.T) {
	e := newTestEngine(t, 16, nil)

	_, err := e.Consume()
	assert.ErrorIs(t, err, ErrNoArtifact)

	e.HandleFrame(true, metaFrame(t, "a.txt", 3))
	e.HandleFrame(false, []byte("abc"))

	// A completed artifact survives teardown.
	e.Close()
	art, err := e.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", art.Name)

	art, err = e.Consume()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), art.Data)

	_, err = e.Retrieve()
	assert.ErrorIs(t, err, ErrNoArtifact)

	e.HandleFrame(true, metaFrame(t, "b.txt", 1))
	e.HandleFrame(false, []byte("b"))
	e.ClearArtifact()
	_, err = e.Retrieve()
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestTransferErrorFormatting(t *testing.T) {
	assert.Equal(t, "read a.txt: read failed", NewFileError("read", "a.txt", ErrRead).Error())
	assert.Equal(t, "send: channel closed (teardown)", WrapError("send", ErrChannelClosed, "teardown").Error())
	assert.True(t, strings.HasPrefix(NewError("retrieve", ErrNoArtifact).Error(), "retrieve:"))
}

func TestDrain(t *testing.T) {
	ch := newFakeChannel()
	ch.drainEvery(t, time.Millisecond, 256)
	e := newTestEngine(t, 1024, nil)

	err := e.Drain(context.Background())
	assert.ErrorIs(t, err, ErrChannelClosed, "no channel attached")

	e.Open(ch)
	require.NoError(t, e.Send(context.Background(), source("f", randomBytes(t, 4096))))
	require.NoError(t, e.Drain(context.Background()))
	assert.Zero(t, ch.BufferedAmount())

	ch.mu.Lock()
	ch.stuck = true
	ch.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Drain(ctx), context.DeadlineExceeded)

	ch.mu.Lock()
	ch.open = false
	ch.mu.Unlock()
	assert.ErrorIs(t, e.Drain(context.Background()), ErrChannelClosed)
}
