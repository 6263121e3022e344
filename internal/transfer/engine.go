package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultChunkSize     = 64 * 1024
	DefaultHighWaterMark = 1024 * 1024
	DefaultPollInterval  = 10 * time.Millisecond

	// maxPrealloc caps how much of a declared size is reserved up front.
	maxPrealloc = 64 << 20
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	ChunkSize     int
	HighWaterMark uint64
	PollInterval  time.Duration
	Observer      Observer
	Logger        *zap.Logger
}

type sendJob struct {
	ch Channel
}

// pendingSend is the single slot for a send requested before the channel
// opened. ready receives the job on Open and is closed on Close.
type pendingSend struct {
	ready chan *sendJob
}

type receiveState struct {
	phase    Phase
	meta     Metadata
	buf      []byte
	received int64
}

// Engine sends and receives files over one Channel at a time. A send
// streams a metadata frame followed by fixed-size binary chunks, pausing
// whenever the channel's buffered amount is above the high-water mark. The
// receive side reassembles chunks into an Artifact.
type Engine struct {
	chunkSize int
	hwm       uint64
	poll      time.Duration
	obs       Observer
	logger    *zap.Logger

	mu       sync.Mutex
	ch       Channel
	active   *sendJob
	pending  *pendingSend
	send     TransferState
	recv     receiveState
	artifact *Artifact
}

func NewEngine(opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.HighWaterMark == 0 {
		opts.HighWaterMark = DefaultHighWaterMark
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	return &Engine{
		chunkSize: opts.ChunkSize,
		hwm:       opts.HighWaterMark,
		poll:      opts.PollInterval,
		obs:       opts.Observer,
		logger:    opts.Logger.Named("transfer"),
		send:      TransferState{Phase: PhaseIdle},
		recv:      receiveState{phase: PhaseIdle},
	}
}

// Open attaches an open channel. A queued send starts on it.
func (e *Engine) Open(ch Channel) {
	e.mu.Lock()
	e.ch = ch
	p := e.pending
	var job *sendJob
	if p != nil && e.active == nil {
		e.pending = nil
		job = &sendJob{ch: ch}
		e.active = job
	}
	e.mu.Unlock()

	if job != nil {
		e.logger.Debug("channel open, starting queued send")
		p.ready <- job
	}
}

// Close detaches the channel and clears both directions' counters and the
// partial receive buffer. An in-flight send stops before its next chunk and
// a queued send fails with ErrChannelClosed. A completed artifact is kept.
func (e *Engine) Close() {
	e.mu.Lock()
	busy := e.active != nil || e.recv.phase == PhaseActive
	e.ch = nil
	e.active = nil
	if e.pending != nil {
		close(e.pending.ready)
		e.pending = nil
	}
	e.send = TransferState{Phase: PhaseIdle}
	e.recv = receiveState{phase: PhaseIdle}
	e.mu.Unlock()

	if busy {
		e.obs.Progress(0)
	}
}

// Send transfers src and returns once every byte has been handed to the
// channel. If no channel is open yet the request waits in the pending slot.
func (e *Engine) Send(ctx context.Context, src Source) error {
	if src.Size < 0 || (src.Size > 0 && src.Reader == nil) {
		return NewFileError("send", src.Name, ErrInvalidSource)
	}

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return NewFileError("send", src.Name, ErrTransferBusy)
	}
	if e.ch != nil && e.ch.IsOpen() {
		job := &sendJob{ch: e.ch}
		e.active = job
		e.mu.Unlock()
		return e.run(ctx, job, src)
	}
	if e.pending != nil {
		e.mu.Unlock()
		return NewFileError("send", src.Name, ErrAlreadyPending)
	}
	p := &pendingSend{ready: make(chan *sendJob, 1)}
	e.pending = p
	e.mu.Unlock()

	e.logger.Debug("channel not open, send queued", zap.String("file", src.Name))

	select {
	case job, ok := <-p.ready:
		if !ok {
			return NewFileError("send", src.Name, ErrChannelClosed)
		}
		return e.run(ctx, job, src)

	case <-ctx.Done():
		e.mu.Lock()
		if e.pending == p {
			e.pending = nil
			e.mu.Unlock()
			return ctx.Err()
		}
		e.mu.Unlock()
		// Open or Close already took the slot.
		if job, ok := <-p.ready; ok {
			e.release(job)
		}
		return ctx.Err()
	}
}

func (e *Engine) run(ctx context.Context, job *sendJob, src Source) error {
	total := src.Size
	meta := Metadata{
		Name:     src.Name,
		MimeType: src.MimeType,
		Size:     total,
		Chunks:   ChunkCount(total, e.chunkSize),
	}

	if !e.update(job, func() {
		e.send = TransferState{Phase: PhaseActive, DeclaredTotal: total}
	}) {
		return NewFileError("send", src.Name, ErrChannelClosed)
	}
	e.obs.Progress(0)

	text, err := encodeMetadata(meta)
	if err != nil {
		return e.fail(job, NewFileError("encode metadata", src.Name, err))
	}
	if err := job.ch.SendText(text); err != nil {
		return e.fail(job, NewFileError("send metadata", src.Name, fmt.Errorf("%w: %w", ErrChannel, err)))
	}

	e.logger.Debug("sending file",
		zap.String("file", src.Name),
		zap.Int64("size", total),
		zap.Int64("chunks", meta.Chunks),
	)

	var sent int64
	for sent < total {
		if err := e.waitForWindow(ctx, job); err != nil {
			return e.fail(job, NewFileError("send", src.Name, err))
		}

		n := min(int64(e.chunkSize), total-sent)
		chunk := make([]byte, n)
		if _, err := io.ReadFull(src.Reader, chunk); err != nil {
			return e.fail(job, NewFileError("read", src.Name, fmt.Errorf("%w: %w", ErrRead, err)))
		}
		if err := job.ch.Send(chunk); err != nil {
			return e.fail(job, NewFileError("send chunk", src.Name, fmt.Errorf("%w: %w", ErrChannel, err)))
		}

		sent += n
		if !e.update(job, func() { e.send.BytesProcessed = sent }) {
			return NewFileError("send", src.Name, ErrChannelClosed)
		}
		e.obs.Progress(Percent(sent, total))
	}

	if total == 0 {
		e.obs.Progress(100)
	}

	if !e.update(job, func() {
		e.active = nil
		e.send = TransferState{Phase: PhaseComplete, BytesProcessed: total, DeclaredTotal: total}
	}) {
		return NewFileError("send", src.Name, ErrChannelClosed)
	}

	e.logger.Debug("file sent", zap.String("file", src.Name), zap.Int64("size", total))
	e.obs.Sent()
	e.obs.Progress(0)
	return nil
}

// waitForWindow blocks while the channel holds more than the high-water
// mark, polling at the configured interval.
func (e *Engine) waitForWindow(ctx context.Context, job *sendJob) error {
	if err := e.check(job); err != nil {
		return err
	}
	if job.ch.BufferedAmount() <= e.hwm {
		return nil
	}

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for job.ch.BufferedAmount() > e.hwm {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := e.check(job); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) check(job *sendJob) error {
	e.mu.Lock()
	current := e.active == job
	e.mu.Unlock()
	if !current || !job.ch.IsOpen() {
		return ErrChannelClosed
	}
	return nil
}

// update applies fn under the lock if job is still the active send.
func (e *Engine) update(job *sendJob, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != job {
		return false
	}
	fn()
	return true
}

func (e *Engine) fail(job *sendJob, err error) error {
	e.mu.Lock()
	current := e.active == job
	if current {
		e.active = nil
		e.send = TransferState{Phase: PhaseIdle}
	}
	e.mu.Unlock()

	e.logger.Warn("send failed", zap.Error(err))
	if current {
		e.obs.Progress(0)
	}
	return err
}

func (e *Engine) release(job *sendJob) {
	e.mu.Lock()
	if e.active == job {
		e.active = nil
		e.send = TransferState{Phase: PhaseIdle}
	}
	e.mu.Unlock()
}

// HandleFrame consumes one inbound message. Text frames are metadata and
// restart the receive side; binary frames are file bytes.
func (e *Engine) HandleFrame(isText bool, data []byte) {
	if isText {
		e.handleMetadata(data)
		return
	}
	e.handleChunk(data)
}

func (e *Engine) handleMetadata(data []byte) {
	meta, err := decodeMetadata(data)

	e.mu.Lock()
	discarded := e.recv.received
	e.artifact = nil
	e.recv = receiveState{phase: PhaseIdle}
	if err != nil {
		e.mu.Unlock()
		e.logger.Warn("dropping malformed metadata frame", zap.Error(err))
		e.obs.Progress(0)
		return
	}

	e.recv.phase = PhaseActive
	e.recv.meta = meta
	e.recv.buf = make([]byte, 0, min(meta.Size, maxPrealloc))

	events := []func(){func() { e.obs.Progress(0) }}
	if meta.Size == 0 {
		events = append(events, func() { e.obs.Progress(100) })
		events = append(events, e.completeLocked()...)
	}
	e.mu.Unlock()

	if discarded > 0 {
		e.logger.Debug("discarded partial transfer", zap.Int64("bytes", discarded))
	}
	e.logger.Debug("receiving file", zap.String("file", meta.Name), zap.Int64("size", meta.Size))
	for _, ev := range events {
		ev()
	}
}

func (e *Engine) handleChunk(data []byte) {
	e.mu.Lock()
	if e.recv.phase != PhaseActive {
		e.mu.Unlock()
		e.logger.Debug("ignoring binary frame outside a transfer", zap.Int("bytes", len(data)))
		return
	}

	e.recv.buf = append(e.recv.buf, data...)
	e.recv.received += int64(len(data))
	p := Percent(e.recv.received, e.recv.meta.Size)

	events := []func(){func() { e.obs.Progress(p) }}
	if e.recv.received >= e.recv.meta.Size {
		events = append(events, e.completeLocked()...)
	}
	e.mu.Unlock()

	for _, ev := range events {
		ev()
	}
}

// completeLocked turns the receive buffer into the artifact. e.mu must be
// held; the returned events are run after it is released.
func (e *Engine) completeLocked() []func() {
	meta := e.recv.meta
	e.artifact = &Artifact{Name: meta.Name, MimeType: meta.MimeType, Data: e.recv.buf}
	e.recv.phase = PhaseComplete
	e.recv.buf = nil

	e.logger.Debug("file received", zap.String("file", meta.Name), zap.Int64("bytes", e.recv.received))
	return []func(){
		func() { e.obs.Received(meta) },
		func() { e.obs.Progress(0) },
	}
}

// Retrieve returns the last received artifact without clearing it.
func (e *Engine) Retrieve() (Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.artifact == nil {
		return Artifact{}, NewError("retrieve", ErrNoArtifact)
	}
	return *e.artifact, nil
}

// Consume returns the last received artifact and clears it.
func (e *Engine) Consume() (Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.artifact == nil {
		return Artifact{}, NewError("consume", ErrNoArtifact)
	}
	a := *e.artifact
	e.artifact = nil
	return a, nil
}

// ClearArtifact drops the retained artifact, if any.
func (e *Engine) ClearArtifact() {
	e.mu.Lock()
	e.artifact = nil
	e.mu.Unlock()
}

// State returns a snapshot of both directions.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Send: e.send,
		Receive: TransferState{
			Phase:          e.recv.phase,
			BytesProcessed: e.recv.received,
			DeclaredTotal:  e.recv.meta.Size,
		},
	}
}

// Drain waits until the channel reports nothing buffered, so that bytes a
// finished Send handed over have left this side.
func (e *Engine) Drain(ctx context.Context) error {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for {
		e.mu.Lock()
		ch := e.ch
		e.mu.Unlock()

		if ch == nil || !ch.IsOpen() {
			return NewError("drain", ErrChannelClosed)
		}
		if ch.BufferedAmount() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsOpen reports whether a channel is attached and open.
func (e *Engine) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch != nil && e.ch.IsOpen()
}
