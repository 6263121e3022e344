package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BioHazard786/roomdrop/internal/config"
	"github.com/BioHazard786/roomdrop/internal/dns"
	"github.com/BioHazard786/roomdrop/internal/netutil"
	"github.com/BioHazard786/roomdrop/internal/session"
	"github.com/BioHazard786/roomdrop/internal/signaling"
	"github.com/BioHazard786/roomdrop/internal/transfer"
	"github.com/BioHazard786/roomdrop/internal/ui"
)

const disconnectTimeout = 5 * time.Second

var errConnectionLost = errors.New("connection to peer lost")

// listener bridges negotiator events to the command goroutine and the
// progress view.
type listener struct {
	states    chan session.ConnectionState
	artifacts chan transfer.Artifact
	view      atomic.Pointer[ui.TransferView]

	// consume is set once the negotiator exists. Received artifacts are
	// taken in the callback, before the next metadata frame can replace them.
	consume func() (transfer.Artifact, error)
	done    chan struct{}
}

func newListener() *listener {
	return &listener{
		states:    make(chan session.ConnectionState, 16),
		artifacts: make(chan transfer.Artifact, 16),
		done:      make(chan struct{}),
	}
}

func (l *listener) ConnectionState(s session.ConnectionState) {
	select {
	case l.states <- s:
	default:
		zap.L().Warn("dropping connection state", zap.String("state", string(s)))
	}
}

func (l *listener) RoomCreated(string) {}

func (l *listener) JoinError(string) {}

func (l *listener) Progress(p int) {
	if v := l.view.Load(); v != nil {
		v.Progress(p)
	}
}

func (l *listener) Received(meta transfer.Metadata) {
	if v := l.view.Load(); v != nil {
		v.Received(meta)
	}
	if l.consume == nil {
		return
	}
	art, err := l.consume()
	if err != nil {
		zap.L().Warn("received file vanished", zap.String("file", meta.Name), zap.Error(err))
		return
	}
	select {
	case l.artifacts <- art:
	case <-l.done:
	}
}

func (l *listener) Sent() {
	if v := l.view.Load(); v != nil {
		v.Sent()
	}
}

// waitConnected blocks until the data channel is open.
func (l *listener) waitConnected(ctx context.Context, done <-chan struct{}) error {
	for {
		select {
		case s := <-l.states:
			switch s {
			case session.StateConnected:
				return nil
			case session.StateDisconnected:
				return errConnectionLost
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return session.ErrClosed
		}
	}
}

type peer struct {
	*session.Negotiator
	client *signaling.Client
	cancel context.CancelFunc
}

func loadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, transfer.NewError("load config", err)
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// connect dials the relay and starts a negotiator on it.
func connect(ctx context.Context, cfg *config.Config, l *listener) (*peer, error) {
	logger := zap.L()

	client, err := signaling.Dial(ctx, cfg.RelayURL, signaling.Options{
		Resolver: dns.NewResolver(logger),
		Logger:   logger,
	})
	if err != nil {
		return nil, transfer.NewError("connect to server", err)
	}

	forceRelay := cfg.ForceRelay
	if !forceRelay && cfg.TURNServer != "" && netutil.ShouldForceRelay() {
		logger.Info("VPN or CGNAT detected, using TURN relay")
		forceRelay = true
	}

	n := session.New(client, session.Options{
		Peer: session.PeerOptions{
			ICEServers: cfg.ICEServers(),
			ForceRelay: forceRelay,
		},
		Transfer: transfer.Options{
			ChunkSize:     cfg.ChunkSize,
			HighWaterMark: cfg.HighWaterMark,
			PollInterval:  cfg.PollInterval,
		},
		Listener: l,
		Logger:   logger,
	})
	l.consume = n.Consume

	runCtx, cancel := context.WithCancel(context.Background())
	go n.Run(runCtx)

	return &peer{Negotiator: n, client: client, cancel: cancel}, nil
}

// Close leaves the room and shuts the relay connection.
func (p *peer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := p.Disconnect(ctx); err != nil {
		zap.L().Debug("disconnect", zap.Error(err))
	}
	p.cancel()
	<-p.Done()
	p.client.Close()
}

// transferSummary renders the closing table.
func transferSummary(status string, count int, total int64, elapsed time.Duration) {
	speed := "-"
	if secs := elapsed.Seconds(); secs > 0 && total > 0 {
		speed = ui.FormatSpeed(float64(total) / secs)
	}
	fmt.Fprintln(ui.Output)
	ui.RenderTransferSummary(ui.TransferSummary{
		Status:    status,
		Files:     count,
		TotalSize: total,
		Duration:  ui.FormatDuration(elapsed),
		Speed:     speed,
	})
}
