package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/roomdrop/internal/config"
	"github.com/BioHazard786/roomdrop/internal/files"
	"github.com/BioHazard786/roomdrop/internal/transfer"
	"github.com/BioHazard786/roomdrop/internal/ui"
)

// closeGrace gives the receiver time to process the last delivered frames
// before the session is torn down.
const closeGrace = time.Second

func newSendCmd(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:     "send <file>...",
		Aliases: []string{"s"},
		Short:   "Send files to a receiver",
		Long: `Send files directly to a receiver.

Examples:
  roomdrop send file1.txt file2.pdf
  roomdrop send --domain custom.example.com file.txt
  roomdrop send --relay file.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendFiles(cmd.Context(), *opts, args)
		},
	}
}

func sendFiles(ctx context.Context, opts config.Options, paths []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	infos, warnings, err := files.ValidateFiles(paths, files.Limits{Max: cfg.MaxFileSize, Warn: cfg.WarnFileSize})
	if err != nil {
		return err
	}
	displayFileTable(infos)
	for _, w := range warnings {
		ui.PrintWarning(w)
	}

	l := newListener()
	defer close(l.done)

	fmt.Fprintln(ui.Output)
	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	p, err := connect(ctx, cfg, l)
	stopSpinner()
	if err != nil {
		return err
	}
	defer p.Close()

	roomID, err := p.Create(ctx)
	if err != nil {
		return transfer.NewError("create room", err)
	}
	ui.RenderRoomInfo(roomID, cfg.GetRoomLink(roomID))

	fmt.Fprintln(ui.Output)
	stopSpinner = ui.RunWaitingSpinner("Waiting for receiver to join...")
	err = l.waitConnected(ctx, p.Done())
	stopSpinner()
	if err != nil {
		return transfer.NewError("wait for peer", err)
	}
	ui.PrintSuccessf("%s Receiver connected", ui.IconPeer)

	view := ui.NewTransferView(ui.ModeSend)
	l.view.Store(view)
	view.Start()
	view.SetState("Sending files...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-view.Interrupted():
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	err = sendAll(ctx, p, view, infos)
	if err == nil {
		view.SetState("Waiting for receiver to finish...")
		err = p.Drain(ctx)
	}
	if err != nil {
		view.SetState("Transfer failed")
		view.Stop()
		return err
	}
	elapsed := time.Since(start)
	view.SetState("Done")
	view.Stop()

	select {
	case <-time.After(closeGrace):
	case <-ctx.Done():
	}

	transferSummary("Completed", len(infos), files.GetTotalSize(infos), elapsed)
	return nil
}

func sendAll(ctx context.Context, p *peer, view *ui.TransferView, infos []files.FileInfo) error {
	for _, info := range infos {
		src, f, err := files.Open(info)
		if err != nil {
			return err
		}
		view.Begin(info.Name, info.Size)
		err = p.Send(ctx, src)
		f.Close()
		if err != nil {
			view.Fail(err)
			return err
		}
	}
	return nil
}

func displayFileTable(infos []files.FileInfo) {
	items := make([]ui.FileTableItem, len(infos))
	for i, f := range infos {
		items[i] = ui.FileTableItem{Index: i + 1, Name: f.Name, Size: f.Size, Type: f.Type}
	}
	fmt.Fprintln(ui.Output)
	ui.RenderFileTable(items)
}
