package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/roomdrop/internal/config"
	"github.com/BioHazard786/roomdrop/internal/files"
	"github.com/BioHazard786/roomdrop/internal/session"
	"github.com/BioHazard786/roomdrop/internal/transfer"
	"github.com/BioHazard786/roomdrop/internal/ui"
)

type receiveOptions struct {
	dir string
	zip bool
}

func newReceiveCmd(opts *config.Options) *cobra.Command {
	var ropts receiveOptions

	cmd := &cobra.Command{
		Use:     "receive <room-id|url>",
		Aliases: []string{"r"},
		Short:   "Receive files from a sender",
		Long: `Receive files directly from a sender.

Examples:
  roomdrop receive kitten-waffle-stardust-happy
  roomdrop receive https://roomdrop.qzz.io/r/kitten-waffle-stardust-happy
  roomdrop receive kitten-waffle-stardust-happy --dir downloads --zip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := parseRoomInput(args[0])
			if err != nil {
				return err
			}
			return receiveFiles(cmd.Context(), *opts, ropts, roomID)
		},
	}

	cmd.Flags().BoolVarP(&ropts.zip, "zip", "z", false, "Zip received files")
	cmd.Flags().StringVarP(&ropts.dir, "dir", "d", "", "Directory to save received files")
	return cmd
}

func receiveFiles(ctx context.Context, opts config.Options, ropts receiveOptions, roomID string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	saveDir := ropts.dir
	if ropts.zip {
		tempDir, err := os.MkdirTemp("", "roomdrop-receive-*")
		if err != nil {
			return transfer.NewError("create temp dir", err)
		}
		defer os.RemoveAll(tempDir)
		saveDir = tempDir
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

	if err := p.Join(ctx, roomID); err != nil {
		if errors.Is(err, session.ErrRoomNotFound) || errors.Is(err, session.ErrRoomFull) {
			return transfer.WrapError("join room", err, "Room not found or already full")
		}
		return transfer.NewError("join room", err)
	}

	stopSpinner = ui.RunWaitingSpinner("Connecting to sender...")
	err = l.waitConnected(ctx, p.Done())
	stopSpinner()
	if err != nil {
		return transfer.NewError("connect to sender", err)
	}
	ui.PrintSuccessf("%s Connected to sender", ui.IconPeer)

	view := ui.NewTransferView(ui.ModeReceive)
	l.view.Store(view)
	view.Start()
	view.SetState("Receiving files... (the sender ends the session)")

	start := time.Now()
	saved, total, err := collect(ctx, l, p, view, saveDir)
	elapsed := time.Since(start)
	view.Stop()
	if err != nil {
		return err
	}

	for _, path := range saved {
		if !ropts.zip {
			ui.PrintSuccessf("Saved %s", path)
		}
	}
	if ropts.zip && len(saved) > 0 {
		if err := zipReceived(saved, ropts.dir); err != nil {
			return err
		}
	}

	status := "Completed"
	if len(saved) == 0 {
		status = "No files received"
	}
	transferSummary(status, len(saved), total, elapsed)
	return nil
}

// collect saves artifacts as they arrive until the sender leaves.
func collect(ctx context.Context, l *listener, p *peer, view *ui.TransferView, dir string) ([]string, int64, error) {
	var (
		saved []string
		total int64
	)
	save := func(a transfer.Artifact) error {
		path, err := files.SaveArtifact(dir, a)
		if err != nil {
			return err
		}
		saved = append(saved, path)
		total += int64(len(a.Data))
		view.SetState(fmt.Sprintf("Saved %s", filepath.Base(path)))
		return nil
	}

	for {
		select {
		case a := <-l.artifacts:
			if err := save(a); err != nil {
				return saved, total, err
			}

		case s := <-l.states:
			if s != session.StateDisconnected {
				continue
			}
			for {
				select {
				case a := <-l.artifacts:
					if err := save(a); err != nil {
						return saved, total, err
					}
				default:
					return saved, total, nil
				}
			}

		case <-view.Interrupted():
			return saved, total, context.Canceled

		case <-ctx.Done():
			return saved, total, ctx.Err()

		case <-p.Done():
			return saved, total, session.ErrClosed
		}
	}
}

func zipReceived(paths []string, outputDir string) error {
	zipName := fmt.Sprintf("roomdrop-download-%d.zip", time.Now().UnixMilli())
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return transfer.NewError("create output dir", err)
		}
		zipName = filepath.Join(outputDir, zipName)
	}

	s := ui.NewWaitingSpinner("Zipping files...")
	s.Start()
	if err := files.ZipFiles(paths, zipName); err != nil {
		s.Stop()
		return transfer.NewError("zip files", err)
	}
	s.Success(fmt.Sprintf("Files zipped to %s", zipName))
	return nil
}

// parseRoomInput accepts a bare room ID or a room link.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	roomID := input
	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		var err error
		if roomID, err = extractRoomIDFromURL(input); err != nil {
			return "", err
		}
	}
	if err := session.ValidateRoomID(roomID); err != nil {
		return "", err
	}
	return roomID, nil
}

func extractRoomIDFromURL(urlStr string) (string, error) {
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", transfer.NewError("parse URL", err)
	}

	parts := strings.Split(strings.TrimSuffix(parsedURL.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}
