package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/BioHazard786/roomdrop/internal/transfer"
)

// TransferView drives the live progress display. It satisfies
// transfer.Observer for the sending side; receivers feed it through the same
// methods.
type TransferView struct {
	program     *tea.Program
	done        chan struct{}
	interrupted chan struct{}
	stopOnce    sync.Once
}

// NewTransferView creates a view rendering inline below previous output.
func NewTransferView(mode TransferMode, opts ...tea.ProgramOption) *TransferView {
	opts = append([]tea.ProgramOption{tea.WithOutput(Output)}, opts...)
	return &TransferView{
		program:     tea.NewProgram(newTransferModel(mode), opts...),
		done:        make(chan struct{}),
		interrupted: make(chan struct{}),
	}
}

// Start runs the program in a goroutine.
func (v *TransferView) Start() {
	go func() {
		defer close(v.done)
		final, err := v.program.Run()
		if err != nil {
			zap.L().Warn("progress view stopped", zap.Error(err))
			return
		}
		if m, ok := final.(transferModel); ok && m.interrupted {
			close(v.interrupted)
		}
	}()
}

// Interrupted is closed when the user quits the view with q or ctrl+c.
func (v *TransferView) Interrupted() <-chan struct{} {
	return v.interrupted
}

func (v *TransferView) SetState(state string) { v.program.Send(stateMsg(state)) }

// Begin starts a new file line.
func (v *TransferView) Begin(name string, size int64) {
	v.program.Send(beginMsg{name: name, size: size})
}

// Finish marks the active file complete, renaming it when name is set.
func (v *TransferView) Finish(name string, size int64) {
	v.program.Send(finishMsg{name: name, size: size})
}

func (v *TransferView) Fail(err error) { v.program.Send(failMsg{err: err.Error()}) }

func (v *TransferView) Progress(percent int) { v.program.Send(percentMsg(percent)) }

func (v *TransferView) Received(meta transfer.Metadata) { v.Finish(meta.Name, meta.Size) }

func (v *TransferView) Sent() { v.Finish("", 0) }

// Stop renders the final frame and waits for the program to exit.
func (v *TransferView) Stop() {
	v.stopOnce.Do(func() {
		v.program.Send(quitMsg{})
		<-v.done
	})
}
