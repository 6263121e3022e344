package transfer

// Observer receives transfer events. Calls are made without any engine lock
// held and may come from the sending goroutine or the channel's read loop.
type Observer interface {
	Progress(percent int)
	Received(meta Metadata)
	Sent()
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	OnProgress func(percent int)
	OnReceived func(meta Metadata)
	OnSent     func()
}

func (f ObserverFuncs) Progress(percent int) {
	if f.OnProgress != nil {
		f.OnProgress(percent)
	}
}

func (f ObserverFuncs) Received(meta Metadata) {
	if f.OnReceived != nil {
		f.OnReceived(meta)
	}
}

func (f ObserverFuncs) Sent() {
	if f.OnSent != nil {
		f.OnSent()
	}
}

type nopObserver struct{}

func (nopObserver) Progress(int)      {}
func (nopObserver) Received(Metadata) {}
func (nopObserver) Sent()             {}
