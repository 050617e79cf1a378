package oauth

import (
	"context"
	"sync/atomic"
)

// Popup geometry. The window is fixed-size and centered on the screen.
const (
	WindowWidth  = 600
	WindowHeight = 700
)

// Screen is the size of the display the popup is centered on.
type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultScreen is used when the caller does not report its screen.
var DefaultScreen = Screen{Width: 1440, Height: 900}

// WindowSpec is everything needed to open the authorization popup.
type WindowSpec struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
}

// Centered places the popup in the middle of screen.
func Centered(url, name string, screen Screen) WindowSpec {
	if screen.Width <= 0 || screen.Height <= 0 {
		screen = DefaultScreen
	}
	return WindowSpec{
		URL:    url,
		Name:   name,
		Width:  WindowWidth,
		Height: WindowHeight,
		Left:   max(0, (screen.Width-WindowWidth)/2),
		Top:    max(0, (screen.Height-WindowHeight)/2),
	}
}

// Window is a handle on an opened popup.
type Window interface {
	Closed() bool
	Close()
}

// Opener opens popups. It returns an error wrapping apperror.ErrPopupBlocked
// when the host refuses.
type Opener interface {
	Open(ctx context.Context, spec WindowSpec) (Window, error)
}

// HandoffOpener is the server-side Opener: the HTTP client opens the window
// from the returned WindowSpec and reports its state back through
// Broker.Report. The handle only learns about closure from Close.
type HandoffOpener struct{}

func (HandoffOpener) Open(context.Context, WindowSpec) (Window, error) {
	return &handoffWindow{}, nil
}

type handoffWindow struct {
	closed atomic.Bool
}

func (w *handoffWindow) Closed() bool { return w.closed.Load() }

func (w *handoffWindow) Close() { w.closed.Store(true) }
