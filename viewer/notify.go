package viewer

import "realism-viewer/internal/logger"

// Notifier reports user-facing failures such as a model that would not load.
type Notifier interface {
	Notify(msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(msg string)

func (f NotifierFunc) Notify(msg string) { f(msg) }

// titleNotifier logs the message and shows it in the window title.
type titleNotifier struct {
	surface Surface
	title   string
}

func (n titleNotifier) Notify(msg string) {
	logger.Log.Error(msg)
	if n.surface != nil {
		n.surface.SetTitle(n.title + " | " + msg)
	}
}
