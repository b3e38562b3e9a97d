package notifications

import (
	"sync"
)

// Verbosity levels of user-visible messages.
const (
	VerbosityInfo    = "info"
	VerbosityWarning = "warning"
	VerbosityError   = "error"
)

// Aggregator collects user-visible failure and status messages and surfaces
// them over the notification channel, eventually showing up as toasts in the
// UI. Consecutive duplicates are suppressed.
type Aggregator struct {
	hub *Hub

	mu   sync.Mutex
	last string
}

// NewAggregator creates an aggregator publishing through the hub.
func NewAggregator(hub *Hub) *Aggregator {
	return &Aggregator{hub: hub}
}

func (a *Aggregator) add(verbosity, message string) {
	a.mu.Lock()
	if message == a.last {
		a.mu.Unlock()
		return
	}
	a.last = message
	a.mu.Unlock()
	log.Infof("User message (%s): %s", verbosity, message)
	if a.hub != nil {
		a.hub.Broadcast(NewUserMessage(verbosity, message))
	}
}

// Info surfaces an informational message.
func (a *Aggregator) Info(message string) {
	a.add(VerbosityInfo, message)
}

// Warning surfaces a warning message.
func (a *Aggregator) Warning(message string) {
	a.add(VerbosityWarning, message)
}

// Error surfaces an error message.
func (a *Aggregator) Error(message string) {
	a.add(VerbosityError, message)
}
