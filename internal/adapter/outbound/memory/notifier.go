package memory

import "sync"

// Notification is one recorded notification.
type Notification struct {
	Level   string // "success" or "error"
	Message string
}

// RecordingNotifier implements outbound.Notifier by recording notifications
// in memory. Used by tests and by the console's session status endpoint to
// expose recent toasts.
type RecordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

// NewNotifier creates an empty RecordingNotifier.
func NewNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Success records a success notification.
func (n *RecordingNotifier) Success(message string) {
	n.record("success", message)
}

// Error records an error notification.
func (n *RecordingNotifier) Error(message string) {
	n.record("error", message)
}

func (n *RecordingNotifier) record(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, Notification{Level: level, Message: message})
}

// Drain returns all recorded notifications and clears the buffer.
func (n *RecordingNotifier) Drain() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.notes
	n.notes = nil
	return out
}

// All returns a copy of the recorded notifications without clearing.
func (n *RecordingNotifier) All() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.notes))
	copy(out, n.notes)
	return out
}
