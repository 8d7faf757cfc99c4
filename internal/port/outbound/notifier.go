package outbound

// Notifier is the outbound port for transient user-visible notifications
// (the console UI renders these as toasts). Implementations must not block.
type Notifier interface {
	// Success surfaces a success notification.
	Success(message string)
	// Error surfaces an error notification.
	Error(message string)
}
