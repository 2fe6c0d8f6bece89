package manager

// Event represents a manager lifecycle event.
// Minimal and stable: name + user ID and optional fields via key/values.
type Event struct {
	Name   string
	UserID string
	Fields map[string]any
}

// Event names.
const (
	EventDeployCreated = "deploy_created"
	EventReplaced      = "deploy_replaced"
	EventLoadStart     = "load_start"
	EventLoadReady     = "load_ready"
	EventLoadError     = "load_error"
	EventLoadTimeout   = "load_timeout"
	EventLoadDiscarded = "load_discarded"
	EventStopped       = "stopped"
	EventDeleted       = "deleted"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
