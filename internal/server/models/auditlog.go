package models

import "time"

// Event enumerates key lifecycle transitions recorded in the audit log.
// Values are persisted; do not renumber.
type Event int

const (
	EventKeyCreated Event = iota
	EventKeyActivated
	EventKeyDeactivated
	EventKeyReactivated
	EventKeyModified
	EventActivationDenied
)

func (e Event) String() string {
	switch e {
	case EventKeyCreated:
		return "key created"
	case EventKeyActivated:
		return "key activated"
	case EventKeyDeactivated:
		return "key deactivated"
	case EventKeyReactivated:
		return "key reactivated"
	case EventKeyModified:
		return "key modified"
	case EventActivationDenied:
		return "activation denied"
	default:
		return "unknown"
	}
}

// Origin describes where a lifecycle action came from. It is supplied by the
// caller; the core never derives it itself.
type Origin struct {
	// IP is the client network address.
	IP string
	// Machine is the client-reported machine label.
	Machine string
	// HWID is the hardware identifier, when the action carries one.
	HWID string
}

func (o Origin) String() string {
	return "IP: " + o.IP + ", Machine: " + o.Machine
}

// AuditLogEntry is one immutable record of a lifecycle event. The store
// offers append and read operations only; there is no update or delete.
type AuditLogEntry struct {
	ID          int64
	KeyID       int64
	Event       Event
	Description string
	// UserID references the acting operator. Empty for client-driven
	// events such as activations.
	UserID    string
	Origin    Origin
	Timestamp time.Time
}
