package realtime

// Wire event kinds pushed to live connections.
const (
	EventPresenceSnapshot = "presence.snapshot"
	EventPresenceDelta    = "presence.delta"
	EventMessageNew       = "message.new"
	EventMessageDeleted   = "message.deleted"
	EventWorkflowCreated  = "workflow.created"
	EventWorkflowUpdated  = "workflow.updated"
	EventError            = "error"
)

// Event is the envelope written to websocket clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type PresenceSnapshot struct {
	UserIDs []string `json:"userIds"`
}

type PresenceDelta struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type MessageDeleted struct {
	MessageID string `json:"messageId"`
}

type WorkflowUpdate struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

type ErrorData struct {
	Message string `json:"message"`
}
