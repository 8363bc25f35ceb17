package model

// WebSocket message types
type WSMessageType string

const (
	WSMessageTypeState    WSMessageType = "state"
	WSMessageTypeComplete WSMessageType = "complete"
	WSMessageTypeError    WSMessageType = "error"
	WSMessageTypePing     WSMessageType = "ping"
	WSMessageTypePong     WSMessageType = "pong"
)

// WSMessage is the base message envelope.
type WSMessage struct {
	Type WSMessageType `json:"type"`
}

// WSStateMessage is emitted once per state transition.
type WSStateMessage struct {
	Type     WSMessageType `json:"type"`
	JobID    string        `json:"jobId"`
	State    JobState      `json:"state"`
	Progress int           `json:"progress"`
}

// WSCompleteMessage carries the artifact reference on completion.
type WSCompleteMessage struct {
	Type   WSMessageType `json:"type"`
	JobID  string        `json:"jobId"`
	Result *Artifact     `json:"result"`
}

// WSErrorMessage carries the failure summary on terminal failure.
type WSErrorMessage struct {
	Type  WSMessageType `json:"type"`
	JobID string        `json:"jobId"`
	Error JobError      `json:"error"`
}
