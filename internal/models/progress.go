package models

// UploadEventName is the push-channel event carrying upload progress.
const UploadEventName = "ON_UPLOAD_EVENT"

// SessionEventName announces a server-assigned session id to a fresh subscriber.
const SessionEventName = "session"

// ProgressEvent reports the cumulative bytes processed for one file.
type ProgressEvent struct {
	ProcessedAlready int64  `json:"processedAlready"`
	Filename         string `json:"filename"`
}

// SessionAnnouncement is the payload of SessionEventName.
type SessionAnnouncement struct {
	SessionID string `json:"sessionId"`
}

// PushMessage is the envelope written to websocket subscribers.
type PushMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}
