package event

import "github.com/sessiontail/sessiontail/pkg/types"

// MessageUpdatedData carries a replaceable snapshot of a streaming message.
type MessageUpdatedData struct {
	SessionKey string                  `json:"sessionKey"`
	Info       *types.AssembledMessage `json:"info"`
}

// MessageCompletedData carries a finalized message.
type MessageCompletedData struct {
	SessionKey string                  `json:"sessionKey"`
	Info       *types.AssembledMessage `json:"info"`
}

// MessageFailedData carries a terminally failed message.
type MessageFailedData struct {
	SessionKey string                  `json:"sessionKey"`
	Info       *types.AssembledMessage `json:"info"`
}

// BatchCompletedData carries every message finalized by one file read.
type BatchCompletedData struct {
	SessionKey string                    `json:"sessionKey"`
	Messages   []*types.AssembledMessage `json:"messages"`
}

// SessionIdentifiedData reports the session id found in a log's init record.
type SessionIdentifiedData struct {
	SessionKey string `json:"sessionKey"`
	SessionID  string `json:"sessionID"`
}

// SessionSummaryData reports an updated session summary line.
type SessionSummaryData struct {
	SessionKey string `json:"sessionKey"`
	Summary    string `json:"summary"`
}

// SessionRemovedData reports that a session's log file disappeared.
type SessionRemovedData struct {
	SessionKey string `json:"sessionKey"`
	SessionID  string `json:"sessionID"`
}
