package models

// -----------------------------------------------------------------------------
// Server state pushed to HTTP/websocket clients
// -----------------------------------------------------------------------------

type MLatestData struct {
	Type      string                     `json:"type"` // "INITIAL" or "UPDATE"
	Date      string                     `json:"date"`
	Records   map[string]MUnifiedMetrics `json:"records"`
	Run       *MRefreshRun               `json:"run,omitempty"`
	Timestamp int64                      `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// SubscribeCommand for client messages
// -----------------------------------------------------------------------------

type MSubscribeCommand struct {
	Command  string   `json:"command"`
	Entities []string `json:"entities"`
}
