// Package sink defines output backends for session status and diagnostics
// reports.
package sink

import (
	"context"

	"github.com/hazyhaar/densefeed/diagnostics"
)

// StatusType is the message type of a Status.
const StatusType = "DEBUG_INFO"

// Status announces a session state change to the host.
type Status struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
}

// Sink is the output interface. Implementations deliver messages to
// different backends (stdout, in-process callback).
type Sink interface {
	SendStatus(ctx context.Context, st Status) error
	SendReport(ctx context.Context, rep diagnostics.Report) error
	Close() error
}
