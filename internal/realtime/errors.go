package realtime

import "fmt"

// Connection stages reported in ConnectionError.
const (
	StagePeer      = "peer"
	StageMedia     = "media"
	StageNegotiate = "negotiate"
	StageAnswer    = "answer"
)

// ConnectionError reports a failed attempt to establish the realtime
// connection. Status is set when the SDP exchange got an HTTP response.
type ConnectionError struct {
	Stage  string
	Status int
	Detail string
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := "realtime connection failed at " + e.Stage
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }
