package metrics

import (
	"fmt"
	"time"
)

// Outcome classifies a completed attempt. The set is closed: every failure is
// either a transport failure or a status failure.
type Outcome uint8

const (
	// Success means a response was received with an acceptable status.
	Success Outcome = iota
	// TransportFailure means no HTTP status was obtained (connection, timeout, TLS, DNS).
	TransportFailure
	// StatusFailure means a response arrived but its status was not acceptable.
	StatusFailure

	numOutcomes
)

var outcomeNames = [numOutcomes]string{
	Success:          "success",
	TransportFailure: "transport",
	StatusFailure:    "status",
}

func (o Outcome) String() string {
	if o < numOutcomes {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// MarshalText renders the outcome by name so reports stay readable.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// IsFailure reports whether the outcome counts towards the error rate.
func (o Outcome) IsFailure() bool {
	return o != Success
}

func (o Outcome) valid() bool {
	return o < numOutcomes
}

// Sample describes one completed HTTP attempt. It is passed by value and
// recorded exactly once.
type Sample struct {
	Duration   time.Duration
	Outcome    Outcome
	Bytes      int64 // response payload received
	BytesSent  int64 // request payload sent
	Timestamp  time.Time
	StatusCode int    // 0 when no response was received
	Reason     string // transport failure reason, empty otherwise
	Endpoint   string // optional label for per-endpoint breakdowns
}
