package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EnvelopeVersion is the current payload envelope layout.
const EnvelopeVersion = 1

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// published verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// DecodeEnvelope parses and checks a stored payload. Errors wrap
// ErrMalformedEnvelope and are never worth retrying.
func DecodeEnvelope(payload []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch {
	case env.Version != EnvelopeVersion:
		return PayloadEnvelope{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, env.Version)
	case env.EventID == "":
		return PayloadEnvelope{}, fmt.Errorf("%w: missing event id", ErrMalformedEnvelope)
	case len(env.Data) == 0:
		return PayloadEnvelope{}, fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	return env, nil
}
