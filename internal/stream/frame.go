// ABOUTME: SSE frame encoding for event log entries, the connected greeting and keep-alives
// ABOUTME: Entry payload fields are spread into the frame next to event, sequence and timestamp

package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/2389/coven-context/internal/eventlog"
)

// KeepaliveFrame is an SSE comment; clients ignore it
var KeepaliveFrame = []byte(": keepalive\n\n")

// ConnectedFrame is the first frame every subscriber receives
var ConnectedFrame = []byte("data: {\"event\":\"connected\"}\n\n")

// EncodeFrame renders one entry as an SSE frame. The data line is a JSON
// object holding the payload fields plus event, sequence and timestamp; those
// three win over payload fields with the same name. Keys are sorted.
func EncodeFrame(e *eventlog.Entry) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &fields); err != nil {
			return nil, fmt.Errorf("decoding payload of event %d: %w", e.Sequence, err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}

	topic, err := json.Marshal(e.Topic)
	if err != nil {
		return nil, err
	}
	fields["event"] = topic
	fields["sequence"] = json.RawMessage(strconv.FormatInt(e.Sequence, 10))
	fields["timestamp"] = json.RawMessage(strconv.FormatInt(e.Timestamp, 10))

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding event %d: %w", e.Sequence, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 32)
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatInt(e.Sequence, 10))
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
