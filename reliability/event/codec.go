package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Transport fields ride next to the envelope on a stream entry. They are
// owned by the consumer and never become part of the envelope.
const (
	FieldRetry             = "retry"
	FieldLastError         = "last_error"
	FieldRetryDelaySeconds = "retry_delay_seconds"
)

var traceFields = []string{"traceparent", "tracestate", "baggage"}

// Delivery is the per-message transport state of a stream entry.
type Delivery struct {
	Retry             int
	LastError         string
	RetryDelaySeconds int
	// Trace holds W3C propagation fields, when the producer injected them.
	Trace map[string]string
}

// Encode flattens the envelope into XADD field/value pairs. Scalars become
// strings, nested values are JSON encoded and nil values are skipped.
func Encode(e Envelope, d Delivery) (map[string]any, error) {
	flat := make(map[string]any)

	for k, v := range e.Map() {
		encoded, ok, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}

		if ok {
			flat[k] = encoded
		}
	}

	if d.Retry > 0 {
		flat[FieldRetry] = strconv.Itoa(d.Retry)
	}

	if d.LastError != "" {
		flat[FieldLastError] = d.LastError
	}

	if d.RetryDelaySeconds > 0 {
		flat[FieldRetryDelaySeconds] = strconv.Itoa(d.RetryDelaySeconds)
	}

	for _, key := range traceFields {
		if v := d.Trace[key]; v != "" {
			flat[key] = v
		}
	}

	return flat, nil
}

// EncodeMap flattens an arbitrary JSON object the same way Encode does.
func EncodeMap(m map[string]any) (map[string]any, error) {
	flat := make(map[string]any, len(m))

	for k, v := range m {
		encoded, ok, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}

		if ok {
			flat[k] = encoded
		}
	}

	return flat, nil
}

func encodeValue(v any) (string, bool, error) {
	switch val := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return val, true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	case int:
		return strconv.Itoa(val), true, nil
	case int64:
		return strconv.FormatInt(val, 10), true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", false, err
		}

		return string(b), true, nil
	}
}

// DecodeMap reverses EncodeMap: string values that look like JSON objects
// or arrays and parse cleanly become structured again.
func DecodeMap(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))

	for k, v := range fields {
		out[k] = decodeValue(v)
	}

	return out
}

func decodeValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return s
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return s
	}

	return parsed
}

// Decode rebuilds the envelope and delivery state from stream fields.
func Decode(fields map[string]any) (Envelope, Delivery, error) {
	decoded := DecodeMap(fields)

	d := Delivery{
		Retry:             intValue(decoded[FieldRetry]),
		LastError:         stringValue(decoded[FieldLastError]),
		RetryDelaySeconds: intValue(decoded[FieldRetryDelaySeconds]),
	}

	delete(decoded, FieldRetry)
	delete(decoded, FieldLastError)
	delete(decoded, FieldRetryDelaySeconds)

	for _, key := range traceFields {
		if v := stringValue(decoded[key]); v != "" {
			if d.Trace == nil {
				d.Trace = map[string]string{}
			}

			d.Trace[key] = v
		}

		delete(decoded, key)
	}

	e, err := FromMap(decoded)
	if err != nil {
		return Envelope{}, d, err
	}

	return e, d, nil
}

func intValue(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case float64:
		return int(val)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0
		}

		return n
	default:
		return 0
	}
}
