package observability

import "time"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEvent describes a websocket lifecycle event for one user connection.
type WSEvent struct {
	Name        string
	UserName    string
	ConnID      string
	DeviceID    string
	IP          string
	ConnectedAt time.Time
	Reason      string
}

// Envelope wraps the event in the shape consumed by the events exchange.
func (e WSEvent) Envelope() EventEnvelope {
	duration := int64(0)
	if !e.ConnectedAt.IsZero() && e.Name != "ws_connect" {
		duration = time.Since(e.ConnectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: e.Name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "chat",
				"event":       e.Name,
				"conn_id":     e.ConnID,
				"duration_ms": duration,
				"reason":      e.Reason,
			},
			"identity": map[string]interface{}{
				"user_name": e.UserName,
				"device_id": e.DeviceID,
				"ip":        e.IP,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
