package observability

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
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

// WSEvent describes a change-feed connection lifecycle event.
func WSEvent(name string, conversationID int64, connID string, userID int64, durationMS int64, reason string) EventEnvelope {
	return EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":            "conversation",
				"conversation_id": conversationID,
				"event":           name,
				"conn_id":         connID,
				"duration_ms":     durationMS,
				"reason":          reason,
			},
			"identity": map[string]interface{}{
				"user_id": userID,
			},
		},
	}
}
