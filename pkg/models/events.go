package models

// Events forwarded to customer apps. They carry routing data only and are
// never persisted by the provider.

type MessageStatusEvent struct {
	Type        string        `json:"type"`
	MessageID   string        `json:"message_id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors"`
}

type InboundMessageEvent struct {
	Type        string  `json:"type"`
	MessageID   string  `json:"message_id"`
	From        string  `json:"from"`
	Timestamp   string  `json:"timestamp"`
	MessageType string  `json:"message_type"`
	Text        *string `json:"text"`
}

type CallPermissionReplyEvent struct {
	Type       string `json:"type"`
	From       string `json:"from"`
	Timestamp  string `json:"timestamp"`
	Response   string `json:"response"`
	Expiration int64  `json:"expiration"`
}

type CallStatusEvent struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Event     string `json:"event,omitempty"`
	Status    string `json:"status"`
	Direction string `json:"direction,omitempty"`
	Timestamp string `json:"timestamp"`
	Duration  int64  `json:"duration,omitempty"`
}

// CallStatusReport is the flat body accepted by the call-status endpoint
// when the reporter is not Meta.
type CallStatusReport struct {
	WabaID    string `json:"waba_id"`
	CallID    string `json:"call_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Duration  int64  `json:"duration"`
}
