package models

// WebhookPayload represents the incoming JSON payload from WhatsApp
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups the changes for one WhatsApp Business Account; ID is the WABA id.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Value ChangeValue `json:"value"`
	Field string      `json:"field"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []MessageStatus  `json:"statuses,omitempty"`
	Calls            []CallUpdate     `json:"calls,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image       *MediaMessage       `json:"image,omitempty"`
	Video       *MediaMessage       `json:"video,omitempty"`
	Audio       *MediaMessage       `json:"audio,omitempty"`
	Document    *MediaMessage       `json:"document,omitempty"`
	Interactive *InteractiveMessage `json:"interactive,omitempty"`
	Type        string              `json:"type"`
}

type MessageStatus struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

type StatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// CallUpdate is one entry of a "calls" field change.
type CallUpdate struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Event     string `json:"event"`
	Status    string `json:"status,omitempty"`
	Direction string `json:"direction,omitempty"`
	Timestamp string `json:"timestamp"`
	Duration  int64  `json:"duration,omitempty"`
}

// MediaMessage represents a media attachment in a WhatsApp message
type MediaMessage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// InteractiveMessage represents an interactive message response
type InteractiveMessage struct {
	Type                string               `json:"type"`
	ButtonReply         *ButtonReply         `json:"button_reply,omitempty"`
	ListReply           *ListReply           `json:"list_reply,omitempty"`
	CallPermissionReply *CallPermissionReply `json:"call_permission_reply,omitempty"`
}

// ButtonReply represents a button click response
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListReply represents a list selection response
type ListReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// CallPermissionReply is the recipient's answer to a call permission request.
type CallPermissionReply struct {
	Response            string `json:"response"`
	ExpirationTimestamp int64  `json:"expiration_timestamp,omitempty"`
	IsPermanent         bool   `json:"is_permanent,omitempty"`
	ResponseSource      string `json:"response_source,omitempty"`
}
