package whatsapp

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type,omitempty"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             *TextObj        `json:"text,omitempty"`
	Image            *MediaObj       `json:"image,omitempty"`
	Video            *MediaObj       `json:"video,omitempty"`
	Audio            *MediaObj       `json:"audio,omitempty"`
	Document         *MediaObj       `json:"document,omitempty"`
	Template         *TemplateObj    `json:"template,omitempty"`
	Interactive      *InteractiveObj `json:"interactive,omitempty"`
}

type TextObj struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type MediaObj struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"` // documents only
}

type TemplateObj struct {
	Name     string      `json:"name"`
	Language LanguageObj `json:"language"`
	// Components holds ComponentObj values or customer-supplied JSON passed through as is.
	Components []interface{} `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	SubType    string         `json:"sub_type,omitempty"`
	Index      *int           `json:"index,omitempty"` // buttons
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Payload string `json:"payload,omitempty"`
}

type InteractiveObj struct {
	Type   string    `json:"type"`
	Body   BodyObj   `json:"body"`
	Action ActionObj `json:"action"`
}

type BodyObj struct {
	Text string `json:"text"`
}

type ActionObj struct {
	Name       string      `json:"name,omitempty"`
	Parameters interface{} `json:"parameters,omitempty"`
}

// Media types accepted by SendMedia.
var MediaTypes = []string{"image", "video", "document", "audio"}

func IsMediaType(t string) bool {
	for _, m := range MediaTypes {
		if m == t {
			return true
		}
	}
	return false
}

func NewText(to, body string) GenericMessage {
	return GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &TextObj{Body: body},
	}
}

func NewTemplate(to, name, language string, components []interface{}) GenericMessage {
	return GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "template",
		Template: &TemplateObj{
			Name:       name,
			Language:   LanguageObj{Code: language},
			Components: components,
		},
	}
}

// NewMedia builds a media message. Caption applies to images and videos,
// filename to documents; both are dropped for other types.
func NewMedia(to, mediaType, link, caption, filename string) GenericMessage {
	obj := &MediaObj{Link: link}
	if caption != "" && (mediaType == "image" || mediaType == "video") {
		obj.Caption = caption
	}
	if filename != "" && mediaType == "document" {
		obj.Filename = filename
	}

	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             mediaType,
	}
	switch mediaType {
	case "image":
		msg.Image = obj
	case "video":
		msg.Video = obj
	case "document":
		msg.Document = obj
	case "audio":
		msg.Audio = obj
	}
	return msg
}

const callPermissionBody = "We'd like to call you. Please approve to receive our call."

// NewCallPermissionTemplate uses the pre-approved voice_call_request template,
// for recipients outside the conversation window.
func NewCallPermissionTemplate(to string) GenericMessage {
	index := 0
	return NewTemplate(to, "voice_call_request", "en", []interface{}{
		ComponentObj{Type: "button", SubType: "voice_call", Index: &index, Parameters: []ParameterObj{}},
	})
}

// NewCallPermissionRequest is the interactive form, valid inside the conversation window.
func NewCallPermissionRequest(to string) GenericMessage {
	return GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &InteractiveObj{
			Type: "call_permission_request",
			Body: BodyObj{Text: callPermissionBody},
			Action: ActionObj{
				Name:       "voice_call",
				Parameters: map[string]interface{}{},
			},
		},
	}
}
