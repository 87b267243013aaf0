package whatsapp

import "fmt"

// --- Incoming webhook form fields ---
// Reference: https://www.twilio.com/docs/messaging/guides/webhook-request

const (
	FieldFrom        = "From"
	FieldTo          = "To"
	FieldBody        = "Body"
	FieldMessageSID  = "MessageSid"
	FieldProfileName = "ProfileName"
	FieldNumMedia    = "NumMedia"
)

// MediaURLField and MediaContentTypeField name the per-index media fields.
func MediaURLField(i int) string         { return fmt.Sprintf("MediaUrl%d", i) }
func MediaContentTypeField(i int) string { return fmt.Sprintf("MediaContentType%d", i) }

// --- Messages API ---
// Reference: https://www.twilio.com/docs/messaging/api/message-resource

type MessageResource struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	To           string `json:"to"`
	From         string `json:"from"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// APIError is the error document returned by every Twilio REST endpoint.
type APIError struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio API status %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("twilio API status %d: %s", e.Status, e.Message)
}

// --- Content API ---
// Reference: https://www.twilio.com/docs/content/content-api-resources

type ContentCreateRequest struct {
	FriendlyName string            `json:"friendly_name"`
	Language     string            `json:"language"`
	Variables    map[string]string `json:"variables,omitempty"`
	Types        ContentTypes      `json:"types"`
}

// ContentTypes holds exactly one populated rich content type.
type ContentTypes struct {
	Text         *TextType         `json:"twilio/text,omitempty"`
	CallToAction *CallToActionType `json:"twilio/call-to-action,omitempty"`
	Carousel     *CarouselType     `json:"twilio/carousel,omitempty"`
}

type TextType struct {
	Body string `json:"body"`
}

// Reference: https://www.twilio.com/docs/content/twiliocall-to-action
type CallToActionType struct {
	Body    string       `json:"body"`
	Actions []CardAction `json:"actions"`
}

// Reference: https://www.twilio.com/docs/content/carousel
type CarouselType struct {
	Body  string `json:"body"`
	Cards []Card `json:"cards"`
}

type Card struct {
	Title   string       `json:"title,omitempty"`
	Body    string       `json:"body,omitempty"`
	Media   string       `json:"media,omitempty"`
	Actions []CardAction `json:"actions"`
}

const ActionTypeURL = "URL"

type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

type ContentResource struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Language     string `json:"language"`
}
