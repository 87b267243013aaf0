package whatsapp

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// MessageHandler processes one inbound webhook form. The returned text, when
// non-empty, is delivered inline as a TwiML <Message>.
type MessageHandler func(ctx context.Context, form url.Values) (string, error)

// MessagingResponse is the TwiML document returned to Twilio.
// Reference: https://www.twilio.com/docs/messaging/twiml
type MessagingResponse struct {
	XMLName  xml.Name       `xml:"Response"`
	Messages []TwiMLMessage `xml:"Message"`
}

type TwiMLMessage struct {
	Body string `xml:",chardata"`
}

func (r *MessagingResponse) Message(body string) {
	r.Messages = append(r.Messages, TwiMLMessage{Body: body})
}

func (r *MessagingResponse) Marshal() ([]byte, error) {
	out, err := xml.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

type WebhookHandler struct {
	onMessage MessageHandler
	logger    *zap.Logger
}

func NewWebhookHandler(onMessage MessageHandler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		onMessage: onMessage,
		logger:    logger,
	}
}

// HandleIncoming processes an inbound message webhook POST.
func (h *WebhookHandler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("webhook: failed to parse form", zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Twilio gives up on the HTTP call long before a slow agent finishes;
	// the agent timeout bounds the work instead of the client connection.
	ctx := context.WithoutCancel(r.Context())

	text, err := h.onMessage(ctx, r.PostForm)
	if err != nil {
		status := statusFor(err)
		h.logger.Error("webhook: message handling failed",
			zap.String("message_sid", r.PostForm.Get(FieldMessageSID)),
			zap.Int("status", status),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(status), status)
		return
	}

	resp := &MessagingResponse{}
	if text != "" {
		resp.Message(text)
	}
	body, err := resp.Marshal()
	if err != nil {
		h.logger.Error("webhook: failed to render TwiML", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// statusFor maps an error to the HTTP status Twilio should see. Errors that
// know their status expose StatusCode().
func statusFor(err error) int {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}
