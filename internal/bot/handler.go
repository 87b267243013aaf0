package bot

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/lgesuellip/barber-booker/internal/ai"
	"github.com/lgesuellip/barber-booker/internal/inbound"
	"github.com/lgesuellip/barber-booker/internal/reply"
)

type Parser interface {
	Parse(ctx context.Context, form url.Values) (*inbound.Message, error)
}

type Invoker interface {
	Invoke(ctx context.Context, id, userMessage string, images []ai.Image) (any, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, to string, n reply.Normalized) (reply.Result, error)
}

// Handler runs one inbound message through the agent and sends the reply.
type Handler struct {
	parser       Parser
	agent        Invoker
	dispatcher   Dispatcher
	agentTimeout time.Duration
	logger       *zap.Logger
}

func NewHandler(parser Parser, agent Invoker, dispatcher Dispatcher, agentTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		parser:       parser,
		agent:        agent,
		dispatcher:   dispatcher,
		agentTimeout: agentTimeout,
		logger:       logger,
	}
}

// HandleWebhook is the whatsapp.MessageHandler. The reply normally goes out
// through the REST API and the returned text is empty; when every send failed
// the fallback text is returned for inline delivery.
func (h *Handler) HandleWebhook(ctx context.Context, form url.Values) (string, error) {
	msg, err := h.parser.Parse(ctx, form)
	if err != nil {
		return "", err
	}

	log := h.logger.With(
		zap.String("sender", msg.SenderID),
		zap.String("message_sid", msg.MessageSID),
	)
	log.Info("inbound message",
		zap.Int("text_len", len(msg.Text)),
		zap.Int("images", len(msg.Images)),
	)

	raw, err := h.ask(ctx, msg)
	if err != nil {
		return "", err
	}

	n, perr := reply.ClassifyDetail(raw)
	if perr != nil {
		log.Debug("reply treated as plain text", zap.Error(perr))
	}

	res, err := h.dispatcher.Dispatch(ctx, msg.SenderID, n)
	if err != nil {
		var sendErr *reply.SendError
		if errors.As(err, &sendErr) {
			log.Error("reply delivery failed, answering inline", zap.Error(err))
			return res.Text, nil
		}
		return "", err
	}

	log.Info("reply sent",
		zap.String("kind", string(res.Kind)),
		zap.String("path", string(res.Path)),
		zap.String("content_sid", res.ContentSID),
	)
	return "", nil
}

func (h *Handler) ask(ctx context.Context, msg *inbound.Message) (any, error) {
	if h.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.agentTimeout)
		defer cancel()
	}
	return h.agent.Invoke(ctx, msg.SenderID, msg.Text, ToAgentImages(msg.Images))
}

// ToAgentImages converts inline images to agent content parts. It never
// returns nil so an image-less request still carries an empty list.
func ToAgentImages(refs []inbound.ImageRef) []ai.Image {
	images := make([]ai.Image, 0, len(refs))
	for _, ref := range refs {
		images = append(images, ai.Image{ImageURL: ai.ImageURL{URL: ref.InlineData}})
	}
	return images
}
