package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lgesuellip/barber-booker/internal/whatsapp"
)

// Sender is the outbound capability of the provider client.
type Sender interface {
	ContentRegistrar
	SendText(ctx context.Context, to, body string) error
	SendContent(ctx context.Context, to, contentSID string, vars map[string]string) error
}

type Kind string

const (
	KindPlainText Kind = "plain_text"
	KindAction    Kind = "action"
)

// Path is the rendering that produced the delivered message.
type Path string

const (
	PathText         Path = "text"
	PathCallToAction Path = "call_to_action"
	PathTemplate     Path = "template"
	PathCarousel     Path = "carousel"
	PathFallback     Path = "fallback"
)

type State string

const (
	StateSent       State = "sent"
	StateSendFailed State = "send_failed"
)

// Result describes one dispatch. Text is the visible text that was delivered,
// or that would have been when State is StateSendFailed.
type Result struct {
	Kind       Kind
	Path       Path
	State      State
	Text       string
	ContentSID string
	// RenderErr is the *TemplateRenderError that caused a fallback.
	RenderErr error
}

// TemplateRenderError is any failure on a rich rendering path. It is logged
// and answered with the plain text fallback.
type TemplateRenderError struct {
	Mode       ActionMode
	Stage      string
	ContentSID string
	Err        error
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("render %s (%s): %v", e.Mode, e.Stage, e.Err)
}

func (e *TemplateRenderError) Unwrap() error { return e.Err }

// SendError means nothing could be delivered.
type SendError struct {
	To  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

const (
	stageRender   = "render"
	stageRegister = "register"
	stageSend     = "send"
)

// Dispatcher renders a Normalized reply and sends exactly one message.
type Dispatcher struct {
	sender  Sender
	catalog CatalogProvider
	cache   *ContentCache
	logger  *zap.Logger
}

func NewDispatcher(sender Sender, catalog CatalogProvider, cache *ContentCache, logger *zap.Logger) *Dispatcher {
	if cache == nil {
		cache = NewContentCache(nil, logger)
	}
	return &Dispatcher{
		sender:  sender,
		catalog: catalog,
		cache:   cache,
		logger:  logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, to string, n Normalized) (Result, error) {
	switch r := n.(type) {
	case PlainText:
		return d.sendPlain(ctx, to, KindPlainText, PathText, r.Body)
	case ActionReply:
		return d.dispatchAction(ctx, to, r)
	default:
		return Result{State: StateSendFailed}, &SendError{To: to, Err: fmt.Errorf("unsupported reply type %T", n)}
	}
}

func (d *Dispatcher) dispatchAction(ctx context.Context, to string, r ActionReply) (Result, error) {
	cat := d.catalog.Current()

	if r.Button.URL == "" && len(r.Cards) == 0 {
		return d.sendPlain(ctx, to, KindAction, PathText, r.Text)
	}

	mode := selectMode(r, cat)
	visible := r.Text
	if r.Button.URL != "" && (r.Button.IncludeURL || (mode == ModeCarousel && !cardsCarry(r))) {
		visible = appendURL(visible, EnsureScheme(r.Button.URL, cat.URLPrefix))
	}

	var (
		res Result
		err error
	)
	switch mode {
	case ModeCarousel:
		res, err = d.sendCarousel(ctx, to, cat, r, visible)
	case ModeTemplate:
		res, err = d.sendTemplate(ctx, to, cat, r, visible)
	default:
		res, err = d.sendCallToAction(ctx, to, cat, r, visible)
	}
	if err == nil {
		res.Kind = KindAction
		res.State = StateSent
		res.Text = visible
		return res, nil
	}

	var renderErr *TemplateRenderError
	if !errors.As(err, &renderErr) {
		renderErr = &TemplateRenderError{Mode: mode, Stage: stageSend, Err: err}
	}
	d.logger.Warn("rich reply failed, falling back to text",
		zap.String("to", to),
		zap.String("mode", string(mode)),
		zap.String("stage", renderErr.Stage),
		zap.Error(renderErr.Err),
	)

	res, sendErr := d.sendPlain(ctx, to, KindAction, PathFallback, fallbackText(r, cat.URLPrefix))
	res.RenderErr = renderErr
	return res, sendErr
}

func selectMode(r ActionReply, cat *Catalog) ActionMode {
	switch {
	case len(r.Cards) > 0:
		return ModeCarousel
	case r.Button.UseCTA != nil && *r.Button.UseCTA:
		return ModeCallToAction
	case r.Button.UseCTA != nil:
		return ModeTemplate
	default:
		return cat.DefaultAction
	}
}

// cardsCarry reports whether some card renders the button URL, either as
// its own link or by inheriting it.
func cardsCarry(r ActionReply) bool {
	if len(r.Cards) == 0 {
		return true
	}
	for _, c := range r.Cards {
		if c.URL == "" || c.URL == r.Button.URL {
			return true
		}
	}
	return false
}

func (d *Dispatcher) sendPlain(ctx context.Context, to string, kind Kind, path Path, text string) (Result, error) {
	res := Result{Kind: kind, Path: path, Text: text}
	if err := d.sender.SendText(ctx, to, text); err != nil {
		res.State = StateSendFailed
		return res, &SendError{To: to, Err: err}
	}
	res.State = StateSent
	return res, nil
}

// sendCallToAction registers a call-to-action content whose body and URL
// suffix are variables, so one registration serves every reply with the
// same button title.
func (d *Dispatcher) sendCallToAction(ctx context.Context, to string, cat *Catalog, r ActionReply, visible string) (Result, error) {
	title := Truncate(firstNonEmpty(r.Button.Title, cat.CallToAction.DefaultTitle), cat.Limits.ButtonTitle)

	action := whatsapp.CardAction{Type: whatsapp.ActionTypeURL, Title: title}
	vars := map[string]string{"1": visible}
	samples := map[string]string{"1": "Hello"}
	if suffix, ok := templateVariable(r.Button.URL, cat.URLPrefix); ok {
		action.URL = cat.URLPrefix + "{{2}}"
		vars["2"] = suffix
		samples["2"] = "example.com"
	} else {
		action.URL = r.Button.URL
	}

	req := whatsapp.ContentCreateRequest{
		FriendlyName: cat.CallToAction.FriendlyName,
		Language:     cat.Language,
		Variables:    samples,
		Types: whatsapp.ContentTypes{
			CallToAction: &whatsapp.CallToActionType{
				Body:    "{{1}}",
				Actions: []whatsapp.CardAction{action},
			},
		},
	}
	return d.registerAndSend(ctx, to, ModeCallToAction, PathCallToAction, req, vars)
}

func (d *Dispatcher) sendTemplate(ctx context.Context, to string, cat *Catalog, r ActionReply, visible string) (Result, error) {
	sid := cat.Template.ContentSID
	if sid == "" {
		return Result{}, &TemplateRenderError{Mode: ModeTemplate, Stage: stageRender, Err: errors.New("no template content_sid configured")}
	}
	suffix, ok := templateVariable(r.Button.URL, cat.URLPrefix)
	if !ok {
		return Result{}, &TemplateRenderError{
			Mode:       ModeTemplate,
			Stage:      stageRender,
			ContentSID: sid,
			Err:        fmt.Errorf("url %q does not fit template prefix %q", r.Button.URL, cat.URLPrefix),
		}
	}

	vars := map[string]string{
		cat.Template.Variables.Text: visible,
		cat.Template.Variables.URL:  suffix,
	}
	if err := d.sender.SendContent(ctx, to, sid, vars); err != nil {
		return Result{}, &TemplateRenderError{Mode: ModeTemplate, Stage: stageSend, ContentSID: sid, Err: err}
	}
	return Result{Path: PathTemplate, ContentSID: sid}, nil
}

func (d *Dispatcher) sendCarousel(ctx context.Context, to string, cat *Catalog, r ActionReply, visible string) (Result, error) {
	options := r.Cards
	if len(options) == 0 {
		options = []Card{{
			Title:       cat.Carousel.CardTitle,
			Body:        r.Text,
			URL:         r.Button.URL,
			ButtonTitle: r.Button.Title,
		}}
	}
	if len(options) > cat.Limits.Cards {
		d.logger.Warn("dropping carousel cards over limit",
			zap.Int("cards", len(options)),
			zap.Int("limit", cat.Limits.Cards),
		)
		options = options[:cat.Limits.Cards]
	}

	cards := make([]whatsapp.Card, 0, len(options))
	for i, opt := range options {
		media := firstNonEmpty(opt.Media, cat.Carousel.MediaURL)
		if media == "" {
			return Result{}, &TemplateRenderError{Mode: ModeCarousel, Stage: stageRender, Err: fmt.Errorf("card %d has no media", i)}
		}
		link := firstNonEmpty(opt.URL, r.Button.URL)
		if link == "" {
			return Result{}, &TemplateRenderError{Mode: ModeCarousel, Stage: stageRender, Err: fmt.Errorf("card %d has no url", i)}
		}
		cards = append(cards, whatsapp.Card{
			Title: opt.Title,
			Body:  Truncate(opt.Body, cat.Limits.CardBody),
			Media: media,
			Actions: []whatsapp.CardAction{{
				Type:  whatsapp.ActionTypeURL,
				Title: Truncate(firstNonEmpty(opt.ButtonTitle, cat.CallToAction.DefaultTitle), cat.Limits.ButtonTitle),
				URL:   EnsureScheme(link, cat.URLPrefix),
			}},
		})
	}

	req := whatsapp.ContentCreateRequest{
		FriendlyName: cat.Carousel.FriendlyName,
		Language:     cat.Language,
		Types: whatsapp.ContentTypes{
			Carousel: &whatsapp.CarouselType{Body: visible, Cards: cards},
		},
	}
	return d.registerAndSend(ctx, to, ModeCarousel, PathCarousel, req, nil)
}

// registerAndSend resolves req to a content SID and sends it. Registration
// and send are not atomic: a registration left unused by a failed send is
// only logged.
func (d *Dispatcher) registerAndSend(ctx context.Context, to string, mode ActionMode, path Path, req whatsapp.ContentCreateRequest, vars map[string]string) (Result, error) {
	sid, created, err := d.cache.Resolve(ctx, d.sender, req)
	if err != nil {
		return Result{}, &TemplateRenderError{Mode: mode, Stage: stageRegister, Err: err}
	}

	if err := d.sender.SendContent(ctx, to, sid, vars); err != nil {
		if created {
			d.logger.Warn("orphaned content registration", zap.String("content_sid", sid), zap.Error(err))
		} else {
			d.cache.Forget(req)
		}
		return Result{}, &TemplateRenderError{Mode: mode, Stage: stageSend, ContentSID: sid, Err: err}
	}
	return Result{Path: path, ContentSID: sid}, nil
}

// fallbackText keeps every link of r visible as plain text: the button URL
// first, then one "Title: url" line per card.
func fallbackText(r ActionReply, prefix string) string {
	lines := make([]string, 0, 1+len(r.Cards))
	if r.Button.URL != "" {
		lines = append(lines, EnsureScheme(r.Button.URL, prefix))
	}
	for _, c := range r.Cards {
		if c.URL == "" {
			continue
		}
		u := EnsureScheme(c.URL, prefix)
		if c.Title != "" {
			u = c.Title + ": " + u
		}
		lines = append(lines, u)
	}
	return appendURL(r.Text, strings.Join(lines, "\n"))
}

func appendURL(text, u string) string {
	switch {
	case u == "":
		return text
	case text == "":
		return u
	}
	return text + "\n\n" + u
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// TextOf renders n as plain text with every link visible, for surfaces that
// cannot show buttons.
func TextOf(n Normalized) string {
	switch r := n.(type) {
	case PlainText:
		return r.Body
	case ActionReply:
		return fallbackText(r, "")
	}
	return ""
}
