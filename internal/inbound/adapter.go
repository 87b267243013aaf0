// Package inbound turns a provider webhook form into a self-contained Message,
// downloading image attachments and embedding them as data URIs.
package inbound

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lgesuellip/barber-booker/internal/whatsapp"
)

const (
	DefaultImageMIME = "image/jpeg"

	defaultMediaTimeout = 20 * time.Second
	maxParallelFetches  = 4
	// Twilio caps WhatsApp attachments at 10.
	maxDeclaredMedia = 10
)

// Message is the normalized inbound request handed to the agent.
type Message struct {
	SenderID    string
	Text        string
	Images      []ImageRef
	MessageSID  string
	ProfileName string
}

// ImageRef is one downloaded image. InlineData is fixed once built and never
// re-fetched.
type ImageRef struct {
	SourceURL  string
	InlineData string
}

// MediaFetcher downloads an attachment, returning its bytes and the
// Content-Type reported by the server.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, string, error)
}

type MissingSenderError struct{}

func (e *MissingSenderError) Error() string   { return "missing 'From' in request form" }
func (e *MissingSenderError) StatusCode() int { return http.StatusBadRequest }

// MediaFetchError is logged and the attachment dropped; it never fails a request.
type MediaFetchError struct {
	Index int
	URL   string
	Err   error
}

func (e *MediaFetchError) Error() string {
	return fmt.Sprintf("media %d (%s): %v", e.Index, e.URL, e.Err)
}

func (e *MediaFetchError) Unwrap() error { return e.Err }

type Adapter struct {
	fetcher  MediaFetcher
	timeout  time.Duration
	maxBytes int64
	logger   *zap.Logger
}

func NewAdapter(fetcher MediaFetcher, timeout time.Duration, maxBytes int64, logger *zap.Logger) *Adapter {
	if timeout <= 0 {
		timeout = defaultMediaTimeout
	}
	return &Adapter{
		fetcher:  fetcher,
		timeout:  timeout,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

type mediaEntry struct {
	index       int
	url         string
	contentType string
}

// Parse builds a Message from the webhook form. Only a missing sender fails;
// attachments that cannot be fetched are dropped.
func (a *Adapter) Parse(ctx context.Context, form url.Values) (*Message, error) {
	sender := strings.TrimSpace(form.Get(whatsapp.FieldFrom))
	if sender == "" {
		return nil, &MissingSenderError{}
	}

	msg := &Message{
		SenderID:    sender,
		Text:        strings.TrimSpace(form.Get(whatsapp.FieldBody)),
		MessageSID:  form.Get(whatsapp.FieldMessageSID),
		ProfileName: form.Get(whatsapp.FieldProfileName),
	}

	entries := a.imageEntries(form)
	if len(entries) == 0 {
		msg.Images = []ImageRef{}
		return msg, nil
	}

	results := make([]*ImageRef, len(entries))
	var g errgroup.Group
	g.SetLimit(maxParallelFetches)
	for i, e := range entries {
		g.Go(func() error {
			ref, err := a.fetchImage(ctx, e)
			if err != nil {
				a.logger.Warn("dropping attachment",
					zap.String("sender", sender),
					zap.String("message_sid", msg.MessageSID),
					zap.Error(err),
				)
				return nil
			}
			results[i] = ref
			return nil
		})
	}
	g.Wait()

	msg.Images = make([]ImageRef, 0, len(results))
	for _, ref := range results {
		if ref != nil {
			msg.Images = append(msg.Images, *ref)
		}
	}
	return msg, nil
}

func (a *Adapter) imageEntries(form url.Values) []mediaEntry {
	raw := strings.TrimSpace(form.Get(whatsapp.FieldNumMedia))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		a.logger.Warn("ignoring malformed NumMedia", zap.String("value", raw))
		return nil
	}
	if n > maxDeclaredMedia {
		n = maxDeclaredMedia
	}

	var entries []mediaEntry
	for i := range n {
		u := form.Get(whatsapp.MediaURLField(i))
		ctype := form.Get(whatsapp.MediaContentTypeField(i))
		if u == "" || !isImageType(ctype) {
			continue
		}
		entries = append(entries, mediaEntry{index: i, url: u, contentType: ctype})
	}
	return entries
}

func (a *Adapter) fetchImage(ctx context.Context, e mediaEntry) (*ImageRef, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	data, fetchedType, err := a.fetcher.FetchMedia(fetchCtx, e.url, a.maxBytes)
	if err != nil {
		return nil, &MediaFetchError{Index: e.index, URL: e.url, Err: err}
	}

	return &ImageRef{
		SourceURL:  e.url,
		InlineData: DataURI(chooseImageMIME(e.contentType, fetchedType), data),
	}, nil
}

// DataURI encodes data as an RFC 2397 base64 data URI.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// chooseImageMIME prefers the declared type, then the fetched one, and falls
// back to DefaultImageMIME when neither is an image type.
func chooseImageMIME(declared, fetched string) string {
	for _, candidate := range []string{declared, fetched} {
		if isImageType(candidate) {
			return baseMediaType(candidate)
		}
	}
	return DefaultImageMIME
}

func isImageType(ctype string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ctype)), "image/")
}

func baseMediaType(ctype string) string {
	base, _, _ := strings.Cut(ctype, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
