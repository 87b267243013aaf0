package reply_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/lgesuellip/barber-booker/internal/reply"
	"github.com/lgesuellip/barber-booker/internal/store"
	"github.com/lgesuellip/barber-booker/internal/whatsapp"
)

type sentContent struct {
	To   string
	SID  string
	Vars map[string]string
}

type fakeSender struct {
	mu       sync.Mutex
	texts    []string
	contents []sentContent
	created  []whatsapp.ContentCreateRequest

	textErr    error
	contentErr error
	createErr  error
}

func (f *fakeSender) SendText(_ context.Context, _, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, body)
	return f.textErr
}

func (f *fakeSender) SendContent(_ context.Context, to, sid string, vars map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contents = append(f.contents, sentContent{To: to, SID: sid, Vars: vars})
	return f.contentErr
}

func (f *fakeSender) CreateContent(_ context.Context, req whatsapp.ContentCreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return "HX" + strings.Repeat("0", len(f.created)), nil
}

func boolPtr(b bool) *bool { return &b }

var _ = Describe("Dispatcher", func() {
	const to = "whatsapp:+15551234"

	var (
		ctx        context.Context
		sender     *fakeSender
		catalog    *reply.Catalog
		db         *store.BoltStore
		dispatcher *reply.Dispatcher
	)

	BeforeEach(func() {
		ctx = context.Background()
		sender = &fakeSender{}

		var err error
		catalog, err = reply.DefaultCatalog()
		Expect(err).NotTo(HaveOccurred())

		db, err = store.NewBoltStore(filepath.Join(GinkgoT().TempDir(), "booker.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)

		dispatcher = reply.NewDispatcher(sender, catalog, reply.NewContentCache(db, zap.NewNop()), zap.NewNop())
	})

	Describe("plain text", func() {
		It("sends the body unchanged", func() {
			res, err := dispatcher.Dispatch(ctx, to, reply.PlainText{Body: "  See you at 10  "})

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.texts).To(Equal([]string{"  See you at 10  "}))
			Expect(res.Path).To(Equal(reply.PathText))
			Expect(res.State).To(Equal(reply.StateSent))
			Expect(res.Kind).To(Equal(reply.KindPlainText))
		})

		It("returns a SendError when the send fails", func() {
			sender.textErr = errors.New("twilio down")

			res, err := dispatcher.Dispatch(ctx, to, reply.PlainText{Body: "hi"})

			var sendErr *reply.SendError
			Expect(errors.As(err, &sendErr)).To(BeTrue())
			Expect(sendErr.To).To(Equal(to))
			Expect(res.State).To(Equal(reply.StateSendFailed))
			Expect(res.Text).To(Equal("hi"))
		})

		It("sends an action without a URL as its text", func() {
			res, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{Text: "no link today"})

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.texts).To(Equal([]string{"no link today"}))
			Expect(sender.contents).To(BeEmpty())
			Expect(res.Kind).To(Equal(reply.KindAction))
		})
	})

	Describe("call to action", func() {
		It("renders the OAuth handoff with the scheme stripped", func() {
			res, err := dispatcher.Dispatch(ctx, to, reply.Classify(oauthReply))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(reply.PathCallToAction))
			Expect(res.Text).To(Equal("Hi! Authorize here"))

			Expect(sender.created).To(HaveLen(1))
			cta := sender.created[0].Types.CallToAction
			Expect(cta).NotTo(BeNil())
			Expect(cta.Body).To(Equal("{{1}}"))
			Expect(cta.Actions).To(Equal([]whatsapp.CardAction{
				{Type: whatsapp.ActionTypeURL, Title: "Authorize Access", URL: "https://{{2}}"},
			}))

			Expect(sender.contents).To(Equal([]sentContent{{
				To:  to,
				SID: res.ContentSID,
				Vars: map[string]string{
					"1": "Hi! Authorize here",
					"2": "accounts.example.com/auth",
				},
			}}))
			Expect(sender.texts).To(BeEmpty())
		})

		It("registers the content once and reuses it", func() {
			for range 3 {
				_, err := dispatcher.Dispatch(ctx, to, reply.Classify(oauthReply))
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(sender.created).To(HaveLen(1))
			Expect(sender.contents).To(HaveLen(3))
		})

		It("truncates the button title to 25 runes", func() {
			_, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text:   "Authorize",
				Button: reply.Button{Title: strings.Repeat("é", 30), URL: "https://a.io"},
			})

			Expect(err).NotTo(HaveOccurred())
			title := sender.created[0].Types.CallToAction.Actions[0].Title
			Expect([]rune(title)).To(HaveLen(25))
		})

		It("uses the catalog title when the button has none", func() {
			_, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{Text: "t", Button: reply.Button{URL: "https://a.io"}})

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.created[0].Types.CallToAction.Actions[0].Title).To(Equal("Open link"))
		})

		It("registers a URL with another scheme literally", func() {
			_, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text:   "Call us",
				Button: reply.Button{Title: "Call", URL: "tel:+15550000", UseCTA: boolPtr(true)},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.created[0].Types.CallToAction.Actions[0].URL).To(Equal("tel:+15550000"))
			Expect(sender.contents[0].Vars).To(Equal(map[string]string{"1": "Call us"}))
		})

		It("passes a URL without scheme through as the variable", func() {
			_, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{Text: "t", Button: reply.Button{URL: "a.io/x"}})

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.contents[0].Vars["2"]).To(Equal("a.io/x"))
		})

		It("treats a dotless host with a port as schemeless", func() {
			_, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{Text: "t", Button: reply.Button{URL: "localhost:8080/cb"}})

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.created[0].Types.CallToAction.Actions[0].URL).To(Equal("https://{{2}}"))
			Expect(sender.contents[0].Vars["2"]).To(Equal("localhost:8080/cb"))
		})

		It("appends the URL to the text when include_url is set", func() {
			res, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text:   "Authorize",
				Button: reply.Button{URL: "https://a.io/x", IncludeURL: true},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.contents[0].Vars["1"]).To(Equal("Authorize\n\nhttps://a.io/x"))
			Expect(res.Text).To(Equal("Authorize\n\nhttps://a.io/x"))
		})
	})

	Describe("fallback", func() {
		It("sends text and full URL when registration fails", func() {
			sender.createErr = errors.New("content API unavailable")

			res, err := dispatcher.Dispatch(ctx, to, reply.Classify(oauthReply))

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.texts).To(Equal([]string{"Hi! Authorize here\n\nhttps://accounts.example.com/auth"}))
			Expect(res.Path).To(Equal(reply.PathFallback))
			Expect(res.State).To(Equal(reply.StateSent))

			var renderErr *reply.TemplateRenderError
			Expect(errors.As(res.RenderErr, &renderErr)).To(BeTrue())
			Expect(renderErr.Mode).To(Equal(reply.ModeCallToAction))
			Expect(renderErr.Stage).To(Equal("register"))
		})

		It("falls back when the send after registration fails", func() {
			sender.contentErr = errors.New("63016")

			res, err := dispatcher.Dispatch(ctx, to, reply.Classify(oauthReply))

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.created).To(HaveLen(1))
			Expect(res.Path).To(Equal(reply.PathFallback))
			Expect(sender.texts[0]).To(ContainSubstring("Hi! Authorize here"))
			Expect(sender.texts[0]).To(ContainSubstring("https://accounts.example.com/auth"))
		})

		It("re-registers after a cached content is rejected", func() {
			_, err := dispatcher.Dispatch(ctx, to, reply.Classify(oauthReply))
			Expect(err).NotTo(HaveOccurred())

			sender.contentErr = errors.New("content deleted")
			_, err = dispatcher.Dispatch(ctx, to, reply.Classify(oauthReply))
			Expect(err).NotTo(HaveOccurred())

			sender.contentErr = nil
			_, err = dispatcher.Dispatch(ctx, to, reply.Classify(oauthReply))
			Expect(err).NotTo(HaveOccurred())

			Expect(sender.created).To(HaveLen(2))
		})

		It("returns a SendError when the fallback also fails", func() {
			sender.createErr = errors.New("content API unavailable")
			sender.textErr = errors.New("messages API unavailable")

			res, err := dispatcher.Dispatch(ctx, to, reply.Classify(oauthReply))

			var sendErr *reply.SendError
			Expect(errors.As(err, &sendErr)).To(BeTrue())
			Expect(res.State).To(Equal(reply.StateSendFailed))
			Expect(res.Text).To(Equal("Hi! Authorize here\n\nhttps://accounts.example.com/auth"))
		})
	})

	Describe("template", func() {
		BeforeEach(func() {
			catalog.Template.ContentSID = "HXtemplate"
		})

		It("sends the configured template when use_cta is false", func() {
			res, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text:   "Hi! Authorize here",
				Button: reply.Button{URL: "https://accounts.example.com/auth", UseCTA: boolPtr(false)},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(reply.PathTemplate))
			Expect(sender.created).To(BeEmpty())
			Expect(sender.contents).To(Equal([]sentContent{{
				To:   to,
				SID:  "HXtemplate",
				Vars: map[string]string{"1": "Hi! Authorize here", "2": "accounts.example.com/auth"},
			}}))
		})

		It("binds the catalog variable names", func() {
			catalog.Template.Variables = reply.TemplateVariables{Text: "reply_text", URL: "auth_link"}
			catalog.DefaultAction = reply.ModeTemplate

			_, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{Text: "t", Button: reply.Button{URL: "https://a.io"}})

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.contents[0].Vars).To(Equal(map[string]string{"reply_text": "t", "auth_link": "a.io"}))
		})

		It("falls back when the URL scheme cannot be represented", func() {
			res, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text:   "Plain link",
				Button: reply.Button{URL: "http://insecure.io", UseCTA: boolPtr(false)},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(sender.contents).To(BeEmpty())
			Expect(sender.texts).To(Equal([]string{"Plain link\n\nhttp://insecure.io"}))
			Expect(res.RenderErr).To(HaveOccurred())
		})

		It("falls back when no template is configured", func() {
			catalog.Template.ContentSID = ""

			res, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text:   "t",
				Button: reply.Button{URL: "https://a.io", UseCTA: boolPtr(false)},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(reply.PathFallback))
		})
	})

	Describe("carousel", func() {
		It("builds one card per option", func() {
			long := strings.Repeat("a", 200)
			res, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text: "Pick a slot",
				Cards: []reply.Card{
					{Title: "Mon", Body: long, URL: "https://b.io/1", ButtonTitle: "Book this slot right now please"},
					{Title: "Tue", Body: "11:00", URL: "b.io/2", Media: "https://img/2.png"},
				},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(reply.PathCarousel))
			Expect(sender.contents).To(HaveLen(1))
			Expect(sender.contents[0].Vars).To(BeNil())

			carousel := sender.created[0].Types.Carousel
			Expect(carousel).NotTo(BeNil())
			Expect(carousel.Body).To(Equal("Pick a slot"))
			Expect(carousel.Cards).To(HaveLen(2))

			first := carousel.Cards[0]
			Expect(first.Body).To(HaveLen(160))
			Expect(first.Media).To(Equal(catalog.Carousel.MediaURL))
			Expect(first.Actions[0].Title).To(Equal("Book this slot right now "))
			Expect(first.Actions[0].URL).To(Equal("https://b.io/1"))

			second := carousel.Cards[1]
			Expect(second.Media).To(Equal("https://img/2.png"))
			Expect(second.Actions[0].URL).To(Equal("https://b.io/2"))
		})

		It("builds a single card from the button by default", func() {
			catalog.DefaultAction = reply.ModeCarousel

			_, err := dispatcher.Dispatch(ctx, to, reply.Classify(oauthReply))

			Expect(err).NotTo(HaveOccurred())
			cards := sender.created[0].Types.Carousel.Cards
			Expect(cards).To(HaveLen(1))
			Expect(cards[0].Title).To(Equal("Calendar Authorization"))
			Expect(cards[0].Body).To(Equal("Hi! Authorize here"))
			Expect(cards[0].Actions[0].Title).To(Equal("Authorize Access"))
		})

		It("falls back with every card URL when media is missing", func() {
			catalog.Carousel.MediaURL = ""

			res, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text: "Pick",
				Cards: []reply.Card{
					{Title: "Mon", URL: "https://b.io/1"},
					{Title: "Tue", URL: "https://b.io/2"},
				},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(reply.PathFallback))
			Expect(sender.created).To(BeEmpty())
			Expect(sender.texts).To(Equal([]string{"Pick\n\nMon: https://b.io/1\nTue: https://b.io/2"}))
		})

		It("lets a card without a link inherit the button URL", func() {
			res, err := dispatcher.Dispatch(ctx, to, reply.Classify(slotsReply))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(reply.PathCarousel))
			Expect(res.Text).To(Equal("Pick a slot"))

			cards := sender.created[0].Types.Carousel.Cards
			Expect(cards).To(HaveLen(2))
			Expect(cards[0].Actions[0]).To(Equal(whatsapp.CardAction{Type: whatsapp.ActionTypeURL, Title: "Book", URL: "https://b.io/1"}))
			Expect(cards[1].Actions[0].URL).To(Equal("https://accounts.example.com/auth"))
		})

		It("shows the button URL in the body when every card has its own link", func() {
			res, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text:   "Pick",
				Button: reply.Button{URL: "accounts.example.com/auth"},
				Cards:  []reply.Card{{Title: "Mon", URL: "https://b.io/1"}},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(reply.PathCarousel))
			Expect(sender.created[0].Types.Carousel.Body).To(Equal("Pick\n\nhttps://accounts.example.com/auth"))
			Expect(res.Text).To(Equal("Pick\n\nhttps://accounts.example.com/auth"))
		})

		It("falls back with the button URL and every card URL", func() {
			sender.createErr = errors.New("content API unavailable")

			res, err := dispatcher.Dispatch(ctx, to, reply.ActionReply{
				Text:   "Pick",
				Button: reply.Button{URL: "https://accounts.example.com/auth"},
				Cards:  []reply.Card{{Title: "Mon", URL: "https://b.io/1"}},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(reply.PathFallback))
			Expect(sender.texts).To(Equal([]string{"Pick\n\nhttps://accounts.example.com/auth\nMon: https://b.io/1"}))
		})

		It("falls back with both links of a classified reply", func() {
			catalog.Carousel.MediaURL = ""

			res, err := dispatcher.Dispatch(ctx, to, reply.Classify(slotsReply))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Path).To(Equal(reply.PathFallback))
			Expect(sender.texts).To(Equal([]string{"Pick a slot\n\nhttps://accounts.example.com/auth\nMon: https://b.io/1"}))
		})
	})
})
