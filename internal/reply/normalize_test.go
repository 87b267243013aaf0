package reply_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lgesuellip/barber-booker/internal/reply"
)

const oauthReply = `{"text": "Hi! Authorize here", "button": {"url": "https://accounts.example.com/auth", "text": "Authorize Access"}}`

const slotsReply = `{"text": "Pick a slot", "button": {"url": "https://accounts.example.com/auth", "text": "Authorize"},
	"cards": [{"title": "Mon", "button": {"text": "Book", "url": "https://b.io/1"}}, {"title": "Tue"}]}`

var _ = Describe("Classify", func() {
	Context("with a native object", func() {
		It("returns an ActionReply when text and button are present", func() {
			n := reply.Classify(map[string]any{
				"text":   "Tap below",
				"button": map[string]any{"url": "https://example.com/a", "title": "Open"},
			})

			Expect(n).To(Equal(reply.ActionReply{
				Text:   "Tap below",
				Button: reply.Button{Title: "Open", URL: "https://example.com/a"},
			}))
		})

		It("stringifies an object without a button as JSON", func() {
			n := reply.Classify(map[string]any{"foo": "bar"})

			Expect(n).To(Equal(reply.PlainText{Body: `{"foo":"bar"}`}))
		})

		It("keeps a non-object button as an action without a URL", func() {
			n := reply.Classify(map[string]any{"text": "hi", "button": "later"})

			Expect(n).To(Equal(reply.ActionReply{Text: "hi"}))
		})
	})

	Context("with a JSON string", func() {
		It("decodes the OAuth handoff", func() {
			n, err := reply.ClassifyDetail(oauthReply)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(reply.ActionReply{
				Text:   "Hi! Authorize here",
				Button: reply.Button{Title: "Authorize Access", URL: "https://accounts.example.com/auth"},
			}))
		})

		It("reads use_cta and include_url", func() {
			n := reply.Classify(`{"text": "t", "button": {"url": "https://u.io", "use_cta": false, "include_url": true}}`)

			a, ok := n.(reply.ActionReply)
			Expect(ok).To(BeTrue())
			Expect(a.Button.UseCTA).NotTo(BeNil())
			Expect(*a.Button.UseCTA).To(BeFalse())
			Expect(a.Button.IncludeURL).To(BeTrue())
		})

		It("leaves use_cta unset when absent", func() {
			a := reply.Classify(oauthReply).(reply.ActionReply)

			Expect(a.Button.UseCTA).To(BeNil())
			Expect(a.Button.IncludeURL).To(BeFalse())
		})

		It("sends a JSON object without both fields unmodified", func() {
			raw := `{"text": "just text"}`

			Expect(reply.Classify(raw)).To(Equal(reply.PlainText{Body: raw}))
		})

		It("decodes cards", func() {
			a := reply.Classify(`{"text": "Pick a slot", "button": {}, "cards": [
				{"title": "Mon", "body": "10:00", "url": "https://b.io/1", "button_text": "Book", "media": "https://img/1.png"},
				{"title": "Tue", "text": "11:00", "url": "https://b.io/2", "button": "Reserve"}
			]}`).(reply.ActionReply)

			Expect(a.Cards).To(Equal([]reply.Card{
				{Title: "Mon", Body: "10:00", URL: "https://b.io/1", ButtonTitle: "Book", Media: "https://img/1.png"},
				{Title: "Tue", Body: "11:00", URL: "https://b.io/2", ButtonTitle: "Reserve"},
			}))
		})

		It("reads a card button written as an object", func() {
			a := reply.Classify(slotsReply).(reply.ActionReply)

			Expect(a.Button).To(Equal(reply.Button{Title: "Authorize", URL: "https://accounts.example.com/auth"}))
			Expect(a.Cards).To(Equal([]reply.Card{
				{Title: "Mon", URL: "https://b.io/1", ButtonTitle: "Book"},
				{Title: "Tue"},
			}))
		})

		It("keeps every link in the text rendering", func() {
			text := reply.TextOf(reply.Classify(slotsReply))

			Expect(text).To(Equal("Pick a slot\n\nhttps://accounts.example.com/auth\nMon: https://b.io/1"))
		})
	})

	Context("with lenient or embedded JSON", func() {
		It("accepts single quotes and trailing commas", func() {
			n := reply.Classify(`{'text': 'Hi', 'button': {'url': 'https://x.io', 'text': 'Go',},}`)

			Expect(n).To(Equal(reply.ActionReply{
				Text:   "Hi",
				Button: reply.Button{Title: "Go", URL: "https://x.io"},
			}))
		})

		It("recovers an action wrapped in prose", func() {
			n := reply.Classify(`Sure! {"text": "Link your calendar", "button": {"url": "https://a.io/x"}} Let me know.`)

			Expect(n).To(Equal(reply.ActionReply{
				Text:   "Link your calendar",
				Button: reply.Button{URL: "https://a.io/x"},
			}))
		})

		It("ignores braces inside quoted strings", func() {
			n := reply.Classify(`Here: {"text": "use {curly} }", "button": {"url": "https://a.io"}}`)

			Expect(n).To(Equal(reply.ActionReply{
				Text:   "use {curly} }",
				Button: reply.Button{URL: "https://a.io"},
			}))
		})

		It("reports ambiguity and falls back when nothing decodes", func() {
			raw := `The "button" is {broken`
			n, err := reply.ClassifyDetail(raw)

			Expect(n).To(Equal(reply.PlainText{Body: raw}))
			var amb *reply.ParseAmbiguityError
			Expect(err).To(BeAssignableToTypeOf(amb))
		})

		It("reports ambiguity for malformed JSON", func() {
			n, err := reply.ClassifyDetail("{not json")

			Expect(n).To(Equal(reply.PlainText{Body: "{not json"}))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("with content blocks", func() {
		It("joins text blocks and classifies the result", func() {
			n := reply.Classify([]any{
				map[string]any{"type": "text", "text": `{"text": "a", `},
				map[string]any{"type": "text", "text": `"button": {"url": "https://u.io"}}`},
			})

			Expect(n).To(Equal(reply.ActionReply{Text: "a", Button: reply.Button{URL: "https://u.io"}}))
		})

		It("skips non-text blocks", func() {
			n := reply.Classify([]any{
				map[string]any{"type": "text", "text": "hello "},
				map[string]any{"type": "image_url", "image_url": map[string]any{"url": "data:"}},
				map[string]any{"type": "text", "text": "world"},
			})

			Expect(n).To(Equal(reply.PlainText{Body: "hello world"}))
		})
	})

	DescribeTable("plain text fallback",
		func(raw any, want string) {
			n, err := reply.ClassifyDetail(raw)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(reply.PlainText{Body: want}))
			Expect(reply.KindOf(n)).To(Equal(reply.KindPlainText))
		},
		Entry("plain string", "See you Friday at 10!", "See you Friday at 10!"),
		Entry("string with surrounding space", "  hi  ", "  hi  "),
		Entry("nil", nil, ""),
		Entry("number", 42, "42"),
		Entry("empty list", []any{}, "[]"),
	)
})

var _ = Describe("URL helpers", func() {
	DescribeTable("StripScheme",
		func(raw, prefix, want string) {
			Expect(reply.StripScheme(raw, prefix)).To(Equal(want))
		},
		Entry("strips once", "https://accounts.example.com/auth", "https://", "accounts.example.com/auth"),
		Entry("ignores case", "HTTPS://a.io", "https://", "a.io"),
		Entry("leaves other schemes", "http://a.io", "https://", "http://a.io"),
		Entry("only strips one prefix", "https://https://a.io", "https://", "https://a.io"),
		Entry("empty prefix", "https://a.io", "", "https://a.io"),
	)

	DescribeTable("EnsureScheme",
		func(raw, want string) {
			Expect(reply.EnsureScheme(raw, "https://")).To(Equal(want))
		},
		Entry("adds prefix", "a.io/x", "https://a.io/x"),
		Entry("keeps https", "https://a.io", "https://a.io"),
		Entry("keeps other schemes", "tel:+15551234", "tel:+15551234"),
		Entry("host with port", "a.io:8443/x", "https://a.io:8443/x"),
		Entry("dotless host with port", "localhost:8080/cb", "https://localhost:8080/cb"),
		Entry("bare host and port", "localhost:8080", "https://localhost:8080"),
		Entry("empty", "", ""),
	)

	DescribeTable("HasScheme",
		func(raw string, want bool) {
			Expect(reply.HasScheme(raw)).To(Equal(want))
		},
		Entry("https", "https://a.io", true),
		Entry("tel", "tel:+15551234", true),
		Entry("mailto", "mailto:desk@a.io", true),
		Entry("dotted host and port", "a.io:8443/x", false),
		Entry("dotless host and port", "localhost:8080/cb", false),
		Entry("port before query", "localhost:8080?next=1", false),
		Entry("no colon", "a.io/x", false),
	)

	It("truncates by runes", func() {
		Expect(reply.Truncate("ééééé", 3)).To(Equal("ééé"))
		Expect(reply.Truncate("short", 25)).To(Equal("short"))
	})
})
