package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lgesuellip/barber-booker/internal/config"
	"github.com/lgesuellip/barber-booker/internal/logger"
	"github.com/lgesuellip/barber-booker/internal/reply"
	"github.com/lgesuellip/barber-booker/internal/store"
	"github.com/lgesuellip/barber-booker/internal/whatsapp"
)

const sendCTALongDesc = `Send a call-to-action button message to one WhatsApp number.

The message goes through the same renderer the webhook uses, so a failed
content registration falls back to plain text with the link inline.

Examples:
  booker send-cta --to whatsapp:+15551234 --text "Search the web" --url https://www.google.com --title "Go to Google"
  booker send-cta --to whatsapp:+15551234 --url https://accounts.example.com/auth --include-url`

type sendCTACommander struct {
	to          string
	text        string
	url         string
	title       string
	includeURL  bool
	catalogPath string
}

func newSendCTACmd() *cobra.Command {
	cmder := &sendCTACommander{}

	cmd := &cobra.Command{
		Use:   "send-cta",
		Short: "Send an ad-hoc call-to-action message",
		Long:  sendCTALongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.to, "to", "", "Recipient address, e.g. whatsapp:+15551234")
	cmd.Flags().StringVar(&cmder.text, "text", "Search the web", "Message body")
	cmd.Flags().StringVar(&cmder.url, "url", "https://www.google.com", "Button target URL")
	cmd.Flags().StringVar(&cmder.title, "title", "Go to Google", "Button title")
	cmd.Flags().BoolVar(&cmder.includeURL, "include-url", false, "Also show the URL in the message text")
	cmd.Flags().StringVar(&cmder.catalogPath, "catalog", "", "Template catalog YAML (overrides TEMPLATE_CATALOG)")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func (c *sendCTACommander) run(ctx context.Context, cmd *cobra.Command) error {
	if c.url == "" {
		return errors.New("--url must not be empty")
	}

	cfg, err := config.LoadSender()
	if err != nil {
		return err
	}
	if c.catalogPath != "" {
		cfg.TemplateCatalog = c.catalogPath
	}

	log := logger.NewLogger(cfg.Debug)
	defer log.Sync()

	catalog, err := reply.LoadCatalog(cfg.TemplateCatalog)
	if err != nil {
		return err
	}

	db, err := store.NewBoltStore(filepath.Join(cfg.DataDir, "booker.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	wa := whatsapp.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.WhatsAppFrom(),
		whatsapp.WithRateLimit(cfg.TwilioSendRate, cfg.TwilioSendBurst),
		whatsapp.WithLogger(log.Named("twilio")),
	)
	dispatcher := reply.NewDispatcher(wa, catalog, reply.NewContentCache(db, log.Named("cache")), log.Named("reply"))

	useCTA := true
	res, err := dispatcher.Dispatch(ctx, c.to, reply.ActionReply{
		Text: c.text,
		Button: reply.Button{
			Title:      c.title,
			URL:        c.url,
			UseCTA:     &useCTA,
			IncludeURL: c.includeURL,
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s", res.Path, c.to)
	if res.ContentSID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " (content %s)", res.ContentSID)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
