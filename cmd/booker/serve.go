package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lgesuellip/barber-booker/internal/ai"
	"github.com/lgesuellip/barber-booker/internal/bot"
	"github.com/lgesuellip/barber-booker/internal/config"
	"github.com/lgesuellip/barber-booker/internal/inbound"
	"github.com/lgesuellip/barber-booker/internal/logger"
	"github.com/lgesuellip/barber-booker/internal/mcp"
	"github.com/lgesuellip/barber-booker/internal/reply"
	"github.com/lgesuellip/barber-booker/internal/server"
	"github.com/lgesuellip/barber-booker/internal/store"
	"github.com/lgesuellip/barber-booker/internal/whatsapp"
)

const serveLongDesc = `Serve the Twilio WhatsApp webhook.

Inbound messages are forwarded to the LangGraph deployment at LANGGRAPH_URL
and the agent's reply is sent back through the Twilio REST API as plain text,
a call-to-action button, a pre-approved template or a carousel.

Settings come from the environment (and an optional .env file).`

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	port        string
	catalogPath string
	debug       bool
}

func newServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the WhatsApp webhook",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&cmder.port, "port", "", "Listen port (overrides PORT)")
	cmd.Flags().StringVar(&cmder.catalogPath, "catalog", "", "Template catalog YAML (overrides TEMPLATE_CATALOG)")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.port != "" {
		cfg.Port = c.port
	}
	if c.catalogPath != "" {
		cfg.TemplateCatalog = c.catalogPath
	}

	log := logger.NewLogger(cfg.Debug || c.debug)
	defer log.Sync()

	db, err := store.NewBoltStore(filepath.Join(cfg.DataDir, "booker.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	catalogs, err := reply.NewCatalogWatcher(cfg.TemplateCatalog, log.Named("catalog"))
	if err != nil {
		return err
	}

	graphConfig, err := cfg.GraphConfigJSON()
	if err != nil {
		return err
	}

	wa := whatsapp.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.WhatsAppFrom(),
		whatsapp.WithRateLimit(cfg.TwilioSendRate, cfg.TwilioSendBurst),
		whatsapp.WithLogger(log.Named("twilio")),
	)
	agent := ai.NewAgent(cfg.LangGraphURL, cfg.LangGraphAssistantID, cfg.LangGraphAPIKey, graphConfig, log.Named("agent"))
	adapter := inbound.NewAdapter(wa, cfg.MediaTimeout, cfg.MediaMaxBytes, log.Named("inbound"))
	dispatcher := reply.NewDispatcher(wa, catalogs, reply.NewContentCache(db, log.Named("cache")), log.Named("reply"))
	handler := bot.NewHandler(adapter, agent, dispatcher, cfg.AgentTimeout, log.Named("bot"))

	opts := server.Options{
		Webhook: whatsapp.NewWebhookHandler(handler.HandleWebhook, log.Named("webhook")),
		Logger:  log.Named("http"),
	}
	if cfg.ValidateSignature {
		opts.Signature = whatsapp.NewSignatureValidator(cfg.TwilioAuthToken, cfg.BaseURL, log.Named("webhook"))
	}
	if cfg.MCPEnabled {
		opts.MCP = mcp.NewServer(agent, cfg.AgentTimeout, version, log.Named("mcp")).Handler(cfg.MCPToken)
	}

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     server.NewRouter(opts),
		ReadTimeout: 10 * time.Second,
		// The webhook holds the connection for the whole agent run.
		WriteTimeout: cfg.AgentTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return catalogs.Run(gctx)
	})
	g.Go(func() error {
		log.Info("booker listening",
			zap.String("addr", srv.Addr),
			zap.String("langgraph_url", cfg.LangGraphURL),
			zap.String("assistant_id", cfg.LangGraphAssistantID),
			zap.Bool("signature_validation", cfg.ValidateSignature),
			zap.Bool("mcp", cfg.MCPEnabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("booker shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("booker stopped")
	return nil
}
