package main

import (
	"context"

	"whatsapp-provider/internal/billing"
	"whatsapp-provider/internal/calls"
	"whatsapp-provider/internal/config"
	"whatsapp-provider/internal/customer"
	"whatsapp-provider/internal/database"
	"whatsapp-provider/internal/janus"
	"whatsapp-provider/internal/mailer"
	"whatsapp-provider/internal/messages"
	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/oauth"
	"whatsapp-provider/internal/plans"
	"whatsapp-provider/internal/signup"
	"whatsapp-provider/internal/webhook"
	"whatsapp-provider/internal/whatsapp"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type app struct {
	cfg       *config.Config
	db        *gorm.DB
	janus     *janus.Client
	forwarder *webhook.Forwarder
	oauth     *oauth.Service
	customers *customer.Service
	plans     *plans.Service
	messages  *messages.Service
	calls     *calls.Service
	metrics   *metrics.Service
	signup    *signup.Service
	billing   *billing.Service
	webhooks  *webhook.Handler
}

// mustBuildApp loads configuration, opens the database and wires every service.
func mustBuildApp() (*app, func()) {
	cfg := mustLoadConfig()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open database")
	}
	if err := database.SyncSettings(db, cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to sync system settings")
	}
	if err := cfg.ValidateProvider(); err != nil {
		logrus.WithError(err).Warn("Provider configuration incomplete")
	}

	planService := plans.NewService(db)
	if err := planService.EnsureDefaults(context.Background()); err != nil {
		logrus.WithError(err).Fatal("Failed to seed subscription plans")
	}
	customers := customer.NewService(db, planService)
	metricsService := metrics.NewService(db, customers)

	meta := whatsapp.NewClient(cfg.Meta)
	gateway := janus.NewClient(cfg.Janus.WSURL, cfg.Janus.Plugin, cfg.Janus.SessionTimeout)
	forwarder := webhook.NewForwarder(cfg.Forward, cfg.Meta.WebhookVerifyToken)

	a := &app{
		cfg:       cfg,
		db:        db,
		janus:     gateway,
		forwarder: forwarder,
		customers: customers,
		plans:     planService,
		metrics:   metricsService,
		oauth: oauth.NewService(customers, oauth.Options{
			Secret:        cfg.TokenSecret(),
			AccessExpiry:  cfg.OAuth.AccessExpiry,
			RefreshExpiry: cfg.OAuth.RefreshExpiry,
			CodeTTL:       cfg.OAuth.CodeTTL,
		}),
		messages: messages.NewService(meta, metricsService, customers),
		calls: calls.NewService(meta, gateway, metricsService, customers, calls.Options{
			STUNServers:    cfg.Janus.STUNServers,
			TURNURL:        cfg.Janus.TURNURL,
			TURNUsername:   cfg.Janus.TURNUsername,
			TURNCredential: cfg.Janus.TURNCredential,
			SessionTTL:     cfg.Janus.RoomExpiry,
		}),
		signup: signup.NewService(db, meta, customers, signup.Options{
			Enabled:         cfg.App.Enabled,
			AppID:           cfg.Meta.AppID,
			ConfigurationID: cfg.Meta.ConfigurationID,
			APIVersion:      cfg.Meta.APIVersion,
			DialogBaseURL:   cfg.Meta.DialogBaseURL,
			CallbackURL:     cfg.App.PublicURL + "/signup/callback",
		}),
		billing: billing.NewService(db, customers, mailer.New(cfg.Mail)),
		webhooks: webhook.NewHandler(
			webhook.NewRouter(customers, forwarder, cfg.Forward.WebhookPath),
			cfg.Meta.WebhookVerifyToken,
			cfg.Meta.AppSecret,
		),
	}

	cleanup := func() {
		gateway.Shutdown()
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close database")
			}
		}
	}
	return a, cleanup
}
