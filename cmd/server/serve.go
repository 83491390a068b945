package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-provider/internal/api"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Interval for dropping expired call sessions and OAuth codes.
const sweepInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP server, the webhook forwarder and, unless disabled, the billing scheduler.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	a, cleanup := mustBuildApp()
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.forwarder.Start(ctx)
	if a.cfg.Jobs.Scheduler {
		a.billing.Schedule(ctx, a.billing.Jobs(a.cfg.Jobs)...)
	}
	go a.sweep(ctx)

	router := api.NewRouter(api.Services{
		DB:        a.db,
		OAuth:     a.oauth,
		Customers: a.customers,
		Plans:     a.plans,
		Messages:  a.messages,
		Calls:     a.calls,
		Metrics:   a.metrics,
		Signup:    a.signup,
		Billing:   a.billing,
		Webhooks:  a.webhooks,
		AdminKey:  a.cfg.App.AdminKey,
	})
	srv := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.HTTP.Host, a.cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	cancel()
	a.forwarder.Wait()
	logrus.Info("Server stopped")
}

func (a *app) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			calls := a.calls.Reap(ctx)
			codes := a.oauth.SweepCodes()
			if calls > 0 || codes > 0 {
				logrus.WithFields(logrus.Fields{"call_sessions": calls, "oauth_codes": codes}).Debug("Swept expired entries")
			}
		}
	}
}
