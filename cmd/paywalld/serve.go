package main

import (
	"context"
	"crypto/rand"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paywalld/paywalld/internal/broadcast"
	"github.com/paywalld/paywalld/internal/config"
	"github.com/paywalld/paywalld/internal/ledger"
	"github.com/paywalld/paywalld/internal/logger"
	"github.com/paywalld/paywalld/internal/paywall"
	"github.com/paywalld/paywalld/internal/records"
	"github.com/paywalld/paywalld/internal/server"
	"github.com/paywalld/paywalld/internal/session"
	"github.com/paywalld/paywalld/internal/sse"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the paywall server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServer(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	},
}

func runServer() error {
	env := viper.GetString("ENV")

	params, err := config.NetworkParams()
	if err != nil {
		return err
	}

	endpoints, err := config.MAPIEndpoints()
	if err != nil {
		return err
	}

	paths := records.NewSitePath(viper.GetString("data_path"), viper.GetString("content_path"))
	if err := paths.EnsureDirs(); err != nil {
		return err
	}

	ledg, err := ledger.Open(viper.GetString("ledger_db_path"))
	if err != nil {
		return err
	}
	defer ledg.Close()

	prices := paywall.NewPriceSource(paths.FilePath(viper.GetString("pricelist_file")))
	if err := prices.Reload(); err != nil {
		logger.Errorf("initial price list load failed: %v", err)
	}
	xPub := paywall.NewXPubSource(paths.FilePath(viper.GetString("xpub_file")))
	if err := xPub.Reload(); err != nil {
		logger.Errorf("initial xpub load failed: %v", err)
	}

	coordinator := paywall.NewCoordinator(
		viper.GetString("domain"), params,
		records.NewStore(paths), session.NewLockTable(), sse.NewHub(),
		broadcast.NewClient(endpoints), ledg,
		prices, xPub, viper.GetInt64("worker_id"),
	)

	sessions := session.NewManager(cookieSecret(env))

	app := server.NewApp(env, viper.GetString("listen_addr"), viper.GetString("static_path"),
		coordinator, sessions)

	stop := make(chan struct{})
	go reloadLoop(stop, viper.GetDuration("pricelist_reload_interval"), prices.Reload, "price list")
	go reloadLoop(stop, viper.GetDuration("xpub_reload_interval"), xPub.Reload, "xpub")

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(stop)
		return err
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
		close(stop)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			return err
		}
		return <-errCh
	}
}

// reloadLoop re-reads a source on a fixed interval. A failed reload keeps
// the previous generation and is only logged.
func reloadLoop(stop <-chan struct{}, interval time.Duration, reload func() error, name string) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := reload(); err != nil {
				logger.Errorf("%s reload failed: %v", name, err)
			}
		}
	}
}

// cookieSecret returns the configured session signing secret. Development
// falls back to a random per-run secret; production must configure one so
// sessions survive restarts.
func cookieSecret(env string) []byte {
	if secret := viper.GetString("cookie_secret"); secret != "" {
		return []byte(secret)
	}
	if env == "production" {
		log.Fatal("cookie_secret must be set in production")
	}
	logger.Info("cookie_secret not set, using a random per-run secret")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("Error generating cookie secret: %v", err)
	}
	return secret
}
