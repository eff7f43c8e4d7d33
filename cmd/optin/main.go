package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/quantonganh/optin"
	"github.com/quantonganh/optin/bolt"
	"github.com/quantonganh/optin/http"
	"github.com/quantonganh/optin/postgres"
	"github.com/quantonganh/optin/rabbitmq"
	"github.com/quantonganh/optin/ses"
	"github.com/quantonganh/optin/smtp"
	"github.com/quantonganh/optin/sqlite"
	"github.com/quantonganh/optin/subscription"
)

func main() {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}

	var config *optin.Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatal(err)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn: config.Sentry.DSN,
	}); err != nil {
		log.Fatalf("sentry.Init: %v", err)
	}
	defer sentry.Flush(2 * time.Second)

	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Logger()

	a, err := newApp(config, logger)
	if err != nil {
		log.Fatalf("%+v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		cancel()
	}()

	if err := a.Run(ctx); err != nil {
		_ = a.Close()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	<-ctx.Done()

	if err := a.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("db.type", "sqlite")
	viper.SetDefault("db.path", "optin.db")
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("http.baseurl", "http://localhost:8080")
	viper.SetDefault("email.provider", "smtp")
	viper.SetDefault("email.timeout", 10*time.Second)
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("newsletter.product.name", "Optin")
	viper.SetDefault("queue.topic", "newsletters")
}

type app struct {
	config     *optin.Config
	logger     zerolog.Logger
	db         optin.Database
	store      optin.SubscriptionStore
	queue      optin.QueueService
	httpServer *http.Server
}

func newApp(config *optin.Config, logger zerolog.Logger) (*app, error) {
	db, store, err := newStore(config)
	if err != nil {
		return nil, err
	}

	return &app{
		config:     config,
		logger:     logger,
		db:         db,
		store:      store,
		httpServer: http.NewServer(logger),
	}, nil
}

func newStore(config *optin.Config) (optin.Database, optin.SubscriptionStore, error) {
	switch config.DB.Type {
	case "sqlite":
		db := sqlite.NewDB(config.DB.Path)
		return db, sqlite.NewSubscriptionStore(db), nil
	case "postgres":
		db := postgres.NewDB(config.DB.DSN)
		return db, postgres.NewSubscriptionStore(db), nil
	case "bolt":
		db := bolt.NewDB(config.DB.Path)
		return db, bolt.NewSubscriptionStore(db), nil
	default:
		return nil, nil, errors.Errorf("unsupported database type: %q", config.DB.Type)
	}
}

func newGateway(ctx context.Context, config *optin.Config) (optin.NotificationGateway, error) {
	switch config.Email.Provider {
	case "smtp":
		return smtp.NewGateway(config), nil
	case "ses":
		return ses.NewGateway(ctx, config)
	default:
		return nil, errors.Errorf("unsupported email provider: %q", config.Email.Provider)
	}
}

func (a *app) Run(ctx context.Context) error {
	if err := a.db.Open(); err != nil {
		return err
	}

	gateway, err := newGateway(ctx, a.config)
	if err != nil {
		return err
	}

	composer := subscription.NewComposer(a.config.Newsletter.Product.Name, a.config.Newsletter.Product.Link, a.config.HTTP.BaseURL)
	publisher := subscription.NewPublisher(a.store, gateway, composer)
	a.httpServer.SubscriptionService = subscription.NewService(a.store, gateway, composer)
	a.httpServer.NewsletterService = publisher

	if a.config.Queue.URL != "" {
		queue, err := rabbitmq.NewQueueService(a.config.Queue.URL)
		if err != nil {
			return err
		}
		a.queue = queue

		go func() {
			if err := publisher.Listen(a.logger.WithContext(ctx), a.queue, a.config.Queue.Topic); err != nil {
				a.logger.Error().Err(err).Msg("Newsletter queue listener stopped")
			}
		}()
	}

	a.httpServer.Addr = a.config.HTTP.Addr

	if err := a.httpServer.Open(); err != nil {
		return err
	}

	a.logger.Info().
		Str("url", a.httpServer.URL()).
		Str("base_url", a.config.HTTP.BaseURL).
		Str("db", a.config.DB.Type).
		Str("email", a.config.Email.Provider).
		Msg("Server started")

	return nil
}

func (a *app) Close() error {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			return err
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Close(); err != nil {
			return err
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return err
		}
	}

	return nil
}
