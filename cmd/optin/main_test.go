package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantonganh/optin"
	"github.com/quantonganh/optin/bolt"
	"github.com/quantonganh/optin/postgres"
	"github.com/quantonganh/optin/smtp"
	"github.com/quantonganh/optin/sqlite"
)

func testConfig(t *testing.T) *optin.Config {
	config := new(optin.Config)
	config.DB.Type = "sqlite"
	config.DB.Path = filepath.Join(t.TempDir(), "optin.db")
	config.HTTP.Addr = "127.0.0.1:0"
	config.HTTP.BaseURL = "https://optin.example.com"
	config.Email.Provider = "smtp"
	config.Email.From = "newsletter@optin.example.com"
	config.Newsletter.Product.Name = "Optin"
	return config
}

func TestNewStore(t *testing.T) {
	config := testConfig(t)

	db, _, err := newStore(config)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.DB{}, db)

	config.DB.Type = "bolt"
	db, _, err = newStore(config)
	require.NoError(t, err)
	assert.IsType(t, &bolt.DB{}, db)

	config.DB.Type = "postgres"
	config.DB.DSN = "postgres://optin@localhost/optin?sslmode=disable"
	db, _, err = newStore(config)
	require.NoError(t, err)
	assert.IsType(t, &postgres.DB{}, db)

	config.DB.Type = "mongo"
	_, _, err = newStore(config)
	assert.EqualError(t, err, `unsupported database type: "mongo"`)
}

func TestNewGateway(t *testing.T) {
	config := testConfig(t)

	gateway, err := newGateway(context.Background(), config)
	require.NoError(t, err)
	assert.IsType(t, &smtp.Gateway{}, gateway)

	config.Email.Provider = "pigeon"
	_, err = newGateway(context.Background(), config)
	assert.EqualError(t, err, `unsupported email provider: "pigeon"`)
}

func TestAppRunAndClose(t *testing.T) {
	a, err := newApp(testConfig(t), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background()))
	assert.NotNil(t, a.httpServer.SubscriptionService)
	assert.NotNil(t, a.httpServer.NewsletterService)

	resp, err := http.Get(a.httpServer.URL() + "/health_check")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Close())
}
