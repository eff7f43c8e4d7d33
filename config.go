package optin

import "time"

// Config represents the main config
type Config struct {
	DB struct {
		Type string // "sqlite", "postgres" or "bolt"
		Path string
		DSN  string
	}

	HTTP struct {
		Addr    string
		BaseURL string
	}

	Email struct {
		Provider string // "smtp" or "ses"
		From     string
		Timeout  time.Duration
	}

	SMTP struct {
		Host     string
		Port     int
		Username string
		Password string
	}

	SES struct {
		Region    string
		AccessKey string
		SecretKey string
	}

	Newsletter struct {
		Product struct {
			Name string
			Link string
		}
	}

	Queue struct {
		URL   string
		Topic string
	}

	Sentry struct {
		DSN string
	}
}
