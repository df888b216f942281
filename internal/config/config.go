package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultSandboxURL = "https://sandbox.safaricom.co.ke"

type Config struct {
	Server ServerConfig
	Mpesa  MpesaConfig
	Mongo  MongoConfig
	Kafka  KafkaConfig
	Log    LogConfig
}

type ServerConfig struct {
	Port string
}

// MpesaConfig carries the Daraja credentials and STK push defaults.
type MpesaConfig struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	PassKey          string
	CallbackURL      string
	TransactionType  string
	AccountReference string
	TransactionDesc  string
	Timeout          time.Duration
}

// MongoConfig is optional; an empty URI disables the callback journal.
type MongoConfig struct {
	URI      string
	Database string
}

// KafkaConfig is optional; no brokers disables event publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Level slog.Level
}

// LoadDotEnv reads a .env file into the process environment when one exists.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// Load builds a Config from the environment and fails when a required
// Daraja setting is missing or a value cannot be parsed.
func Load() (*Config, error) {
	timeout, err := time.ParseDuration(getEnv("GATEWAY_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: must be positive")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Mpesa: MpesaConfig{
			BaseURL:          strings.TrimRight(getEnv("MPESA_BASE_URL", DefaultSandboxURL), "/"),
			ConsumerKey:      os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret:   os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:        os.Getenv("MPESA_SHORTCODE"),
			PassKey:          os.Getenv("MPESA_PASSKEY"),
			CallbackURL:      os.Getenv("MPESA_CALLBACK_URL"),
			TransactionType:  getEnv("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline"),
			AccountReference: getEnv("MPESA_ACCOUNT_REFERENCE", "Donation"),
			TransactionDesc:  getEnv("MPESA_TRANSACTION_DESC", "Donation"),
			Timeout:          timeout,
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGOURI"),
			Database: getEnv("MONGO_DATABASE", "donationdb"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_TOPIC", "donation.transactions"),
		},
		Log: LogConfig{
			Level: level,
		},
	}

	required := []struct{ key, value string }{
		{"MPESA_CONSUMER_KEY", cfg.Mpesa.ConsumerKey},
		{"MPESA_CONSUMER_SECRET", cfg.Mpesa.ConsumerSecret},
		{"MPESA_SHORTCODE", cfg.Mpesa.ShortCode},
		{"MPESA_PASSKEY", cfg.Mpesa.PassKey},
		{"MPESA_CALLBACK_URL", cfg.Mpesa.CallbackURL},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
