package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string
	AllowedOrigin string
	AppEnv        string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret            string
	AccessTokenTTLMinutes int

	DiscrepancyThreshold decimal.Decimal
	VarianceEpsilon      decimal.Decimal
	CreditCardFeeRate    decimal.Decimal
	SummaryCacheTTL      time.Duration
	SummaryRecipients    []string

	UploadDir      string
	UploadBaseURL  string
	UploadMaxBytes int64

	OCREndpoint string
	OCRAPIKey   string
	OCRTimeout  time.Duration
}

var defaults = map[string]any{
	"PORT":                         "8080",
	"ALLOWED_ORIGIN":               "http://127.0.0.1:3000",
	"APP_ENV":                      "production",
	"REDIS_DB":                     0,
	"ACCESS_TOKEN_TTL_MINUTES":     480,
	"DISCREPANCY_THRESHOLD_AMOUNT": "50",
	"VARIANCE_EPSILON":             "0.01",
	"CREDIT_CARD_FEE_RATE":         "0",
	"SUMMARY_CACHE_TTL_SECONDS":    300,
	"UPLOAD_DIR":                   "./uploads",
	"UPLOAD_BASE_URL":              "http://127.0.0.1:8080",
	"UPLOAD_MAX_BYTES":             10 << 20,
	"OCR_TIMEOUT_SECONDS":          30,
}

// Load reads the environment, optionally overlaid on a .env file in the
// working directory. A missing .env is fine; an unreadable one is not.
func Load() (Config, error) {
	return load(".env")
}

func load(envFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	v.AutomaticEnv()

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		AppEnv:                strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		SummaryCacheTTL:       time.Duration(positiveInt(v.GetInt("SUMMARY_CACHE_TTL_SECONDS"), 300)) * time.Second,
		SummaryRecipients:     splitList(v.GetString("SUMMARY_RECIPIENTS")),
		UploadDir:             v.GetString("UPLOAD_DIR"),
		UploadBaseURL:         strings.TrimRight(v.GetString("UPLOAD_BASE_URL"), "/"),
		UploadMaxBytes:        v.GetInt64("UPLOAD_MAX_BYTES"),
		OCREndpoint:           strings.TrimSpace(v.GetString("OCR_ENDPOINT")),
		OCRAPIKey:             strings.TrimSpace(v.GetString("OCR_API_KEY")),
		OCRTimeout:            time.Duration(positiveInt(v.GetInt("OCR_TIMEOUT_SECONDS"), 30)) * time.Second,
	}
	if cfg.UploadMaxBytes <= 0 {
		cfg.UploadMaxBytes = 10 << 20
	}

	var err error
	if cfg.DiscrepancyThreshold, err = nonNegativeDecimal(v, "DISCREPANCY_THRESHOLD_AMOUNT"); err != nil {
		return Config{}, err
	}
	if cfg.VarianceEpsilon, err = nonNegativeDecimal(v, "VARIANCE_EPSILON"); err != nil {
		return Config{}, err
	}
	if cfg.CreditCardFeeRate, err = nonNegativeDecimal(v, "CREDIT_CARD_FEE_RATE"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

func nonNegativeDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must be a non-negative number, got %q", key, raw)
	}
	return d, nil
}

func positiveInt(value int, fallback int) int {
	if value < 1 {
		return fallback
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
