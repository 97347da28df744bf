/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the voucher-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	VoucherDeliveryQueue string `mapstructure:"VOUCHER_DELIVERY_QUEUE"`

	BaseURL        string `mapstructure:"BASE_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	PaystackBaseURL   string `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey string `mapstructure:"PAYSTACK_SECRET_KEY"`

	VoucherPricePesewas        int64  `mapstructure:"VOUCHER_PRICE_PESEWAS"`
	PurchaseRateLimitPerMinute int    `mapstructure:"PURCHASE_RATE_LIMIT_PER_MINUTE"`
	StuckProcessingCutoffMin   int    `mapstructure:"STUCK_PROCESSING_CUTOFF_MINUTES"`
	ResultCheckURL             string `mapstructure:"RESULT_CHECK_URL"`

	SMSAPIBaseURL string `mapstructure:"SMS_API_BASE_URL"`
	SMSAPIKey     string `mapstructure:"SMS_API_KEY"`
	SMSSenderID   string `mapstructure:"SMS_SENDER_ID"`

	EmailHost     string `mapstructure:"EMAIL_HOST"`
	EmailPort     int    `mapstructure:"EMAIL_PORT"`
	EmailUser     string `mapstructure:"EMAIL_USER"`
	EmailPassword string `mapstructure:"EMAIL_PASSWORD"`
	EmailFrom     string `mapstructure:"EMAIL_FROM"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("VOUCHER_DELIVERY_QUEUE", "voucher_service.delivery")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "voucher:rate_limit")
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("VOUCHER_PRICE_PESEWAS", 2000)
	viper.SetDefault("PURCHASE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("STUCK_PROCESSING_CUTOFF_MINUTES", 15)
	viper.SetDefault("RESULT_CHECK_URL", "https://www.waecdirect.org")
	viper.SetDefault("SMS_API_BASE_URL", "https://api.bulksmsgh.com/v1/sms/send")
	viper.SetDefault("SMS_SENDER_ID", "ALLTEK")
	viper.SetDefault("EMAIL_PORT", 587)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("VOUCHER_DELIVERY_QUEUE")
	_ = viper.BindEnv("BASE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "VOUCHER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("VOUCHER_PRICE_PESEWAS")
	_ = viper.BindEnv("VOUCHER_PRICE_GHS")
	_ = viper.BindEnv("PURCHASE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("STUCK_PROCESSING_CUTOFF_MINUTES")
	_ = viper.BindEnv("RESULT_CHECK_URL")
	_ = viper.BindEnv("SMS_API_BASE_URL")
	_ = viper.BindEnv("SMS_API_KEY")
	_ = viper.BindEnv("SMS_SENDER_ID")
	_ = viper.BindEnv("EMAIL_HOST")
	_ = viper.BindEnv("EMAIL_PORT")
	_ = viper.BindEnv("EMAIL_USER")
	_ = viper.BindEnv("EMAIL_PASSWORD")
	_ = viper.BindEnv("EMAIL_FROM")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("VOUCHER_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "voucher:rate_limit"
	}
	config.BaseURL = strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/")

	// Allow specifying the price in whole cedis via VOUCHER_PRICE_GHS.
	if viper.IsSet("VOUCHER_PRICE_GHS") {
		priceStr := strings.TrimSpace(viper.GetString("VOUCHER_PRICE_GHS"))
		if priceStr != "" {
			priceValue, parseErr := strconv.ParseFloat(priceStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid VOUCHER_PRICE_GHS\" value=%q err=%v", priceStr, parseErr)
			} else {
				config.VoucherPricePesewas = int64(math.Round(priceValue * 100))
			}
		}
	}

	if config.VoucherPricePesewas <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive voucher price configured; using default\" price_pesewas=%d", config.VoucherPricePesewas)
		config.VoucherPricePesewas = 2000
	}
	if config.PurchaseRateLimitPerMinute < 0 {
		config.PurchaseRateLimitPerMinute = 0
	}
	if config.StuckProcessingCutoffMin <= 0 {
		config.StuckProcessingCutoffMin = 15
	}
	if config.EmailPort <= 0 {
		config.EmailPort = 587
	}
	if strings.TrimSpace(config.EmailFrom) == "" {
		config.EmailFrom = config.EmailUser
	}

	return
}
