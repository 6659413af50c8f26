package config

import "time"

type GatewayConfig struct {
	BaseURL     string
	SecretKey   string
	CallTimeout time.Duration
	Provider    string
}

func LoadGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		BaseURL:     getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		SecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
		CallTimeout: getEnvAsDuration("PAYSTACK_CALL_TIMEOUT", 15*time.Second),
		Provider:    getEnv("PAYMENT_PROVIDER", "paystack"),
	}
}
