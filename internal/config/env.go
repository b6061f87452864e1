package config

import (
	"fmt"

	"github.com/caarlos0/env/v9"
)

// Env holds deployment settings read from CHUB_* environment variables.
type Env struct {
	DatabasePath     string `env:"CHUB_DATABASE_PATH" envDefault:"compliancehub.db"`
	ConfigPath       string `env:"CHUB_CONFIG" envDefault:"compliancehub.yml"`
	JWTSecret        string `env:"CHUB_JWT_SECRET"`
	AzureAccount     string `env:"CHUB_AZURE_ACCOUNT"`
	AzureKey         string `env:"CHUB_AZURE_KEY"`
	AzureContainer   string `env:"CHUB_AZURE_CONTAINER" envDefault:"documents"`
	AzureEndpoint    string `env:"CHUB_AZURE_ENDPOINT"`
	LogicAppEmailURL string `env:"CHUB_LOGICAPP_EMAIL_URL"`
	LogicAppResetURL string `env:"CHUB_LOGICAPP_RESET_URL"`
	LogicAppAlertURL string `env:"CHUB_LOGICAPP_ALERT_URL"`
	FrontendURL      string `env:"CHUB_FRONTEND_URL" envDefault:"http://localhost:3000"`
	LogLevel         string `env:"CHUB_LOG_LEVEL" envDefault:"info"`
	LogFormat        string `env:"CHUB_LOG_FORMAT" envDefault:"text"`
}

// LoadEnv parses the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse environment: %w", err)
	}
	return e, nil
}

// AzureServiceURL returns the blob endpoint for the configured account.
func (e Env) AzureServiceURL() string {
	if e.AzureEndpoint != "" {
		return e.AzureEndpoint
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", e.AzureAccount)
}

// ValidateAzure reports missing Azure settings when the azure storage driver is selected.
func (e Env) ValidateAzure() error {
	if e.AzureAccount == "" || e.AzureKey == "" {
		return fmt.Errorf("CHUB_AZURE_ACCOUNT and CHUB_AZURE_KEY are required for the azure storage driver")
	}
	if e.AzureContainer == "" {
		return fmt.Errorf("CHUB_AZURE_CONTAINER is required for the azure storage driver")
	}
	return nil
}
