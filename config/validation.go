package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConfigRequirements defines required configuration for each environment
type ConfigRequirements struct {
	RequiredFields []string
}

var (
	// Environment-specific requirements
	requirements = map[Environment]ConfigRequirements{
		Development: {},
		Test:        {},
		CI: {
			RequiredFields: []string{"DB_PASSWORD"},
		},
		Production: {
			RequiredFields: []string{
				"DB_PASSWORD",
				"WEBHOOK_TOKEN",
				"MERCADOPAGO_ACCESS_TOKEN",
				"PAYMENT_LINK",
			},
		},
	}
)

func fieldValue(cfg *Config, field string) string {
	switch field {
	case "DB_PASSWORD":
		return cfg.DBPassword
	case "WEBHOOK_TOKEN":
		return cfg.WebhookToken
	case "MERCADOPAGO_ACCESS_TOKEN":
		return cfg.MercadoPagoAccessToken
	case "PAYMENT_LINK":
		return cfg.PaymentLink
	}
	return ""
}

// ValidateConfig checks if the configuration meets the requirements for the current environment
func ValidateConfig(cfg *Config) error {
	env := GetEnvironment()
	var errs []ValidationError

	if cfg.DBDriver == "postgres" {
		for _, field := range requirements[env].RequiredFields {
			if fieldValue(cfg, field) == "" {
				errs = append(errs, ValidationError{Field: field, Message: "is required in " + string(env)})
			}
		}
	} else if cfg.DBDriver != "sqlite" {
		errs = append(errs, ValidationError{Field: "DB_DRIVER", Message: "must be postgres or sqlite"})
	}

	if cfg.TrialDays <= 0 {
		errs = append(errs, ValidationError{Field: "TRIAL_DAYS", Message: "must be positive"})
	}
	if cfg.MaxUploadBytes <= 0 {
		errs = append(errs, ValidationError{Field: "MAX_UPLOAD_BYTES", Message: "must be positive"})
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil || cfg.DefaultTimezone == "" {
		errs = append(errs, ValidationError{Field: "DEFAULT_TIMEZONE", Message: "must be an IANA timezone"})
	}
	if cfg.PaymentLink != "" {
		if u, err := url.Parse(cfg.PaymentLink); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{Field: "PAYMENT_LINK", Message: "must be an absolute URL"})
		}
	}
	if (cfg.JWTSecret == "") != (cfg.AdminPasswordHash == "") {
		errs = append(errs, ValidationError{Field: "JWT_SECRET", Message: "admin API needs both JWT_SECRET and ADMIN_PASSWORD_HASH"})
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		errs = append(errs, ValidationError{Field: "JWT_SECRET", Message: "must be at least 32 bytes"})
	}

	if len(errs) > 0 {
		lines := make([]string, len(errs))
		for i, e := range errs {
			lines[i] = e.Error()
		}
		return fmt.Errorf("%d problem(s):\n%s", len(errs), strings.Join(lines, "\n"))
	}

	return nil
}
