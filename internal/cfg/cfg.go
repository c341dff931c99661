// Package cfg holds the application-level configuration for the
// medtriage server, following the common cfg.Registerable and
// cfg.Validatable conventions.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config carries the app-specific knobs: ports, backend endpoints,
// alert channel credentials, and triage behavior.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	ClassifierURL            string
	ClassifierTimeoutSeconds int

	RoomServiceURL string
	RoomAPIKey     string
	JoinURLBase    string

	AlertGatewayURL string
	AlertAccountSID string
	AlertAuthToken  string
	AlertFromNumber string

	EmergencyContacts  string // comma-separated international numbers
	DefaultCountryCode string

	HistoryWindow int

	DatabaseURL string
	APIToken    string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClassifierURL, "classifier-url", "", "base URL of the classification/council backend")
	fs.IntVar(&c.ClassifierTimeoutSeconds, "classifier-timeout-seconds", 15, "per-call timeout for classify/council requests (1..120)")
	fs.StringVar(&c.RoomServiceURL, "room-service-url", "", "base URL of the real-time room service")
	fs.StringVar(&c.RoomAPIKey, "room-api-key", "", "API key for the room service")
	fs.StringVar(&c.JoinURLBase, "join-url-base", "", "base URL for participant join links (empty = no links in responses)")
	fs.StringVar(&c.AlertGatewayURL, "alert-gateway-url", "", "base URL of the SMS/voice alert gateway")
	fs.StringVar(&c.AlertAccountSID, "alert-account-sid", "", "account SID for the alert gateway")
	fs.StringVar(&c.AlertAuthToken, "alert-auth-token", "", "auth token for the alert gateway")
	fs.StringVar(&c.AlertFromNumber, "alert-from-number", "", "originating number for outbound alerts, international format")
	fs.StringVar(&c.EmergencyContacts, "emergency-contacts", "", "comma-separated default responder numbers")
	fs.StringVar(&c.DefaultCountryCode, "default-country-code", "+1", "country code prepended to national contact numbers")
	fs.IntVar(&c.HistoryWindow, "history-window", 20, "max exchanges carried in a classification payload (1..200)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the consultation archive (empty = archive disabled)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = auth disabled)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Classification backend is required; triage cannot run without it
	if c.ClassifierURL == "" {
		errs = append(errs, errors.New("CLASSIFIER_URL is required"))
	}
	if c.ClassifierTimeoutSeconds <= 0 || c.ClassifierTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid CLASSIFIER_TIMEOUT_SECONDS %d (must be 1..120)", c.ClassifierTimeoutSeconds))
	}

	// Room service is required for session lifecycle
	if c.RoomServiceURL == "" {
		errs = append(errs, errors.New("ROOM_SERVICE_URL is required"))
	}

	// Alert gateway fields travel together
	if c.AlertGatewayURL != "" {
		if c.AlertAccountSID == "" || c.AlertAuthToken == "" {
			errs = append(errs, errors.New("ALERT_ACCOUNT_SID and ALERT_AUTH_TOKEN are required when ALERT_GATEWAY_URL is set"))
		}
		if c.AlertFromNumber == "" {
			errs = append(errs, errors.New("ALERT_FROM_NUMBER is required when ALERT_GATEWAY_URL is set"))
		}
	}

	if c.DefaultCountryCode != "" && !strings.HasPrefix(c.DefaultCountryCode, "+") {
		errs = append(errs, fmt.Errorf("invalid DEFAULT_COUNTRY_CODE %q (must start with +)", c.DefaultCountryCode))
	}

	if c.HistoryWindow <= 0 || c.HistoryWindow > 200 {
		errs = append(errs, fmt.Errorf("invalid HISTORY_WINDOW %d (must be 1..200)", c.HistoryWindow))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Contacts splits the configured default responder numbers.
func (c *Config) Contacts() []string {
	if c.EmergencyContacts == "" {
		return nil
	}
	parts := strings.Split(c.EmergencyContacts, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
