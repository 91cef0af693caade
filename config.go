package sessionkit

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// AntiCSRFMode selects how, if at all, requests are checked for CSRF.
// Only VIA_TOKEN involves the engine; VIA_CUSTOM_HEADER is enforced by the
// transport adapter.
type AntiCSRFMode string

const (
	AntiCSRFNone            AntiCSRFMode = "NONE"
	AntiCSRFViaToken        AntiCSRFMode = "VIA_TOKEN"
	AntiCSRFViaCustomHeader AntiCSRFMode = "VIA_CUSTOM_HEADER"
)

// Config is the full engine configuration. Zero values are not usable;
// start from [New] or fill every section.
type Config struct {
	Core    CoreConfig
	Session SessionConfig
	Keys    KeyConfig
	Linking LinkingConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
CORE CONFIG
====================================
*/

type CoreConfig struct {
	// ConnectionURI holds one or more core base URLs separated by ";".
	// Hosts after the first are replicas tried in order on transport failure.
	ConnectionURI  string
	APIKey         string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	AntiCSRF       AntiCSRFMode
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieSameSite http.SameSite

	// ExposeAccessTokenToFrontend controls whether the front token carries
	// the full custom payload or only the identity fields.
	ExposeAccessTokenToFrontend bool
}

/*
====================================
KEY CONFIG
====================================
*/

type KeyConfig struct {
	// CacheDuration is how long a fetched signing-key set is served
	// without refetching.
	CacheDuration time.Duration
}

type LinkingConfig struct {
	Enabled bool
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Core: CoreConfig{
			RequestTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			AntiCSRF:                    AntiCSRFNone,
			CookiePath:                  "/",
			CookieSecure:                true,
			CookieSameSite:              http.SameSiteLaxMode,
			ExposeAccessTokenToFrontend: false,
		},
		Keys: KeyConfig{
			CacheDuration: 60 * time.Second,
		},
		Linking: LinkingConfig{
			Enabled: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Core.ConnectionURI) == "" {
		return errors.New("Core ConnectionURI is required")
	}
	for _, host := range strings.Split(c.Core.ConnectionURI, ";") {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			return errors.New("Core ConnectionURI hosts must start with http:// or https://")
		}
	}
	if c.Core.RequestTimeout <= 0 {
		return errors.New("Core RequestTimeout must be > 0")
	}

	switch c.Session.AntiCSRF {
	case AntiCSRFNone, AntiCSRFViaToken, AntiCSRFViaCustomHeader:
		// valid
	default:
		return errors.New("Session AntiCSRF must be NONE, VIA_TOKEN, or VIA_CUSTOM_HEADER")
	}
	if c.Session.CookiePath == "" {
		return errors.New("Session CookiePath must not be empty")
	}
	if !c.Session.CookieSecure && c.Session.CookieSameSite == http.SameSiteNoneMode {
		return errors.New("SameSite=None requires CookieSecure")
	}

	if c.Keys.CacheDuration <= 0 {
		return errors.New("Keys CacheDuration must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
