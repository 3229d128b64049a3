// Package passkey holds WebAuthn relying-party configuration.
package passkey

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// CeremonyKind describes the WebAuthn ceremony purpose.
type CeremonyKind string

const (
	CeremonyKindRegistration CeremonyKind = "registration"
	CeremonyKindLogin        CeremonyKind = "login"
)

// Config controls WebAuthn relying party settings and ceremony lifetimes.
type Config struct {
	RPDisplayName       string        `env:"PALAVER_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Palaver"`
	RPID                string        `env:"PALAVER_WEBAUTHN_RP_ID"`
	RPOrigins           []string      `env:"PALAVER_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL        time.Duration `env:"PALAVER_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
	SessionTTL          time.Duration `env:"PALAVER_SESSION_TTL"              envDefault:"168h"`
	AdminSessionTTL     time.Duration `env:"PALAVER_ADMIN_SESSION_TTL"        envDefault:"24h"`
	RegistrationEnabled bool          `env:"PALAVER_REGISTRATION_ENABLED"     envDefault:"true"`
}

// RelyingParty is the per-request resolved relying party identity.
type RelyingParty struct {
	ID          string
	DisplayName string
	Origins     []string
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName:       "Palaver",
			ChallengeTTL:        5 * time.Minute,
			SessionTTL:          168 * time.Hour,
			AdminSessionTTL:     24 * time.Hour,
			RegistrationEnabled: true,
		}
	}
	return cfg
}

// RelyingPartyFor resolves the relying party for a request host.
//
// When RP id or origins are not configured they default to the incoming host,
// so single-instance deployments need no explicit relying-party setup.
func (c Config) RelyingPartyFor(host string, secure bool) RelyingParty {
	rp := RelyingParty{
		ID:          strings.TrimSpace(c.RPID),
		DisplayName: c.RPDisplayName,
		Origins:     c.RPOrigins,
	}
	hostname := stripPort(host)
	if rp.ID == "" {
		rp.ID = hostname
	}
	if len(rp.Origins) == 0 {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		rp.Origins = []string{scheme + "://" + host}
	}
	return rp
}

func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		return host[:idx]
	}
	return strings.Trim(host, "[]")
}
