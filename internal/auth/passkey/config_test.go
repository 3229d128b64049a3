package passkey

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg := LoadConfigFromEnv()
	if cfg.RPDisplayName != "Palaver" {
		t.Fatalf("display name = %q", cfg.RPDisplayName)
	}
	if cfg.ChallengeTTL != 5*time.Minute {
		t.Fatalf("challenge ttl = %v, want 5m", cfg.ChallengeTTL)
	}
	if cfg.AdminSessionTTL != 24*time.Hour {
		t.Fatalf("admin session ttl = %v, want 24h", cfg.AdminSessionTTL)
	}
	if !cfg.RegistrationEnabled {
		t.Fatal("registration should default to enabled")
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("PALAVER_WEBAUTHN_RP_ID", "forum.example.com")
	t.Setenv("PALAVER_WEBAUTHN_RP_ORIGINS", "https://forum.example.com,https://www.example.com")
	t.Setenv("PALAVER_WEBAUTHN_CHALLENGE_TTL", "90s")
	t.Setenv("PALAVER_REGISTRATION_ENABLED", "false")

	cfg := LoadConfigFromEnv()
	if cfg.RPID != "forum.example.com" {
		t.Fatalf("rp id = %q", cfg.RPID)
	}
	if len(cfg.RPOrigins) != 2 {
		t.Fatalf("origins = %v", cfg.RPOrigins)
	}
	if cfg.ChallengeTTL != 90*time.Second {
		t.Fatalf("challenge ttl = %v", cfg.ChallengeTTL)
	}
	if cfg.RegistrationEnabled {
		t.Fatal("registration should be disabled")
	}
}

func TestRelyingPartyForDefaultsToHost(t *testing.T) {
	cfg := Config{RPDisplayName: "Palaver"}

	rp := cfg.RelyingPartyFor("forum.example.com:8443", true)
	if rp.ID != "forum.example.com" {
		t.Fatalf("rp id = %q, want host without port", rp.ID)
	}
	if len(rp.Origins) != 1 || rp.Origins[0] != "https://forum.example.com:8443" {
		t.Fatalf("origins = %v", rp.Origins)
	}

	rp = cfg.RelyingPartyFor("localhost:8080", false)
	if rp.ID != "localhost" {
		t.Fatalf("rp id = %q", rp.ID)
	}
	if rp.Origins[0] != "http://localhost:8080" {
		t.Fatalf("origins = %v", rp.Origins)
	}
}

func TestRelyingPartyForPrefersConfiguredValues(t *testing.T) {
	cfg := Config{
		RPDisplayName: "Palaver",
		RPID:          "example.com",
		RPOrigins:     []string{"https://example.com"},
	}
	rp := cfg.RelyingPartyFor("other.host:9090", false)
	if rp.ID != "example.com" {
		t.Fatalf("rp id = %q, want configured value", rp.ID)
	}
	if rp.Origins[0] != "https://example.com" {
		t.Fatalf("origins = %v, want configured value", rp.Origins)
	}
}
