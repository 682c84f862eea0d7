package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/donorline/donorline-go/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	RolesClaim string
	EmailClaim string

	OIDCIssuerURL string
	OIDCClientID  string

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Mode:          Mode(strings.ToLower(env.String("DONORLINE_AUTH_MODE", string(ModeOIDC)))),
		RolesClaim:    env.String("DONORLINE_AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:    env.String("DONORLINE_AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL: env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:  env.String("OIDC_CLIENT_ID", ""),
		DevSubject:    env.String("DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:      env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:      parseCSV(env.String("DEV_AUTH_ROLES", "admin")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when DONORLINE_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required when DONORLINE_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.RolesClaim) == "" {
			return errors.New("DONORLINE_AUTH_ROLES_CLAIM is required")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when DONORLINE_AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("DEV_AUTH_ROLES must be non-empty when DONORLINE_AUTH_MODE=dev")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("DONORLINE_AUTH_MODE must be one of: oidc, dev, disabled (got %q)", c.Mode)
	}
	return nil
}

// New returns the authenticator for cfg.Mode. Disabled mode returns nil: callers skip the
// middleware entirely.
func New(ctx context.Context, cfg Config) (Authenticator, error) {
	switch cfg.Mode {
	case ModeOIDC:
		return NewOIDCAuthenticator(ctx, cfg)
	case ModeDev:
		return NewDevAuthenticator(cfg), nil
	case ModeDisabled:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
