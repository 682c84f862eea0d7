package payment

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/platform/env"
)

type Mode string

const (
	ModeLive Mode = "live"
	ModeTest Mode = "test"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLive:
		return ModeLive, nil
	case ModeTest:
		return ModeTest, nil
	}
	return "", apierr.Newf(apierr.PaymentGateway, "unsupported payment processor mode %q", s)
}

const (
	TypeDummy = "dummy"
	TypeHTTP  = "http"
)

// Settings are the per-mode credentials and endpoints of one processor.
type Settings struct {
	URL             string        `yaml:"url"`
	TokenURL        string        `yaml:"token_url"`
	ClientID        string        `yaml:"client_id"`
	ClientSecretEnv string        `yaml:"client_secret_env"`
	Scopes          []string      `yaml:"scopes"`
	Timeout         time.Duration `yaml:"timeout"`
	DeclineAmounts  []float64     `yaml:"decline_amounts"`
	FeePercent      float64       `yaml:"fee_percent"`
}

type Processor struct {
	ID        int64    `yaml:"id"`
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	IsDefault bool     `yaml:"is_default"`
	Live      Settings `yaml:"live"`
	Test      Settings `yaml:"test"`
}

// Config is one processor resolved for one mode.
type Config struct {
	Processor Processor
	Mode      Mode
	Settings  Settings
}

type file struct {
	Processors []Processor `yaml:"processors"`
}

// Registry is the read-only processor table loaded at start-up.
type Registry struct {
	processors []Processor
}

// ConfigPathFromEnv names the processor file. Empty means the built-in dummy processor.
func ConfigPathFromEnv() string {
	return env.String("DONORLINE_PAYMENT_CONFIG", "")
}

func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRegistry(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payment config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse payment config: %w", err)
	}
	r := &Registry{processors: f.Processors}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// DefaultRegistry holds a single dummy processor, id 1, used when no file is configured.
func DefaultRegistry() *Registry {
	return &Registry{processors: []Processor{{
		ID:        1,
		Name:      "Dummy",
		Type:      TypeDummy,
		IsDefault: true,
	}}}
}

func (r *Registry) Validate() error {
	if len(r.processors) == 0 {
		return errors.New("payment config: at least one processor is required")
	}
	seen := map[int64]bool{}
	defaults := 0
	for _, p := range r.processors {
		if p.ID <= 0 {
			return fmt.Errorf("payment config: processor %q needs a positive id", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("payment config: processor id %d declared twice", p.ID)
		}
		seen[p.ID] = true
		if p.IsDefault {
			defaults++
		}
		switch p.Type {
		case TypeDummy:
		case TypeHTTP:
			for mode, s := range map[Mode]Settings{ModeLive: p.Live, ModeTest: p.Test} {
				if s.URL == "" {
					continue
				}
				if s.TokenURL == "" || s.ClientID == "" {
					return fmt.Errorf("payment config: processor %d %s mode needs token_url and client_id", p.ID, mode)
				}
			}
		default:
			return fmt.Errorf("payment config: processor %d has unknown type %q", p.ID, p.Type)
		}
	}
	if defaults > 1 {
		return errors.New("payment config: only one processor may be the default")
	}
	return nil
}

// Config resolves a processor for mode. A zero id selects the default processor, or the
// only processor when none is marked default.
func (r *Registry) Config(processorID int64, mode Mode) (Config, error) {
	var found *Processor
	for i := range r.processors {
		p := &r.processors[i]
		if (processorID == 0 && p.IsDefault) || (processorID != 0 && p.ID == processorID) {
			found = p
			break
		}
	}
	if found == nil && processorID == 0 && len(r.processors) == 1 {
		found = &r.processors[0]
	}
	if found == nil {
		if processorID == 0 {
			return Config{}, apierr.New(apierr.PaymentGateway, "No default payment processor is configured")
		}
		return Config{}, apierr.Newf(apierr.PaymentGateway, "Payment processor %d is not configured", processorID)
	}
	settings := found.Live
	if mode == ModeTest {
		settings = found.Test
	}
	return Config{Processor: *found, Mode: mode, Settings: settings}, nil
}
