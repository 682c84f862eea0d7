package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/donorline/donorline-go/internal/platform/env"
)

type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketReceipts string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("DONORLINE_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       env.String("DONORLINE_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("DONORLINE_MINIO_ACCESS_KEY", "donorline"),
		SecretKey:      env.String("DONORLINE_MINIO_SECRET_KEY", "donorlineminio"),
		Region:         env.String("DONORLINE_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketReceipts: env.String("DONORLINE_MINIO_BUCKET_RECEIPTS", "receipts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketReceipts) == "" {
		return errors.New("receipts bucket is required")
	}
	return nil
}
