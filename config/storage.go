package config

import "strings"

// StorageConfig contains object store configuration. Any S3-compatible
// endpoint works; leave Endpoint empty to use AWS proper.
type StorageConfig struct {
	Endpoint        string `env:"ENDPOINT"          envDefault:""`
	Region          string `env:"REGION"            envDefault:"us-east-1"`
	Bucket          string `env:"BUCKET"            envDefault:"transcoder-media"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"     envDefault:""`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" envDefault:""`
	// UsePathStyle is required for MinIO and other path-addressed stores.
	UsePathStyle bool `env:"USE_PATH_STYLE" envDefault:"false"`
}

// Sanitize applies guardrails to storage configuration values.
func (c *StorageConfig) Sanitize() {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Bucket = strings.TrimSpace(c.Bucket)
	if c.Region = strings.TrimSpace(c.Region); c.Region == "" {
		c.Region = "us-east-1"
	}
}
