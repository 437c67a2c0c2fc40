package config

import "fmt"

// MinSecretLength is the shortest HMAC secret accepted for signing tokens.
var MinSecretLength = 32

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("ListenAddress must not be empty")
	}
	if err := c.Jobs.Lifetime().Validate(); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	if len(c.Auth.HMACSecret) < MinSecretLength {
		return fmt.Errorf("auth: hmac_secret must be at least %d characters", MinSecretLength)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit: requests_per_second must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit: burst must be positive")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	if _, err := c.Genesis.Validate(); err != nil {
		return err
	}
	return nil
}
