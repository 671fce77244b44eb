package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grnet/panoramix/internal/normalize"
)

const defaultJoinPaths = "trustees=value,public_shares,mixers"

type Config struct {
	APIHost   string   // ZEUS_API_HOST (required)
	AuthToken string   // ZEUS_AUTH_TOKEN (optional, sent as a bearer token)
	Users     []string // ZEUS_USERS (comma-separated)
	NATSURL   string   // ZEUS_NATS_URL (optional, empty = no events)

	// Refresh loop
	RefreshInterval time.Duration // ZEUS_REFRESH_INTERVAL (default 5s; 0 = disabled)
	Manual          bool          // ZEUS_MANUAL (default false)

	// Snapshot export
	SnapshotS3Bucket   string // ZEUS_SNAPSHOT_S3_BUCKET (enables S3 when set)
	SnapshotS3Endpoint string // ZEUS_SNAPSHOT_S3_ENDPOINT (custom endpoint for MinIO)
	SnapshotS3Region   string // ZEUS_SNAPSHOT_S3_REGION (default "us-east-1")
	SnapshotS3Key      string // ZEUS_SNAPSHOT_S3_KEY (default "zeus/console.json")

	MetricsAddr string               // ZEUS_METRICS_ADDR (optional)
	JoinRules   []normalize.JoinRule // ZEUS_JOIN_PATHS
}

// Load reads the configuration from the environment. ZEUS_API_HOST must be
// set.
func Load() (*Config, error) {
	c, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if c.APIHost == "" {
		return nil, fmt.Errorf("ZEUS_API_HOST is required")
	}
	return c, nil
}

// FromEnv reads the configuration from the environment without requiring
// any variable, for callers that fill in the API host themselves.
func FromEnv() (*Config, error) {
	c := &Config{
		APIHost:            os.Getenv("ZEUS_API_HOST"),
		AuthToken:          os.Getenv("ZEUS_AUTH_TOKEN"),
		Users:              splitList(os.Getenv("ZEUS_USERS")),
		NATSURL:            os.Getenv("ZEUS_NATS_URL"),
		SnapshotS3Bucket:   os.Getenv("ZEUS_SNAPSHOT_S3_BUCKET"),
		SnapshotS3Endpoint: os.Getenv("ZEUS_SNAPSHOT_S3_ENDPOINT"),
		SnapshotS3Region:   envOrDefault("ZEUS_SNAPSHOT_S3_REGION", "us-east-1"),
		SnapshotS3Key:      envOrDefault("ZEUS_SNAPSHOT_S3_KEY", "zeus/console.json"),
		MetricsAddr:        os.Getenv("ZEUS_METRICS_ADDR"),
	}
	d, err := time.ParseDuration(envOrDefault("ZEUS_REFRESH_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("ZEUS_REFRESH_INTERVAL: %w", err)
	}
	if d < 0 {
		return nil, fmt.Errorf("ZEUS_REFRESH_INTERVAL: negative duration %s", d)
	}
	c.RefreshInterval = d

	if v := strings.TrimSpace(os.Getenv("ZEUS_MANUAL")); v != "" {
		manual, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("ZEUS_MANUAL: %w", err)
		}
		c.Manual = manual
	}

	rules, err := normalize.ParseJoinRules(envOrDefault("ZEUS_JOIN_PATHS", defaultJoinPaths))
	if err != nil {
		return nil, fmt.Errorf("ZEUS_JOIN_PATHS: %w", err)
	}
	c.JoinRules = rules

	return c, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
