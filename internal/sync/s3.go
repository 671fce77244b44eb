package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/grnet/panoramix/internal/stages"
)

// NegotiationPlaceholder in an object key is replaced by the snapshot's
// global negotiation id, e.g. "zeus/{negotiation}/console.json".
const NegotiationPlaceholder = "{negotiation}"

// Object metadata keys set on every uploaded snapshot.
const (
	MetaNegotiation = "zeus-negotiation"
	MetaUsers       = "zeus-users"
	MetaRunning     = "zeus-running"
)

// S3Destination writes console snapshots to an S3-compatible bucket. A
// snapshot identical to the last one uploaded to the same key is skipped.
type S3Destination struct {
	client *s3.Client
	bucket string
	key    string

	mu   sync.Mutex
	last map[string][sha256.Size]byte
}

// NewS3Destination creates an S3 destination. If endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{
		client: client,
		bucket: bucket,
		key:    key,
		last:   make(map[string][sha256.Size]byte),
	}, nil
}

// Location returns the destination as an s3:// URL. The key may still hold
// the negotiation placeholder.
func (d *S3Destination) Location() string {
	return "s3://" + d.bucket + "/" + d.key
}

// Write uploads a snapshot produced by stages.Syncer.Snapshot.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	summary, err := summarize(data)
	if err != nil {
		return err
	}
	key := summary.objectKey(d.key)
	sum := sha256.Sum256(data)

	d.mu.Lock()
	unchanged := d.last[key] == sum
	d.mu.Unlock()
	if unchanged {
		return nil
	}

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    summary.metadata(),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}

	d.mu.Lock()
	d.last[key] = sum
	d.mu.Unlock()
	return nil
}

// snapshotSummary is what object keys and metadata are derived from.
type snapshotSummary struct {
	negotiation string
	users       []string
	running     []string
}

func summarize(data []byte) (snapshotSummary, error) {
	var users []stages.UserSnapshot
	if err := json.Unmarshal(data, &users); err != nil {
		return snapshotSummary{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	var s snapshotSummary
	for _, u := range users {
		s.users = append(s.users, u.User)
		for _, st := range u.Stages {
			if s.negotiation == "" {
				s.negotiation = st.GlobalNegotiation
			}
			if st.Running && !slices.Contains(s.running, st.InstanceID) {
				s.running = append(s.running, st.InstanceID)
			}
		}
	}
	return s, nil
}

func (s snapshotSummary) objectKey(template string) string {
	negotiation := s.negotiation
	if negotiation == "" {
		negotiation = "unknown"
	}
	return strings.ReplaceAll(template, NegotiationPlaceholder, negotiation)
}

func (s snapshotSummary) metadata() map[string]string {
	m := map[string]string{MetaUsers: strings.Join(s.users, ",")}
	if s.negotiation != "" {
		m[MetaNegotiation] = s.negotiation
	}
	if len(s.running) > 0 {
		m[MetaRunning] = strings.Join(s.running, ",")
	}
	return m
}
