// Package archive uploads recently published opportunities to S3-compatible
// object storage as JSON lines.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"arb-radar/internal/engine"
	"arb-radar/internal/opportunity"
)

// Config holds object storage settings.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Prefix         string
	ForcePathStyle bool
	Interval       time.Duration
}

// Uploader is the subset of *s3.Client the archiver uses.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RecentSource exposes the engine's ring buffer.
type RecentSource interface {
	Recent(kind opportunity.Kind, limit int) []engine.RecentEntry
}

// NewS3Client builds an S3 client, with static credentials when provided and
// a custom endpoint for S3-compatible providers.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

func normaliseEndpoint(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	return "https://" + endpoint
}

// Archiver periodically uploads ring buffer entries not yet archived.
type Archiver struct {
	uploader Uploader
	source   RecentSource
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	lastGen uint64
}

// New constructs an Archiver.
func New(uploader Uploader, source RecentSource, cfg Config, logger zerolog.Logger) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "opportunities"
	}
	return &Archiver{
		uploader: uploader,
		source:   source,
		cfg:      cfg,
		logger:   logger.With().Str("component", "archiver").Str("bucket", cfg.Bucket).Logger(),
		now:      time.Now,
	}
}

// Run flushes every interval and once more on shutdown.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, _, err := a.Flush(flushCtx); err != nil {
				a.logger.Warn().Err(err).Msg("final archive flush failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := a.Flush(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("archive flush failed")
			}
		}
	}
}

// Flush uploads entries from generations newer than the last upload. It
// returns the object key and the number of entries written.
func (a *Archiver) Flush(ctx context.Context) (string, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := a.source.Recent("", 0)
	var pending []engine.RecentEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Generation > a.lastGen {
			pending = append(pending, entries[i])
		}
	}
	if len(pending) == 0 {
		return "", 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range pending {
		if err := enc.Encode(e); err != nil {
			return "", 0, fmt.Errorf("encode entry: %w", err)
		}
	}

	first, last := pending[0].Generation, pending[len(pending)-1].Generation
	now := a.now().UTC()
	key := path.Join(a.cfg.Prefix, now.Format("2006/01/02"),
		fmt.Sprintf("%s-g%d-g%d.jsonl", now.Format("150405"), first, last))

	_, err := a.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", 0, fmt.Errorf("archive: put %s: %w", key, err)
	}

	a.lastGen = last
	a.logger.Info().Str("key", key).Int("entries", len(pending)).Msg("archived opportunities")
	return key, len(pending), nil
}
