package snapshot

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"
)

type PublisherConfig struct {
	Logger *slog.Logger

	Bucket string
	Region string

	AccessKeyID     string
	SecretAccessKey string

	// EndpointURL switches to an S3-compatible endpoint such as MinIO;
	// path-style addressing is used when set.
	EndpointURL string
}

// PublisherConfigFromEnv fills credentials, endpoint, and region from the
// environment: S3_* variables take precedence over their AWS_* equivalents.
// Leaving both credential pairs unset falls back to the SDK credential chain
// (IAM roles).
func PublisherConfigFromEnv(log *slog.Logger, bucket string) PublisherConfig {
	accessKeyID := os.Getenv("S3_ACCESS_KEY_ID")
	if accessKeyID == "" {
		accessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	secretAccessKey := os.Getenv("S3_SECRET_ACCESS_KEY")
	if secretAccessKey == "" {
		secretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_URL")
	}
	region := os.Getenv("S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	return PublisherConfig{
		Logger:          log,
		Bucket:          bucket,
		Region:          region,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		EndpointURL:     endpoint,
	}
}

func (cfg *PublisherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}

	// Optional with default
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return nil
}

type Publisher struct {
	log    *slog.Logger
	cfg    PublisherConfig
	client *s3.Client
}

func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.EndpointURL != "" {
		endpointURL := cfg.EndpointURL
		if !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
			endpointURL = "http://" + endpointURL
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = &endpointURL
			o.UsePathStyle = true // Required for MinIO
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	p := &Publisher{
		log:    cfg.Logger,
		cfg:    cfg,
		client: client,
	}

	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// ensureBucket creates the bucket when publishing to a localhost MinIO,
// where buckets do not exist out of the box. Real S3 buckets are managed
// elsewhere.
func (p *Publisher) ensureBucket(ctx context.Context) error {
	endpoint := p.cfg.EndpointURL
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	if !strings.HasPrefix(endpoint, "localhost") && !strings.HasPrefix(endpoint, "127.0.0.1") && !strings.Contains(endpoint, "host.docker.internal") {
		return nil
	}

	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &p.cfg.Bucket})
	if err == nil {
		return nil
	}

	p.log.Info("snapshot: creating bucket", "bucket", p.cfg.Bucket, "endpoint", p.cfg.EndpointURL)
	if _, err := p.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &p.cfg.Bucket}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", p.cfg.Bucket, err)
	}
	return nil
}

// Publish uploads the warehouse file under key, plus a sha256sum-format
// checksum object under key + ".sha256" for fetchers to verify against.
// Returns the object URL.
func (p *Publisher) Publish(ctx context.Context, filePath, key string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	sum := sha256.Sum256(data)
	checksum := fmt.Sprintf("%x  %s\n", sum, path.Base(key))
	p.log.Info("snapshot: uploading", "key", key, "bytes", len(data), "sha256", fmt.Sprintf("%x", sum))

	if err := p.putWithRetry(ctx, key, data); err != nil {
		return "", err
	}
	if err := p.putWithRetry(ctx, key+".sha256", []byte(checksum)); err != nil {
		return "", err
	}

	url := p.objectURL(key)
	p.log.Info("snapshot: upload complete", "url", url)
	return url, nil
}

func (p *Publisher) putWithRetry(ctx context.Context, key string, data []byte) error {
	contentMD5 := computeMD5(data)

	attempt := 0
	_, err := backoff.Retry(ctx, func() (any, error) {
		if attempt > 0 {
			p.log.Warn("snapshot: upload failed, retrying", "key", key, "attempt", attempt)
		}
		attempt++
		return nil, p.put(ctx, key, data, contentMD5)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) put(ctx context.Context, key string, data []byte, contentMD5 string) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:     &p.cfg.Bucket,
		Key:        &key,
		Body:       bytes.NewReader(data),
		ContentMD5: &contentMD5,
	})
	return err
}

func (p *Publisher) objectURL(key string) string {
	if p.cfg.EndpointURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(p.cfg.EndpointURL, "/"), p.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, p.cfg.Region, key)
}

// computeMD5 computes the base64-encoded MD5 hash of the data, the encoding
// the Content-MD5 header expects.
func computeMD5(data []byte) string {
	hash := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(hash[:])
}
