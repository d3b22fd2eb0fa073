package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"medtext-backend/internal/pipeline"
)

type S3ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type S3SourceParams struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Source reads every .jsonl object under a bucket prefix.
type S3Source struct {
	client     *s3.Client
	downloader *manager.Downloader
	params     S3SourceParams
}

var _ Source = (*S3Source)(nil)

func NewS3Source(ctx context.Context, params S3SourceParams) (*S3Source, error) {
	client, err := initializeS3Client(S3ClientConfig{
		Endpoint:        params.Endpoint,
		Region:          params.Region,
		AccessKeyID:     params.AccessKeyID,
		SecretAccessKey: params.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}
	slog.Info("initialized s3 note source", "bucket", params.Bucket, "prefix", params.Prefix)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(params.Bucket)}); err != nil {
		return nil, fmt.Errorf("cannot access bucket %s: %w", params.Bucket, err)
	}

	return &S3Source{
		client:     client,
		downloader: manager.NewDownloader(client),
		params:     params,
	}, nil
}

func (s *S3Source) LoadNotes(ctx context.Context) ([]pipeline.Note, error) {
	var notes []pipeline.Note

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.params.Bucket),
		Prefix: aws.String(s.params.Prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects in %s/%s: %w", s.params.Bucket, s.params.Prefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".jsonl") {
				continue
			}

			objNotes, err := s.loadObject(ctx, key)
			if err != nil {
				return nil, err
			}
			notes = append(notes, objNotes...)
		}
	}

	return notes, nil
}

func (s *S3Source) loadObject(ctx context.Context, key string) ([]pipeline.Note, error) {
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.params.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", s.params.Bucket, key, err)
	}

	return decodeNotes(bytes.NewReader(buf.Bytes()), key)
}

func createS3Config(s3Endpoint, s3Region string, creds aws.CredentialsProvider) (aws.Config, error) {
	opts := []func(*aws_config.LoadOptions) error{}

	if s3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) { // nolint:staticcheck
			return aws.Endpoint{ // nolint:staticcheck
				PartitionID:       "aws",
				URL:               s3Endpoint,
				SigningRegion:     s3Region,
				HostnameImmutable: true, // Important for MinIO
			}, nil
		})

		opts = append(opts, aws_config.WithEndpointResolverWithOptions(resolver)) // nolint:staticcheck
	}

	if s3Region != "" {
		opts = append(opts, aws_config.WithRegion(s3Region))
	}

	if creds != nil {
		opts = append(opts, aws_config.WithCredentialsProvider(creds))
	}

	return aws_config.LoadDefaultConfig(context.Background(), opts...)
}

func initializeS3Client(cfg S3ClientConfig) (*s3.Client, error) {
	var creds aws.CredentialsProvider = nil
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	awsCfg, err := createS3Config(cfg.Endpoint, cfg.Region, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	// Fall back to anonymous credentials so public buckets still work when
	// nothing is configured in the environment.
	if _, err := awsCfg.Credentials.Retrieve(context.Background()); err != nil {
		awsCfg, err = createS3Config(cfg.Endpoint, cfg.Region, aws.AnonymousCredentials{})
		if err != nil {
			return nil, fmt.Errorf("failed to create aws config with anonymous credentials: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true // Path-style addressing, needed for MinIO
	})

	return client, nil
}
