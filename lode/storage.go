package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// DatasetID is the Lode dataset load events are journaled under.
const DatasetID = "fedrun"

// partitionKeys is the Hive layout of the journal dataset.
var partitionKeys = []string{"remote", "day", "event_type"}

// S3Config holds configuration for the S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint for S3-compatible providers
	// (MinIO, R2). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

// NewFSFactory returns a store factory rooted at a local directory.
func NewFSFactory(root string) lode.StoreFactory {
	return lode.NewFSFactory(root)
}

// NewS3Factory returns a store factory backed by S3.
// Credentials come from the AWS SDK default chain.
func NewS3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("load AWS config: %w", err), s3cfg.Bucket)
	}

	var s3Opts []func(*s3.Options)
	if s3cfg.Endpoint != "" {
		endpoint := s3cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if s3cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}, nil
}

// NewDataset opens the journal dataset over factory. Reads and writes
// share the same layout and codec.
func NewDataset(factory lode.StoreFactory) (lode.Dataset, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(DatasetID),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, DatasetID)
	}
	return ds, nil
}

// matchesPartitionValue reports whether a Hive-partitioned path contains
// an exact key=value segment.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// snapshotMatches reports whether any file in snap lies in the key=value
// partition. An empty value matches everything.
func snapshotMatches(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}
