package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/block"
	"github.com/marmos91/shardfs/pkg/engine"
	"github.com/marmos91/shardfs/pkg/store/content"
	contentFs "github.com/marmos91/shardfs/pkg/store/content/fs"
	contentMemory "github.com/marmos91/shardfs/pkg/store/content/memory"
	contentS3 "github.com/marmos91/shardfs/pkg/store/content/s3"
	"github.com/marmos91/shardfs/pkg/store/metadata"
	metaBadger "github.com/marmos91/shardfs/pkg/store/metadata/badger"
)

// CreateMetadataStore creates a metadata store based on configuration.
//
// Supported types:
//   - "badger": BadgerDB storage, persistent
//   - "memory": BadgerDB in-memory mode, ephemeral (tests, throwaway nodes)
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig) (metadata.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "badger":
		return createBadgerMetadataStore(cfg.Badger)
	case "memory":
		return metaBadger.OpenInMemory()
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createBadgerMetadataStore creates a BadgerDB-based persistent metadata store.
func createBadgerMetadataStore(options map[string]any) (metadata.Store, error) {
	type BadgerOptions struct {
		DBPath     string        `mapstructure:"db_path"`
		GCInterval time.Duration `mapstructure:"gc_interval"`
	}

	var storeOpts BadgerOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &storeOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode badger metadata store options: %w", err)
	}

	if storeOpts.DBPath == "" {
		return nil, fmt.Errorf("badger metadata store: db_path is required")
	}
	if storeOpts.GCInterval == 0 {
		storeOpts.GCInterval = 10 * time.Minute
	}

	store, err := metaBadger.Open(storeOpts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger metadata store: %w", err)
	}
	store.StartGC(storeOpts.GCInterval)
	return store, nil
}

// CreateContentStore creates a blob store based on configuration.
//
// Supported types:
//   - "filesystem": local filesystem storage
//   - "memory": in-memory storage, ephemeral
//   - "s3": Amazon S3 or any S3-compatible endpoint (MinIO, Localstack)
func CreateContentStore(ctx context.Context, cfg *ContentConfig) (content.Store, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem)
	case "memory":
		return contentMemory.New(), nil
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

// createFilesystemContentStore creates a filesystem-based blob store.
func createFilesystemContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type FilesystemOptions struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg FilesystemOptions
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	store, err := contentFs.New(ctx, storeCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}
	return store, nil
}

// createS3ContentStore creates an S3-backed blob store.
func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	type S3Options struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var storeCfg S3Options
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Custom endpoint for MinIO, Localstack and other S3-compatibles
	if storeCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               storeCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials if provided, otherwise the default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack compatibility
		if storeCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	store, err := contentS3.New(ctx, contentS3.Config{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// CreateEngine creates the storage engine selected by cfg.
//
// The local engine needs a blob store; callers pass nil for blobs when
// building a block engine. The block engine requires a metadata store
// that can enumerate extent lists (the badger store can).
func CreateEngine(ctx context.Context, cfg *EngineConfig, meta metadata.Store, blobs content.Store) (engine.Engine, error) {
	switch cfg.Type {
	case "local":
		if blobs == nil {
			return nil, fmt.Errorf("local engine: a content store is required")
		}
		return engine.NewLocal(meta, blobs), nil
	case "block":
		return createBlockEngine(ctx, cfg.Block, meta)
	default:
		return nil, fmt.Errorf("unknown engine type: %q (supported: local, block)", cfg.Type)
	}
}

// createBlockEngine opens the backing device and builds the block engine.
func createBlockEngine(ctx context.Context, options map[string]any, meta metadata.Store) (engine.Engine, error) {
	type BlockOptions struct {
		DevicePath string `mapstructure:"device_path"`
		DeviceSize uint64 `mapstructure:"device_size"`
	}

	var engineOpts BlockOptions
	if err := mapstructure.Decode(options, &engineOpts); err != nil {
		return nil, fmt.Errorf("failed to decode block engine options: %w", err)
	}

	if engineOpts.DevicePath == "" {
		return nil, fmt.Errorf("block engine: device_path is required")
	}

	extentMeta, ok := meta.(block.MetadataStore)
	if !ok {
		return nil, fmt.Errorf("block engine: metadata store %T cannot enumerate extent lists", meta)
	}

	dev, err := block.OpenDevice(engineOpts.DevicePath, engineOpts.DeviceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open block device: %w", err)
	}

	eng, err := block.New(ctx, extentMeta, dev)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to initialize block engine: %w", err)
	}

	logger.Info("Block engine initialized: device=%s, size=%d bytes, free=%d bytes",
		engineOpts.DevicePath, eng.Allocator().Size(), eng.Allocator().FreeBytes())

	return eng, nil
}
