package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/ensemble-deid/internal/config"
	"github.com/wolfman30/ensemble-deid/internal/reidstore"
	"github.com/wolfman30/ensemble-deid/pkg/logging"
)

// AWSLoader returns the SDK configuration used by the DynamoDB and S3 stores.
type AWSLoader func(ctx context.Context) (aws.Config, error)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildReidStore opens the reid map backend named by cfg.ReidStore. The
// returned cleanup releases its connections. mapPath, when set, pins the file
// backend to one file.
func BuildReidStore(ctx context.Context, cfg *appconfig.Config, mapPath string, loadAWS AWSLoader, logger *logging.Logger) (reidstore.Store, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	noop := func() {}

	switch cfg.ReidStore {
	case "", appconfig.StoreFile:
		dir := cfg.ReidOutputDir
		var opts []reidstore.FileOption
		if mapPath != "" {
			dir = filepath.Dir(mapPath)
			opts = append(opts, reidstore.WithMapPath(mapPath))
		}
		opts = append(opts, reidstore.WithFileLogger(logger))
		return reidstore.NewFileStore(dir, opts...), noop, nil

	case appconfig.StoreMemory:
		return reidstore.NewMemoryStore(), noop, nil

	case appconfig.StoreRedis:
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, nil, fmt.Errorf("bootstrap: redis store requires a reachable REDIS_ADDR")
		}
		return reidstore.NewRedisStore(client), func() { _ = client.Close() }, nil

	case appconfig.StorePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, nil, fmt.Errorf("bootstrap: postgres store requires DATABASE_URL")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		return reidstore.NewPostgresStore(pool), pool.Close, nil

	case appconfig.StoreDynamoDB, appconfig.StoreS3:
		if loadAWS == nil {
			return nil, nil, fmt.Errorf("bootstrap: %s store requires aws configuration", cfg.ReidStore)
		}
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		if cfg.ReidStore == appconfig.StoreDynamoDB {
			if cfg.ReidMapTable == "" {
				return nil, nil, fmt.Errorf("bootstrap: dynamodb store requires REID_MAP_TABLE")
			}
			return reidstore.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.ReidMapTable), noop, nil
		}
		if cfg.ReidMapBucket == "" {
			return nil, nil, fmt.Errorf("bootstrap: s3 store requires REID_MAP_BUCKET")
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
		return reidstore.NewS3Store(client, cfg.ReidMapBucket), noop, nil
	}
	return nil, nil, fmt.Errorf("bootstrap: unknown REID_STORE %q", cfg.ReidStore)
}
