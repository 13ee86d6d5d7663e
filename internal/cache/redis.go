package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"dc-monitor/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// Retention - сколько хранить снимки; старше обрезаются при записи
	Retention time.Duration
	// Prefix позволяет нескольким инсталляциям делить одну базу
	Prefix string
}

// RedisStore хранит снимки в sorted set (score = unix ms) и зеркалит
// последний опубликованный результат анализа.
type RedisStore struct {
	client      *redis.Client
	logger      *zap.Logger
	retention   time.Duration
	samplesKey  string
	analysisKey string
}

func NewRedisStore(ctx context.Context, opts Options, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	// Проверка соединения
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	return &RedisStore{
		client:      client,
		logger:      logger.Named("redis"),
		retention:   opts.Retention,
		samplesKey:  opts.Prefix + "metrics:samples",
		analysisKey: opts.Prefix + "analysis:current",
	}, nil
}

func (r *RedisStore) Save(ctx context.Context, sample models.MetricSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	ts := sample.Timestamp()
	cutoff := ts.Add(-r.retention).UnixMilli()

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.samplesKey, &redis.Z{Score: float64(ts.UnixMilli()), Member: data})
		// Обрезаем всё, что старше окна хранения
		pipe.ZRemRangeByScore(ctx, r.samplesKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store sample in Redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Query(ctx context.Context, since time.Time, limit int, order models.Order) ([]models.MetricSample, error) {
	rng := &redis.ZRangeBy{
		Min:   strconv.FormatInt(since.UnixMilli(), 10),
		Max:   "+inf",
		Count: int64(limit),
	}

	var members []string
	var err error
	if order == models.Descending {
		members, err = r.client.ZRevRangeByScore(ctx, r.samplesKey, rng).Result()
	} else {
		members, err = r.client.ZRangeByScore(ctx, r.samplesKey, rng).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}

	samples := make([]models.MetricSample, 0, len(members))
	for _, m := range members {
		var s models.MetricSample
		if err := json.Unmarshal([]byte(m), &s); err != nil {
			r.logger.Warn("Skipping malformed sample", zap.Error(err))
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func (r *RedisStore) SaveAnalysis(ctx context.Context, result models.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	if err := r.client.Set(ctx, r.analysisKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store analysis in Redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
