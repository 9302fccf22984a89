package main

import (
	"context"

	"paychain/cmd/server/config"
	"paychain/internal/billing/scrub"
	"paychain/internal/transcripts"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// loadScrubRules reads the deployment rules named by SCRUB_RULES_FILE. They
// run over every transcript after the gateway's own scrubber.
func loadScrubRules(app config.AppConfig, logger *zap.Logger) (scrub.RuleSet, error) {
	if app.ScrubRulesFile == "" {
		return nil, nil
	}
	rules, err := scrub.LoadRulesFile(app.ScrubRulesFile)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded transcript scrub rules", zap.String("file", app.ScrubRulesFile), zap.Int("rules", len(rules)))
	return rules, nil
}

// buildTranscriptSink returns the sink every gateway transport writes to.
// Transcripts are logged at debug level and, when REDIS_URL is set, kept in
// Redis.
func buildTranscriptSink(ctx context.Context, rules scrub.RuleSet, logger *zap.Logger) (transcripts.Sink, func(), error) {
	sinks := []transcripts.Sink{logSink(logger)}
	cleanup := func() {}

	if config.RedisConfigured() {
		redisSink, closeRedis, err := buildRedisSink(ctx, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, redisSink)
		cleanup = closeRedis
	}

	return transcripts.NewScrubbingSink(transcripts.NewMultiSink(sinks...), rules), cleanup, nil
}

func buildRedisSink(ctx context.Context, logger *zap.Logger) (transcripts.Sink, func(), error) {
	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, nil, err
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	pingCtx := ctx
	if pingCtx == nil {
		pingCtx = context.Background()
	}
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(pingCtx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	logger.Info("redis transcript sink enabled", zap.String("stream", cfg.Stream))
	sink := transcripts.NewRedisSink(transcripts.NewClientAdapter(client), cfg.Stream, cfg.TranscriptTTL, cfg.StreamMaxLen)
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
	return sink, cleanup, nil
}

func logSink(logger *zap.Logger) transcripts.Sink {
	return transcripts.SinkFunc(func(_ context.Context, t transcripts.Transcript) error {
		logger.Debug("gateway transcript",
			zap.String("chain_id", t.ChainID),
			zap.String("gateway", t.Gateway),
			zap.String("transcript", t.Body),
		)
		return nil
	})
}
