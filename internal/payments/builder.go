package payments

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"paychain/internal/billing/scrub"
	chainsdb "paychain/internal/db/chains"
	transcriptsdb "paychain/internal/db/transcripts"
	"paychain/internal/gateways/digitalriver"
	"paychain/internal/gateways/forte"
	"paychain/internal/observability"
	"paychain/internal/payments/runs"
	"paychain/internal/reliability"
	"paychain/internal/transcripts"
	"paychain/internal/transport"

	"go.uber.org/zap"
)

// DigitalRiverConfig points the Digital River adapter at the REST API. An
// empty BaseURL selects the in-memory API.
type DigitalRiverConfig struct {
	BaseURL string
	Token   string
}

// ForteConfig holds the Forte REST credentials. An empty BaseURL leaves the
// gateway unregistered.
type ForteConfig struct {
	BaseURL        string
	OrganizationID string
	LocationID     string
	AccessID       string
	SecureKey      string
}

// BuildConfig configures Build.
type BuildConfig struct {
	DatabaseDSN  string
	DigitalRiver DigitalRiverConfig
	Forte        ForteConfig
	Reliability  reliability.Config
	Sink         transcripts.Sink
	// ScrubRules run over transcripts before they reach the Postgres
	// transcript table. Sink is expected to apply its own.
	ScrubRules   scrub.RuleSet
	Metrics      *observability.Metrics
	Broadcaster  Broadcaster
}

// Build wires a Service from cfg. If the DSN is empty or Postgres cannot be
// initialized, runs are kept in memory. With Postgres enabled, transcripts are
// also written to the chain_transcripts table. The returned cleanup closes any
// external resources (e.g., DB connections).
func Build(ctx context.Context, cfg BuildConfig, logger *zap.Logger) (*Service, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cleanup := func() {}
	var store runs.Store = runs.NewMemoryStore()

	if cfg.DatabaseDSN != "" {
		sqlDB, err := sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			logger.Warn("postgres open failed, falling back to in-memory runs", zap.Error(err))
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			chainStore, err := chainsdb.NewChainStoreWithSchema(setupCtx, sqlDB)
			if err != nil {
				logger.Warn("postgres init failed, falling back to in-memory runs", zap.Error(err))
				_ = sqlDB.Close()
			} else {
				logger.Info("postgres chain store enabled")
				store = chainStore
				if transcriptStore, err := transcriptsdb.NewPostgresTranscriptStoreWithSchema(setupCtx, sqlDB); err != nil {
					logger.Warn("postgres transcript table unavailable", zap.Error(err))
				} else {
					cfg.Sink = transcripts.NewMultiSink(cfg.Sink, transcripts.NewScrubbingSink(transcriptStore, cfg.ScrubRules))
				}
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logger.Warn("close postgres", zap.Error(err))
					}
				}
			}
		}
	}

	processors, err := buildProcessors(cfg, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	return NewService(processors,
		WithStore(store),
		WithBroadcaster(cfg.Broadcaster),
		WithMetrics(cfg.Metrics),
		WithLogger(logger),
	), cleanup, nil
}

func buildProcessors(cfg BuildConfig, logger *zap.Logger) ([]Processor, error) {
	var processors []Processor

	// Clients scrub with their gateway's rules, and the gateway needs the
	// client first, so the scrubber resolves the gateway lazily.
	var drGateway *digitalriver.Gateway
	var drAPI digitalriver.API
	if cfg.DigitalRiver.BaseURL == "" {
		logger.Info("digital river base url unset, using in-memory api")
		drAPI = digitalriver.NewInMemoryAPI()
	} else {
		client, err := newClient(cfg, digitalriver.Name, cfg.DigitalRiver.BaseURL,
			digitalriver.BearerHeader(cfg.DigitalRiver.Token),
			func(s string) string { return drGateway.Scrub(s) }, logger)
		if err != nil {
			return nil, fmt.Errorf("digital river client: %w", err)
		}
		drAPI = digitalriver.NewHTTPAPI(client)
	}
	drGateway = digitalriver.New(drAPI, logger)
	processors = append(processors, DigitalRiver{Gateway: drGateway})

	if f := cfg.Forte; f.BaseURL != "" {
		var forteGateway *forte.Gateway
		token := base64.StdEncoding.EncodeToString([]byte(f.AccessID + ":" + f.SecureKey))
		client, err := newClient(cfg, forte.Name, f.BaseURL,
			forte.BasicHeader(f.OrganizationID, token),
			func(s string) string { return forteGateway.Scrub(s) }, logger)
		if err != nil {
			return nil, fmt.Errorf("forte client: %w", err)
		}
		forteGateway = forte.New(client, f.LocationID, logger)
		processors = append(processors, Forte{Gateway: forteGateway})
	}
	return processors, nil
}

func newClient(cfg BuildConfig, gateway, baseURL string, header http.Header, scrubFn func(string) string, logger *zap.Logger) (*transport.Client, error) {
	var onWait func(time.Duration)
	var metrics transport.Metrics
	if cfg.Metrics != nil {
		onWait = cfg.Metrics.AddRateLimitWait
		metrics = cfg.Metrics
	}
	return transport.New(transport.Config{
		Gateway: gateway,
		BaseURL: baseURL,
		Header:  header,
		Guard:   reliability.NewGuard(cfg.Reliability, transport.Retryable, onWait),
		Scrub:   scrubFn,
		Sink:    cfg.Sink,
		Metrics: metrics,
		Logger:  logger,
	})
}
