// Package tracehound is the system's single wiring point: one
// constructor assembling the Agent, Quarantine, Audit Chain, Rate
// Limiter, Hound Pool, Fail-Safe, Cold Storage, and Notification Bus from
// a Config. Per the project's Open Question decision to unify the two
// upstream wiring variants (with/without a license manager, with/without
// a hound pool) into one constructor taking explicit optional
// collaborators, every optional piece is a functional Option rather than
// a second constructor.
package tracehound

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracehound/tracehound/internal/audit"
	"github.com/tracehound/tracehound/internal/codec"
	"github.com/tracehound/tracehound/internal/coldstorage"
	"github.com/tracehound/tracehound/internal/config"
	"github.com/tracehound/tracehound/internal/factory"
	"github.com/tracehound/tracehound/internal/failsafe"
	"github.com/tracehound/tracehound/internal/hound"
	"github.com/tracehound/tracehound/internal/interceptor"
	"github.com/tracehound/tracehound/internal/ipc"
	"github.com/tracehound/tracehound/internal/notify"
	"github.com/tracehound/tracehound/internal/quarantine"
	"github.com/tracehound/tracehound/internal/ratelimit"
)

// System is the fully-wired Tracehound instance.
type System struct {
	Agent         *interceptor.Agent
	Quarantine    *quarantine.Quarantine
	AuditChain    audit.Chain
	RateLimiter   *ratelimit.Limiter
	FailSafe      *failsafe.FailSafe
	Notify        *notify.Bus
	SecurityState *notify.SecurityState

	HoundPool  *hound.Pool    // nil unless WithHoundPool is supplied
	LicenseKey *rsa.PublicKey // nil unless WithLicenseGate is supplied

	logger *slog.Logger

	lastErrorCount int64
	lastPollAt     time.Time
	monitorStop    chan struct{}
	monitorDone    chan struct{}
	monitorOnce    sync.Once
}

// Option customizes System construction.
type Option func(*options)

type options struct {
	houndAdapter *ipc.Adapter
	licenseKey   *rsa.PublicKey
	logger       *slog.Logger
	pgPool       *pgxpool.Pool
}

// WithHoundPool enables the Hound Pool, wiring it against the IPC
// process adapter. Omitting this option leaves evidence quarantined
// without out-of-process analysis.
func WithHoundPool(adapter *ipc.Adapter) Option {
	return func(o *options) { o.houndAdapter = adapter }
}

// WithLicenseGate enables license-gated feature checks against the given
// RSA public key. Omitting this option means every license-gated feature
// reports unavailable.
func WithLicenseGate(pubKey *rsa.PublicKey) Option {
	return func(o *options) { o.licenseKey = pubKey }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPostgresPool supplies the pool a "postgres" Cold Storage backend
// uses. Required only when cfg.ColdStorageBackend == "postgres"; the
// caller owns the pool's lifecycle.
func WithPostgresPool(pool *pgxpool.Pool) Option {
	return func(o *options) { o.pgPool = pool }
}

// New assembles a System from cfg and chain, which the caller opens via
// audit.OpenFileChain, audit.OpenSQLiteChain, or audit.OpenPostgresChain
// depending on deployment.
func New(ctx context.Context, cfg *config.Config, chain audit.Chain, opts ...Option) (*System, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	bus := notify.New(o.logger)
	state := notify.NewSecurityState()
	state.Attach(bus)

	limiter, lerr := ratelimit.New(ratelimit.Config{
		WindowMs:        cfg.RateLimit.WindowMs,
		MaxRequests:     cfg.RateLimit.MaxRequests,
		BlockDurationMs: cfg.RateLimit.BlockDurationMs,
	})
	if lerr != nil {
		return nil, fmt.Errorf("tracehound: rate limiter: %w", lerr)
	}
	limiter.SetNotifyBus(bus)

	q := quarantine.New(quarantine.Config{
		MaxCount:       cfg.Quarantine.MaxCount,
		MaxBytes:       cfg.Quarantine.MaxBytes,
		EvictionPolicy: cfg.Quarantine.EvictionPolicy,
	}, chain)
	q.SetNotify(bus, state)

	if cfg.ColdStorageBackend != "" {
		adapter, cerr := buildColdStorage(ctx, cfg, o.pgPool)
		if cerr != nil {
			return nil, fmt.Errorf("tracehound: cold storage: %w", cerr)
		}
		q.SetColdStorage(adapter, codec.NewSyncHotCodec(), "quarantine-eviction")
	}

	f := factory.New()
	agent := interceptor.New(limiter, f, q, cfg.MaxPayloadSize, o.logger)
	agent.SetNotifyBus(bus)

	fs := failsafe.New(failsafe.Config{
		Quarantine: thresholdsFrom(cfg.FailSafe.Quarantine),
		Memory:     thresholdsFrom(cfg.FailSafe.Memory),
		ErrorRate:  thresholdsFrom(cfg.FailSafe.ErrorRate),
	}, o.logger)
	fs.OnAny(func(ev failsafe.Event) {
		o.logger.Warn("fail-safe threshold crossed",
			slog.String("probe", string(ev.Probe)),
			slog.String("level", string(ev.Level)),
			slog.Float64("value", ev.Value))
	})

	sys := &System{
		Agent:         agent,
		Quarantine:    q,
		AuditChain:    chain,
		RateLimiter:   limiter,
		FailSafe:      fs,
		Notify:        bus,
		SecurityState: state,
		logger:        o.logger,
		lastPollAt:    time.Now(),
		monitorStop:   make(chan struct{}),
		monitorDone:   make(chan struct{}),
	}

	if o.houndAdapter != nil {
		sys.HoundPool = hound.New(hound.Config{
			PoolSize:        cfg.HoundPool.PoolSize,
			Timeout:         time.Duration(cfg.HoundPool.TimeoutMs) * time.Millisecond,
			RotationJitter:  time.Duration(cfg.HoundPool.RotationJitterMs) * time.Millisecond,
			OnPoolExhausted: hound.ExhaustionPolicy(cfg.HoundPool.OnPoolExhausted),
			DeferQueueLimit: cfg.HoundPool.DeferQueueLimit,
			ScriptPath:      cfg.HoundPool.ScriptPath,
		}, o.houndAdapter, o.logger)
		// A typed-nil *hound.Pool assigned to the HoundActivator interface
		// would make the interface itself non-nil, so this call must stay
		// inside the houndAdapter-configured branch.
		agent.SetHoundPool(sys.HoundPool)
	}

	if o.licenseKey != nil {
		sys.LicenseKey = o.licenseKey
	}

	go sys.runMonitor(time.Duration(cfg.FailSafe.PollIntervalMs)*time.Millisecond, cfg.FailSafe.MemoryMaxBytes, cfg.Quarantine.MaxCount)

	return sys, nil
}

func thresholdsFrom(t config.ThresholdConfig) failsafe.Thresholds {
	return failsafe.Thresholds{Warning: t.Warning, Critical: t.Critical, Emergency: t.Emergency}
}

func buildColdStorage(ctx context.Context, cfg *config.Config, pgPool *pgxpool.Pool) (*coldstorage.Adapter, error) {
	switch cfg.ColdStorageBackend {
	case "filesystem":
		return coldstorage.NewFilesystem(cfg.ColdStorageEndpoint, "evidence/")
	case "s3":
		return coldstorage.NewS3(ctx, coldstorage.S3Config{Bucket: cfg.ColdStorageEndpoint, Region: cfg.ColdStorageRegion, Prefix: "evidence/"})
	case "postgres":
		if pgPool == nil {
			return nil, fmt.Errorf("cold_storage_backend \"postgres\" requires WithPostgresPool")
		}
		return coldstorage.NewPostgres(ctx, pgPool, "evidence/")
	default:
		return nil, fmt.Errorf("unknown cold_storage_backend %q", cfg.ColdStorageBackend)
	}
}

// runMonitor periodically feeds Fail-Safe's three probes from live system
// state until Shutdown closes monitorStop. memoryMaxBytes of zero
// disables the memory probe (CheckMemory is a no-op against a zero max).
func (s *System) runMonitor(interval time.Duration, memoryMaxBytes int64, quarantineMax int) {
	defer close(s.monitorDone)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.monitorStop:
			return
		case now := <-ticker.C:
			s.pollOnce(now, memoryMaxBytes, quarantineMax)
		}
	}
}

func (s *System) pollOnce(now time.Time, memoryMaxBytes int64, quarantineMax int) {
	stats := s.Quarantine.Stats()
	s.FailSafe.CheckQuarantine(stats.Count, quarantineMax)

	errCount := s.Agent.Counters().Error.Load()
	elapsedMin := now.Sub(s.lastPollAt).Minutes()
	if elapsedMin > 0 {
		s.FailSafe.CheckErrorRate(float64(errCount-s.lastErrorCount) / elapsedMin)
	}
	s.lastErrorCount = errCount
	s.lastPollAt = now

	if memoryMaxBytes > 0 {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		s.FailSafe.CheckMemory(int64(mem.HeapAlloc), memoryMaxBytes)
	}
}

// Shutdown releases every background resource the System owns: the
// monitor loop, the hound pool's children, and the audit chain's
// file/connection handle.
func (s *System) Shutdown() error {
	s.monitorOnce.Do(func() { close(s.monitorStop) })
	<-s.monitorDone
	if s.HoundPool != nil {
		s.HoundPool.Shutdown()
	}
	return s.AuditChain.Close()
}
