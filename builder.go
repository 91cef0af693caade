package sessionkit

import (
	"errors"
	"net/http"

	"github.com/sessionkit/sessionkit/identity"
	"github.com/sessionkit/sessionkit/internal/core"
	"github.com/sessionkit/sessionkit/jwks"
)

// Builder assembles an [Engine]. Configure it with the With* methods and
// call Build once; a Builder must not be reused.
type Builder struct {
	config Config

	identityStore identity.Store
	linkingPolicy identity.LinkingPolicy
	auditSink     AuditSink

	sessionOverrides []SessionOverride
	linkingOverrides []LinkingOverride
	plugins          []Plugin

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration, including anything set by
// an earlier WithConnection call.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithConnection sets the auth core address. Multiple replica hosts may be
// given separated by semicolons; they are tried in order.
func (b *Builder) WithConnection(connectionURI, apiKey string) *Builder {
	b.config.Core.ConnectionURI = connectionURI
	b.config.Core.APIKey = apiKey
	return b
}

func (b *Builder) WithIdentityStore(store identity.Store) *Builder {
	b.identityStore = store
	return b
}

func (b *Builder) WithLinkingPolicy(policy identity.LinkingPolicy) *Builder {
	b.linkingPolicy = policy
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithSessionOverride registers a session override. Overrides registered
// later wrap around those registered earlier.
func (b *Builder) WithSessionOverride(override SessionOverride) *Builder {
	b.sessionOverrides = append(b.sessionOverrides, override)
	return b
}

// WithLinkingOverride registers a linking override, layered like
// [Builder.WithSessionOverride].
func (b *Builder) WithLinkingOverride(override LinkingOverride) *Builder {
	b.linkingOverrides = append(b.linkingOverrides, override)
	return b
}

// WithPlugin registers a plugin. Plugins run during Build in dependency
// order and may register overrides of their own.
func (b *Builder) WithPlugin(p Plugin) *Builder {
	b.plugins = append(b.plugins, p)
	return b
}

// Build validates the configuration, runs registered plugins and returns
// the assembled engine. Call [Engine.Close] when done with it.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	// -------- PLUGINS --------
	// Plugins run first: they may adjust config and register overrides the
	// rest of Build composes.
	ordered, err := sortPlugins(b.plugins)
	if err != nil {
		return nil, err
	}
	for _, p := range ordered {
		if p.Init == nil {
			continue
		}
		if err := p.Init(b); err != nil {
			return nil, err
		}
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Linking.Enabled && b.identityStore == nil {
		return nil, errors.New("Linking requires an identity store")
	}

	// -------- CORE QUERIER --------
	client := cfg.Core.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Core.RequestTimeout}
	}
	querier, err := core.NewQuerier(cfg.Core.ConnectionURI, cfg.Core.APIKey, client)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:        cfg,
		querier:       querier,
		identityStore: b.identityStore,
		linkingPolicy: b.linkingPolicy,
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- SIGNING KEY CACHE --------
	keyCache, err := jwks.NewCache(querier.Hosts(), querier.FetchKeysFrom, jwks.Options{
		CacheDuration: cfg.Keys.CacheDuration,
		OnHit:         func() { engine.metricInc(MetricKeyCacheHit) },
		OnMiss:        func() { engine.metricInc(MetricKeyCacheMiss) },
		OnFallover: func(host string, err error) {
			engine.metricInc(MetricKeyFetchFallover)
			engine.warnf("sessionkit: key fetch from %s failed: %v", host, err)
		},
	})
	if err != nil {
		return nil, err
	}
	engine.keyCache = keyCache

	// -------- OVERRIDE COMPOSITION --------
	engine.session = composeSessionOverrides(baseSessionImpl{e: engine}, b.sessionOverrides)
	engine.linking = composeLinkingOverrides(baseLinkingImpl{e: engine}, b.linkingOverrides)

	b.built = true

	return engine, nil
}
