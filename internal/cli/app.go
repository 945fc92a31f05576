package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyike/DFUChat/config"
	"github.com/dyike/DFUChat/internal/api"
	"github.com/dyike/DFUChat/internal/auth"
	"github.com/dyike/DFUChat/internal/chat"
	"github.com/dyike/DFUChat/internal/display"
	"github.com/dyike/DFUChat/internal/logger"
	"github.com/dyike/DFUChat/internal/storage/sqlite"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	backendURL string
	debug      bool
	plain      bool
}

// app is the wired client: configuration, storage, credential state and the
// API client. Commands build one per invocation and close it on exit.
type app struct {
	cfgMgr   *config.Manager
	cfgMu    sync.Mutex
	cfg      config.Config
	log      *logger.ZapLogger
	kv       *sqlite.Store
	creds    *auth.Credentials
	resolver *auth.Resolver
	client   *api.Client
	auth     *auth.Service
	printer  *display.Printer
}

func newApp(ctx context.Context, opts *globalOptions) (*app, error) {
	// Watch errors arrive only after Watch starts, by which time log is set.
	var log *logger.ZapLogger
	cfgMgr, err := config.NewManager(
		config.WithConfigPath(opts.configPath),
		config.WithErrorHandler(func(err error) {
			if log != nil {
				log.Warn("config", "configuration not applied", map[string]any{"error": err.Error()})
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	cfg := cfgMgr.Get()
	cfg.ApplyEnv()
	if opts.backendURL != "" {
		cfg.BackendURL = opts.backendURL
	}
	if opts.debug {
		cfg.Debug = true
	}
	if opts.plain {
		cfg.RenderMarkdown = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	log = logger.New(logger.Options{FilePath: cfg.LogFile, Console: cfg.Debug, Debug: cfg.Debug})

	kv, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("open local storage: %w", err)
	}

	creds := auth.NewCredentials(kv)
	if err := creds.Load(ctx); err != nil {
		log.Warn("cli", "load stored credential failed", map[string]any{"error": err.Error()})
	}
	resolver := auth.NewResolver(creds)

	a := &app{
		cfgMgr:   cfgMgr,
		cfg:      cfg,
		log:      log,
		kv:       kv,
		creds:    creds,
		resolver: resolver,
		printer:  display.New(display.Options{Markdown: cfg.RenderMarkdown, LinkBase: cfg.BackendURL}),
	}
	a.client = api.New(api.Options{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.RequestTimeout(),
		Token:   creds.Token,
		OnUnauthorized: func() {
			if a.auth != nil {
				a.auth.ForceSignOut()
			}
		},
		Logger: log,
	})
	a.auth = auth.NewService(a.client, creds, resolver, log)

	log.Debug("cli", "client ready", map[string]any{
		"backend": cfg.BackendURL,
		"regime":  boolToRegime(resolver.IsAccountRegime()).String(),
		"config":  cfgMgr.Path(),
	})
	return a, nil
}

// newOrchestrator builds and starts a chat orchestrator bound to the app's
// identity. An acquisition failure is returned alongside a usable
// orchestrator.
func (a *app) newOrchestrator(ctx context.Context) (*chat.Orchestrator, error) {
	orch, err := chat.New(chat.Deps{
		Backend:  a.client,
		Storage:  a.kv,
		Identity: a.resolver,
		Logger:   a.log,
	})
	if err != nil {
		return nil, err
	}
	return orch, orch.Start(ctx)
}

// applyConfig pushes a reloaded configuration into the live client.
func (a *app) applyConfig(cfg config.Config) {
	cfg.ApplyEnv()
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	if cfg.BackendURL != a.cfg.BackendURL {
		a.client.SetBaseURL(cfg.BackendURL)
		a.printer.SetLinkBase(cfg.BackendURL)
	}
	if cfg.RequestTimeoutSeconds != a.cfg.RequestTimeoutSeconds {
		a.client.SetTimeout(cfg.RequestTimeout())
	}
	a.log.Info("cli", "configuration reloaded", map[string]any{"backend": cfg.BackendURL})
	a.cfg = cfg
}

func (a *app) currentConfig() config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

func (a *app) userLabel() string {
	if u := a.creds.User(); u != nil {
		if u.Name != "" {
			return u.Name
		}
		return u.Email
	}
	return ""
}

func (a *app) close() {
	if err := a.kv.Close(); err != nil {
		a.log.Warn("cli", "close local storage failed", map[string]any{"error": err.Error()})
	}
	_ = a.log.Sync()
}

func boolToRegime(account bool) chat.Regime {
	if account {
		return chat.RegimeAccount
	}
	return chat.RegimeGuest
}
