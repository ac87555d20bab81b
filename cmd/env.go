package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveline/prospector/internal/channel"
	"github.com/groveline/prospector/internal/engine"
	"github.com/groveline/prospector/internal/policy"
	"github.com/groveline/prospector/internal/store"
	"github.com/groveline/prospector/pkg/searchapi"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "prospector.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func loadPolicy() (policy.Tables, error) {
	if cfg.Policy.File == "" {
		return policy.Defaults(), nil
	}
	tables, err := policy.LoadFile(cfg.Policy.File)
	if err != nil {
		return policy.Tables{}, eris.Wrap(err, "load policy tables")
	}
	zap.L().Info("loaded policy overrides", zap.String("file", cfg.Policy.File))
	return tables, nil
}

func initSenders() (*channel.Registry, error) {
	registry := channel.NewRegistry()

	if cfg.SMTP.Host != "" {
		registry.Register(channel.NewSMTPSender(channel.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
		}))
	}
	if cfg.Mailbox.BaseURL != "" {
		registry.Register(channel.NewMailboxSender(channel.MailboxConfig{
			BaseURL: cfg.Mailbox.BaseURL,
			APIKey:  cfg.Mailbox.Token,
		}))
	}
	if cfg.Gateway.BaseURL != "" {
		err := channel.RegisterGatewayChannels(registry, channel.GatewayConfig{
			BaseURL: cfg.Gateway.BaseURL,
			APIKey:  cfg.Gateway.Key,
		})
		if err != nil {
			return nil, err
		}
	}

	if len(registry.Channels()) == 0 {
		return nil, eris.New("no send backends configured; set smtp, mailbox, or gateway")
	}
	return registry, nil
}

type env struct {
	Store  store.Store
	Engine *engine.Engine
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initEngine(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	tables, err := loadPolicy()
	if err != nil {
		st.Close()
		return nil, err
	}

	senders, err := initSenders()
	if err != nil {
		st.Close()
		return nil, err
	}

	search := searchapi.NewClient(cfg.Search.Key,
		searchapi.WithReaderBaseURL(cfg.Search.BaseURL),
		searchapi.WithSearchBaseURL(cfg.Search.SearchBaseURL),
	)

	searchInterval := time.Second
	if cfg.Search.RateLimit > 0 {
		searchInterval = time.Second / time.Duration(cfg.Search.RateLimit)
	}

	eng, err := engine.New(st, search, senders, tables, engine.Config{
		MaxQueriesPerRun:   cfg.Discovery.MaxQueriesPerRun,
		ExtractBatch:       cfg.Extract.BatchSize,
		SendDelayMin:       time.Duration(cfg.Send.MinDelaySecs) * time.Second,
		SendDelayMax:       time.Duration(cfg.Send.MaxDelaySecs) * time.Second,
		OrgConcurrency:     cfg.Outreach.OrgParallelism,
		SearchInterval:     searchInterval,
		DirectoryBlocklist: cfg.Discovery.DirectoryBlocklist,
		PagePaths:          cfg.Extract.PagePaths,
		PageTimeout:        time.Duration(cfg.Extract.PageTimeoutSecs) * time.Second,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &env{Store: st, Engine: eng}, nil
}
