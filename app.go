package main

import (
	"context"
	"fmt"

	"crm-backend/internal/cache"
	"crm-backend/internal/config"
	"crm-backend/internal/crm"
	"crm-backend/internal/database"
	"crm-backend/internal/notify"
	"crm-backend/internal/realtime"
	"crm-backend/internal/remote"
	"crm-backend/internal/supabase"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// app holds the components shared by serve and worker.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	db       *database.Database
	store    *database.Store
	supabase *supabase.Client
	redis    *redis.Client
	qc       *cache.QueryClient
	notifier *notify.Notifier
	svc      *crm.Service
}

func newApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, supabase: supabase.NewClient(cfg)}

	var rc remote.Client = a.supabase.AsService()
	if cfg.DataSource == "postgres" {
		db, err := database.NewConnection(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.store = database.NewStore(db, log)
		rc = a.store
	}

	a.qc = cache.NewQueryClient(cache.NewStore(), cache.Options{
		StaleTime:  cfg.Cache.StaleTime,
		Retry:      cfg.Cache.Retry,
		RetryDelay: cfg.Cache.RetryDelay,
	}, log)
	if cfg.Redis.URL != "" {
		rdb, err := cache.DialRedis(ctx, cfg.Redis.URL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = rdb
		a.qc.WithBackend(cache.NewRedisBackend(rdb, cfg.Redis.InvalidateChannel, cfg.Cache.SharedTTL))
	}

	a.notifier = notify.NewNotifier(log, 0)
	a.svc = crm.NewService(crm.Deps{
		Cache:          a.qc,
		Remote:         rc,
		Functions:      a.supabase.AsService(),
		Auth:           a.supabase,
		Sink:           a.notifier,
		Log:            log,
		InvitationCode: cfg.Signup.InvitationCode,
	})
	return a, nil
}

// source opens the configured change event source.
func (a *app) source() (realtime.Source, error) {
	switch a.cfg.Realtime.Source {
	case "", "memory":
		return realtime.NewMemorySource(), nil
	case "amqp":
		return a.amqp(), nil
	case "postgres":
		return realtime.NewPGSource(a.cfg.GetDatabaseURL(), a.cfg.Realtime.Channel, a.log), nil
	}
	return nil, fmt.Errorf("unknown realtime source %q", a.cfg.Realtime.Source)
}

func (a *app) amqp() *realtime.AMQPSource {
	return realtime.NewAMQPSource(realtime.AMQPConfig{
		URL:                         a.cfg.RabbitMQ.URL,
		Exchange:                    a.cfg.RabbitMQ.Exchange,
		ReconnectBackoffBaseSeconds: a.cfg.RabbitMQ.ReconnectBackoffBaseSeconds,
		ReconnectBackoffCapSeconds:  a.cfg.RabbitMQ.ReconnectBackoffCapSeconds,
	}, a.log)
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
