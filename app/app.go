// Package app 按配置组装运行时：日志、数据库、记录缓存、事件总线、元数据访问，
// 并提供关联读取引擎与各表的更新模型。
package app

import (
	"context"
	stdErrors "errors"

	goredis "github.com/redis/go-redis/v9"

	"tablecore/cache"
	rediscache "tablecore/cache/redis"
	"tablecore/config"
	core "tablecore/data/db"
	"tablecore/data/db/basic"
	"tablecore/data/orm"
	"tablecore/data/orm/mutation"
	"tablecore/data/orm/relation"
	"tablecore/errors"
	"tablecore/hooks"
	"tablecore/logging"
	"tablecore/messaging"
	"tablecore/messaging/middleware"
	natstransport "tablecore/messaging/transport/nats"
	synctransport "tablecore/messaging/transport/sync"
	"tablecore/schema"
)

// App 运行时组件
type App struct {
	Config   *config.Config
	Logger   logging.Logger
	DB       core.IDatabase
	Registry *schema.Registry
	Accessor schema.Accessor
	Cache    cache.RecordCache
	// Bus 事件总线，hooks.transport 为 none 时为 nil
	Bus       *messaging.MessageBus
	Hooks     hooks.Dispatcher
	Relations *relation.Engine
	Links     *relation.LinkWriter

	closers []func() error
}

// New 按配置创建运行时；任一步失败时已打开的资源会被关闭
func New(ctx context.Context, cfg *config.Config, tables ...*orm.Table) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &App{Config: cfg}
	if err := rt.assemble(ctx, tables); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (a *App) assemble(ctx context.Context, tables []*orm.Table) error {
	cfg := a.Config
	if err := a.setupLogger(); err != nil {
		return err
	}
	db, err := basic.New(cfg.Database)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "连接数据库失败")
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if a.Registry, err = schema.NewRegistry(tables...); err != nil {
		return err
	}
	a.Accessor = a.Registry
	if cfg.Cache.SchemaTTL > 0 {
		a.Accessor = schema.NewCached(a.Registry, cfg.Cache.MaxSize, cfg.Cache.SchemaTTL)
	}

	a.setupCache()
	if err = a.setupHooks(ctx); err != nil {
		return err
	}

	a.Relations, err = relation.NewEngine(relation.Deps{
		DB:       a.DB,
		Accessor: a.Accessor,
		Logger:   a.Logger.WithFields(logging.String("component", "relation")),
		Config:   cfg.Engine.WithDefaults(),
	})
	if err != nil {
		return err
	}
	a.Links = relation.NewLinkWriter(a.DB, a.Accessor, a.Hooks, a.Logger.WithFields(logging.String("component", "relation.writer")))

	a.Logger.Info(ctx, "运行时已就绪",
		logging.String("driver", cfg.Database.Driver),
		logging.String("cache", cfg.Cache.Driver),
		logging.String("hooks", cfg.Hooks.Transport),
		logging.Int("tables", len(tables)))
	return nil
}

func (a *App) setupLogger() error {
	if a.Config.Logging.Level == "" {
		a.Logger = logging.GetLogger()
		return nil
	}
	zl, err := logging.NewZapFromConfig(a.Config.Logging.Level, a.Config.Logging.Development)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInvalidInput, "初始化日志失败")
	}
	logging.SetLogger(zl)
	a.Logger = zl
	a.closers = append(a.closers, func() error {
		_ = zl.Sync()
		return nil
	})
	return nil
}

func (a *App) setupCache() {
	c := a.Config.Cache
	switch c.Driver {
	case "local":
		a.Cache = cache.NewLocalRecordCache(c.MaxSize, c.TTL)
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: c.RedisAddr, DB: c.RedisDB, Password: c.RedisPass})
		a.closers = append(a.closers, client.Close)
		a.Cache = rediscache.New(client, rediscache.Config{Prefix: c.RedisPrefix, TTL: c.TTL})
	default:
		a.Cache = cache.NopRecordCache{}
	}
}

func (a *App) setupHooks(ctx context.Context) error {
	h := a.Config.Hooks
	var transport messaging.Transport
	switch h.Transport {
	case "sync":
		transport = synctransport.NewTransport()
	case "nats":
		transport = natstransport.NewTransport(natstransport.Config{
			URL:           h.NatsURL,
			SubjectPrefix: h.SubjectPrefix,
			Queue:         h.Queue,
			Logger:        a.Logger.WithFields(logging.String("component", "transport.nats")),
		})
	default:
		a.Hooks = hooks.Noop{}
		return nil
	}

	if err := transport.Start(ctx); err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "启动事件传输失败")
	}
	a.closers = append(a.closers, transport.Close)
	a.Bus = messaging.NewMessageBus(transport)
	a.Bus.Use(middleware.Correlation{})
	a.Bus.Use(middleware.NewLogging(a.Logger.WithFields(logging.String("component", "messaging"))))
	a.Hooks = hooks.NewBusDispatcher(a.Bus, a.Logger.WithFields(logging.String("component", "hooks.bus")))
	return nil
}

// Model 返回绑定到 tableID 的更新模型
func (a *App) Model(ctx context.Context, tableID string) (*mutation.Model, error) {
	table, err := a.Accessor.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return mutation.NewModel(mutation.Deps{
		DB:       a.DB,
		Accessor: a.Accessor,
		Hooks:    a.Hooks,
		Cache:    a.Cache,
		Links:    a.Links,
		Logger: a.Logger.WithFields(
			logging.String("component", "mutation"),
			logging.String("table", table.ID)),
		Config: a.Config.Engine,
	}, table)
}

// Close 按创建的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stdErrors.Join(errs...)
}
