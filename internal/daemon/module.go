package daemon

import (
	"context"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/edit"
	"github.com/matheus3301/dmsync/internal/httpapi"
	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/logging"
	"github.com/matheus3301/dmsync/internal/messaging"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/optimistic"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/presence"
	"github.com/matheus3301/dmsync/internal/rank"
	"github.com/matheus3301/dmsync/internal/relay"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/store"
	intsync "github.com/matheus3301/dmsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const searchCacheSize = 128

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Settings    config.Session
	// AutoConnect dials the relay as soon as the daemon is up.
	AutoConnect bool
	LogLevel    zapcore.Level
	Quiet       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMessageStore,
			providePresence,
			provideQueue,
			provideRelay,
			provideHTTPAPI,
			provideEditEngine,
			provideExecutor,
			provideSearchCache,
			provideSyncEngine,
			provideSender,
			provideMessaging,
			provideOrganizer,
			provideControl,
			provideMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.ForSession(session.LogPath(p.SessionName), p.SessionName, p.LogLevel, p.Quiet)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by the
// daemon that owns the session.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.StateDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMessageStore() *msgstore.Store {
	return msgstore.New()
}

func providePresence() *presence.Tracker {
	return presence.NewTracker()
}

func provideQueue(p Params) *outbox.Queue {
	return outbox.NewQueue(p.Settings.EditRetry.MaxAttempts)
}

func provideRelay(p Params, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *relay.Conn {
	rc := p.Settings.Reconnect
	return relay.New(relay.Config{
		URL: p.Settings.RelayURL,
		Reconnect: relay.ReconnectPolicy{
			BaseDelay:   rc.BaseDelay.Duration,
			MaxDelay:    rc.MaxDelay.Duration,
			MaxAttempts: rc.MaxAttempts,
		},
	}, machine, b, logger.Named("relay"))
}

func provideHTTPAPI(p Params) *httpapi.Client {
	return httpapi.New(p.Settings.APIURL, p.Settings.Token, p.Settings.UserID, nil)
}

func provideEditEngine(p Params, ms *msgstore.Store, conn *relay.Conn, hc *httpapi.Client, q *outbox.Queue, b *bus.Bus, logger *zap.Logger) *edit.Engine {
	e := edit.NewEngine(ms, conn, hc, q, b, logger.Named("edit"))
	e.SetUser(p.Settings.UserID)
	return e
}

func provideExecutor(ms *msgstore.Store, hc *httpapi.Client, b *bus.Bus, logger *zap.Logger) (*optimistic.Executor, optimistic.States) {
	states := optimistic.Router{Messages: ms, Others: optimistic.NewLedger()}
	return optimistic.NewExecutor(states, hc, b, logger.Named("optimistic")), states
}

func provideSearchCache(p Params, hc *httpapi.Client) *rank.SearchCache {
	return rank.NewSearchCache(hc, searchCacheSize, p.Settings.SearchCacheTTL.Duration)
}

func provideSyncEngine(ms *msgstore.Store, tracker *presence.Tracker, edits *edit.Engine, conn *relay.Conn, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(ms, tracker, edits, conn, b, logger.Named("sync"))
}

func provideSender(q *outbox.Queue, conn *relay.Conn, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(q, conn, b, logger.Named("outbox"))
}

func provideMessaging(p Params, ms *msgstore.Store, conn *relay.Conn, q *outbox.Queue, search *rank.SearchCache, db *store.DB, b *bus.Bus, logger *zap.Logger) *messaging.Service {
	svc := messaging.NewService(ms, conn, q, search, db, b, logger.Named("messaging"))
	svc.SetDisplayName(p.Settings.UserName)
	return svc
}

func provideOrganizer(ms *msgstore.Store, db *store.DB, b *bus.Bus, logger *zap.Logger) (*messaging.Organizer, error) {
	o := messaging.NewOrganizer(ms, db, b, logger.Named("organizer"))
	if err := o.Load(); err != nil {
		return nil, err
	}
	return o, nil
}

func provideControl(
	p Params,
	conn *relay.Conn,
	ms *msgstore.Store,
	svc *messaging.Service,
	org *messaging.Organizer,
	edits *edit.Engine,
	actions *optimistic.Executor,
	states optimistic.States,
	tracker *presence.Tracker,
	q *outbox.Queue,
	sender *outbox.Sender,
	b *bus.Bus,
	logger *zap.Logger,
) *api.Control {
	return api.NewControl(api.Deps{
		Account: api.Account{
			Session: p.SessionName,
			Token:   p.Settings.Token,
			UserID:  p.Settings.UserID,
		},
		Conn:      conn,
		Store:     ms,
		Messaging: svc,
		Organizer: org,
		Edits:     edits,
		Actions:   actions,
		States:    states,
		Presence:  tracker,
		Queue:     q,
		Sender:    sender,
		Bus:       b,
		Logger:    logger.Named("control"),
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *Server,
	ms *MetricsServer,
	lk *lock.Lock,
	db *store.DB,
	conn *relay.Conn,
	engine *intsync.Engine,
	sender *outbox.Sender,
	svc *messaging.Service,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Handlers must be on the connection before the first dial.
			if err := engine.Register(); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			ms.Start()
			sender.Start(context.Background())

			if p.AutoConnect {
				go func() {
					if err := conn.Connect(context.Background(), p.Settings.Token, p.Settings.UserID); err != nil {
						logger.Warn("auto-connect failed, reconnecting in background", zap.Error(err))
					}
				}()
			} else {
				logger.Info("auto-connect disabled, waiting for Connect")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			svc.Leave()
			conn.Disconnect()
			srv.Stop(ctx)
			ms.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
