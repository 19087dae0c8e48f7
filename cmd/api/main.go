package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"prodtrack.org/internal/auth"
	"prodtrack.org/internal/config"
	"prodtrack.org/internal/httpapi"
	"prodtrack.org/internal/migrate"
	"prodtrack.org/internal/notify"
	"prodtrack.org/internal/obs"
	"prodtrack.org/internal/store/pg"
	"prodtrack.org/internal/stream"
	"prodtrack.org/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	obs.ConfigureLogger(obs.LogOptions{Level: cfg.Log.Level, Format: cfg.Log.Format})
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, obs.TraceOptions{
		ServiceName: "prodtrack-api",
		Version:     version,
		Stdout:      cfg.Trace.Stdout,
	})
	if err != nil {
		log.WithError(err).Fatal("init tracing")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("api stopped with error")
	}

	tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdownTracing(tctx)
	log.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	var (
		store auth.Store
		inbox notify.InboxStore
		ready httpapi.ReadyProbe
	)
	if cfg.Database.DSN != "" {
		db, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.Migrations.Auto {
			if err := migrateUp(ctx, db, log); err != nil {
				return err
			}
		}
		store, inbox, ready = db, db, httpapi.ReadyProbe{DB: db.DB()}
		log.Info("using postgres store")
	} else {
		store, inbox = auth.NewMemoryStore(), notify.NewMemoryInbox()
		log.Warn("no database DSN configured, accounts are kept in memory")
	}

	hasher, err := auth.NewHasher(
		auth.WithAlgorithm(cfg.Auth.PasswordAlgorithm),
		auth.WithBcryptCost(cfg.Auth.BcryptCost),
	)
	if err != nil {
		return err
	}
	codec, err := auth.NewCodec(cfg.Auth.Secret,
		auth.WithSigningAlgorithm(cfg.Auth.Algorithm),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.TokenTTL()),
	)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, codec, auth.WithHasher(hasher), auth.WithLogger(log))
	if err != nil {
		return err
	}

	events := stream.NewBroker()
	notifier := notify.Multi{notify.NewLog(log), notify.NewInbox(inbox), notify.NewStream(events)}

	workflow, err := auth.NewWorkflow(store, hasher,
		auth.WithNotifier(notifier),
		auth.WithWorkflowLogger(log),
	)
	if err != nil {
		return err
	}
	defer workflow.Wait()

	accounts, err := auth.NewAccounts(store, hasher, notifier)
	if err != nil {
		return err
	}
	defer accounts.Wait()

	api, err := httpapi.New(httpapi.Deps{
		Auth:        svc,
		Workflow:    workflow,
		Accounts:    accounts,
		Inbox:       inbox,
		Events:      events,
		Ready:       ready,
		Version:     version,
		RateBurst:   cfg.HTTP.RateBurst,
		RatePerSec:  cfg.HTTP.RatePerSec,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE responses stay open, so no WriteTimeout.
		IdleTimeout: 60 * time.Second,
	}

	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(httpapi.UnaryLogging()))
	httpapi.NewGRPCServer(ready).Register(grpcSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": httpSrv.Addr, "version": version}).Info("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		log.WithField("addr", cfg.GRPC.Addr).Info("grpc listening")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}

func migrateUp(ctx context.Context, db *pg.Store, log *logrus.Logger) error {
	sqlFS, err := fs.Sub(migrations.SQL, "sql")
	if err != nil {
		return err
	}
	seedFS, err := fs.Sub(migrations.Seeds, "seeds")
	if err != nil {
		return err
	}
	applied, err := migrate.NewManager(db.DB(), sqlFS, seedFS, migrate.WithLogger(log)).Up(ctx)
	if err != nil {
		return err
	}
	log.WithField("applied", len(applied)).Info("migrations up to date")
	return nil
}
