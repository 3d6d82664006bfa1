package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/punchamoorthee/payflow/internal/action"
	"github.com/punchamoorthee/payflow/internal/api"
	"github.com/punchamoorthee/payflow/internal/config"
	"github.com/punchamoorthee/payflow/internal/domain"
	"github.com/punchamoorthee/payflow/internal/gateway"
	"github.com/punchamoorthee/payflow/internal/lock"
	"github.com/punchamoorthee/payflow/internal/notify"
	"github.com/punchamoorthee/payflow/internal/reconcile"
	"github.com/punchamoorthee/payflow/internal/schedule"
	"github.com/punchamoorthee/payflow/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, cfg.DBSource)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer pool.Close()

	// Stores
	accounts := store.NewAccountStore(pool)
	held := store.NewHeldBalanceStore(pool)
	transfers := store.NewTransferStore(pool)
	schedules := store.NewScheduleStore(pool)
	lockRows := store.NewLockStore(pool)
	pins := store.NewPinStore(pool)
	txm := store.NewTxManager(pool)

	// Collaborators
	audit := notify.NewAuditLogger(pool, logger)
	var dispatcher domain.NotificationDispatcher = notify.NopDispatcher{}
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("unable to connect to broker: %v", err)
		}
		defer conn.Close()
		dispatcher, err = notify.NewAMQPDispatcher(conn, cfg.AMQPExchange, logger)
		if err != nil {
			log.Fatalf("unable to set up notification exchange: %v", err)
		}
	}

	// Engine
	locks := lock.NewManager(lockRows, cfg.LockTTL, cfg.LockRetryInterval)
	settlement := gateway.NewAdapter(gateway.NewBankClient(cfg.BankBaseURL), gateway.Options{
		Timeout:          cfg.GatewayTimeout,
		MaxRetries:       cfg.GatewayMaxRetries,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		BackoffCap:       cfg.BackoffCap,
	}, logger)

	internalAction := action.NewInternalTransferAction(accounts, held, transfers, locks, txm, cfg.LockTimeout)
	registry := action.NewRegistry()
	for _, a := range []action.Action{
		internalAction,
		action.NewExternalTransferAction(accounts, held, transfers, locks, txm, settlement, cfg.LockTimeout),
		action.NewPinTransferAction(internalAction, pins),
	} {
		if err := registry.Register(a); err != nil {
			log.Fatal(err)
		}
	}

	processor := action.NewProcessor(registry, transfers, txm, audit, dispatcher, logger)

	engine := schedule.NewEngine(schedules, txm, processor, schedule.Options{
		PollInterval:     cfg.SchedulePollInterval,
		BatchSize:        cfg.ScheduleBatchSize,
		RetrySpacing:     cfg.ScheduleRetrySpacing,
		MaxFailureStreak: cfg.MaxFailureStreak,
	}, logger)
	go engine.Run(ctx)

	sweeper := reconcile.NewSweeper(transfers, accounts, held, locks, txm, settlement, audit, reconcile.Options{
		Interval:    cfg.SweepInterval,
		GracePeriod: cfg.SweepGracePeriod,
		MaxAge:      cfg.MaxReconcileAge,
		BatchSize:   cfg.SweepBatchSize,
		LockTimeout: cfg.LockTimeout,
	}, logger)
	go sweeper.Run(ctx)

	handler := api.NewHandler(processor, engine, accounts, transfers, schedules)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler.Router()}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
