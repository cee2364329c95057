// Command server runs the regulated-data engine: the protected record
// stores, the append-only audit ledger, consent tracking, the retention
// scheduler and the compliance snapshot API behind one HTTP surface.
//
// With no CUSTODIA_POSTGRES_URL everything runs on in-memory stores, which
// is the local development and test mode. Postgres, Redis (token vault) and
// Kafka (audit stream mirror) are each enabled independently by their env
// vars.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"custodia/internal/audit"
	"custodia/internal/audit/relay"
	"custodia/internal/compliance"
	"custodia/internal/consent"
	"custodia/internal/jwttoken"
	"custodia/internal/patients"
	"custodia/internal/payments"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/metrics"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/protect"
	"custodia/internal/retention"
	httptransport "custodia/internal/transport/http"
	"custodia/internal/users"
	"custodia/pkg/platform/sentinel"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(logger.ParseLevel(cfg.LogLevel))
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.PostgresURL != "" {
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("open postgres", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping postgres", "error", err.Error())
			os.Exit(1)
		}
		if err := applySchemas(ctx, db); err != nil {
			log.Error("apply schemas", "error", err.Error())
			os.Exit(1)
		}
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Ledger first: the protector and every service record through it.
	var auditStore audit.Store
	if db != nil {
		auditStore = audit.NewPostgresStore(db)
	} else {
		auditStore = audit.NewInMemoryStore()
	}
	ledgerOpts := []audit.Option{
		audit.WithMetrics(m),
		audit.WithAppendTimeout(cfg.OperationTimeout),
	}
	if len(cfg.KafkaBrokers) > 0 {
		rel, err := relay.New(cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			log.Error("connect kafka", "error", err.Error())
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := rel.Close(closeCtx); err != nil {
				log.Warn("flush audit relay", "error", err.Error())
			}
		}()
		ledgerOpts = append(ledgerOpts, audit.WithMirror(rel))
	}
	ledger := audit.NewLedger(auditStore, log, ledgerOpts...)

	var vault protect.TokenVault
	if redisClient != nil {
		vault = protect.NewRedisVault(redisClient.Client)
	} else {
		vault = protect.NewInMemoryVault()
	}
	protector, err := protect.New(cfg.FieldKey, cfg.KeyVersion, vault, ledger)
	if err != nil {
		log.Error("init protector", "error", err.Error())
		os.Exit(1)
	}

	var (
		userStore      users.Store
		paymentStore   payments.Store
		patientStore   patients.Store
		consentStore   consent.Store
		retentionStore retention.Store
	)
	if db != nil {
		userStore = users.NewPostgresStore(db)
		paymentStore = payments.NewPostgresStore(db)
		patientStore = patients.NewPostgresStore(db)
		consentStore = consent.NewPostgresStore(db)
		retentionStore = retention.NewPostgresStore(db)
	} else {
		userStore = users.NewInMemoryStore()
		paymentStore = payments.NewInMemoryStore()
		patientStore = patients.NewInMemoryStore()
		consentStore = consent.NewInMemoryStore()
		retentionStore = retention.NewInMemoryStore()
	}
	defaults := retention.Defaults(int(cfg.TransactionRetention.Hours() / 24))
	if err := seedPolicies(ctx, retentionStore, defaults); err != nil {
		log.Error("seed retention defaults", "error", err.Error())
		os.Exit(1)
	}

	userOpts := []users.Option{users.WithMetrics(m)}
	paymentOpts := []payments.Option{payments.WithMetrics(m)}
	patientOpts := []patients.Option{patients.WithMetrics(m)}
	consentOpts := []consent.Option{consent.WithMetrics(m)}
	if db != nil {
		userOpts = append(userOpts, users.WithDB(db))
		paymentOpts = append(paymentOpts, payments.WithDB(db))
		patientOpts = append(patientOpts, patients.WithDB(db))
		consentOpts = append(consentOpts, consent.WithDB(db))
	}

	userSvc := users.NewService(userStore, protector, ledger, log, userOpts...)
	paymentSvc := payments.NewService(paymentStore, protector, ledger, log, paymentOpts...)
	patientSvc := patients.NewService(patientStore, protector, ledger, log, patientOpts...)
	consentSvc := consent.NewService(consentStore, ledger, log, consentOpts...)
	retentionSvc := retention.NewService(retentionStore, ledger, log)

	aggregator := compliance.NewAggregator(
		ledger, patientStore, paymentSvc, cfg.GDPRErasureSLA, log,
		compliance.WithMetrics(m),
	)

	scheduler := retention.NewScheduler(
		retentionStore,
		[]retention.Target{userSvc, paymentSvc, patientSvc},
		cfg.RetentionInterval,
		cfg.RetentionRunBudget,
		log,
		retention.WithSchedulerMetrics(m),
	)
	go scheduler.Run(ctx)

	tokens := jwttoken.NewService(cfg.JWTSigningKey, "custodia", "custodia-core")

	router := httptransport.NewRouter(httptransport.Services{
		Users:      userSvc,
		Payments:   paymentSvc,
		Patients:   patientSvc,
		Consent:    consentSvc,
		Audit:      ledger,
		Compliance: aggregator,
		Retention:  retentionSvc,
		Tokens:     tokens,
		Validator:  tokens,
		Health:     healthCheck(db, redisClient),
	}, log, m, cfg.OperationTimeout)

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("custodia listening", "addr", cfg.Addr,
			"postgres", db != nil, "redis", redisClient != nil, "kafka", len(cfg.KafkaBrokers) > 0)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
	}
}

func applySchemas(ctx context.Context, db *sql.DB) error {
	for _, schema := range []string{
		audit.Schema(),
		users.Schema(),
		payments.Schema(),
		patients.Schema(),
		consent.Schema(),
		retention.Schema(),
	} {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// seedPolicies installs default retention policies without overwriting
// operator changes from a previous run.
func seedPolicies(ctx context.Context, store retention.Store, defaults []retention.Policy) error {
	for _, policy := range defaults {
		_, err := store.Get(ctx, policy.DataType)
		if err == nil {
			continue
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		if err := store.Upsert(ctx, policy); err != nil {
			return err
		}
	}
	return nil
}

func healthCheck(db *sql.DB, redisClient *platformredis.Client) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
