package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/financer/ledger-core/internal/adapter/accounts"
	"github.com/financer/ledger-core/internal/adapter/events"
	"github.com/financer/ledger-core/internal/adapter/repository/postgres"
	"github.com/financer/ledger-core/internal/adapter/workflow"
	"github.com/financer/ledger-core/internal/config"
	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
	"github.com/financer/ledger-core/internal/usecase/service_interfaces"
	"github.com/financer/ledger-core/internal/usecase/services"
)

var (
	_ service_interfaces.TransactionService  = (*services.TransactionService)(nil)
	_ service_interfaces.SagaService         = (*services.SagaService)(nil)
	_ service_interfaces.TransferSagaService = (*services.TransferSagaService)(nil)
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := postgres.RunMigrations(ctx, cfg.DatabaseDSN, cfg.MigrationsDir); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	db, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	transactionRepo := postgres.NewTransactionRepository(db)
	sagaRepo := postgres.NewSagaRepository(db)
	accountLedger := accounts.NewMemoryLedger()
	publisher := events.NewLogPublisher()

	transactionService := services.NewTransactionService(accountLedger, transactionRepo, publisher)
	sagaService := services.NewSagaService(sagaRepo)
	executor := services.NewAccountStepExecutor(accountLedger)
	coordinator := services.NewSagaCoordinator(sagaService, executor)
	transferService := services.NewTransferSagaService(transactionService, sagaService, coordinator)

	pool := workflow.NewPool(cfg.WorkflowQueueSize, coordinator)
	pool.Start(cfg.WorkflowWorkers)
	defer pool.Shutdown()

	runtime := workflow.NewInProcessRuntime(coordinator, sagaService, pool)

	if err := transferService.RecoverPendingCompensations(ctx); err != nil {
		logger.Error("compensation recovery failed", err, nil)
	}
	if err := resumeUnstartedSagas(ctx, sagaService, runtime); err != nil {
		logger.Error("saga resumption failed", err, nil)
	}

	logger.Info("ledger core ready", logger.Fields{
		"workers":   cfg.WorkflowWorkers,
		"queueSize": cfg.WorkflowQueueSize,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("ledger core shutting down", nil)
}

// resumeUnstartedSagas queues sagas that were created but never started by a
// previous process. Sagas already EXECUTING are left to the compensation
// sweep once their steps report outcomes.
func resumeUnstartedSagas(ctx context.Context, sagaService *services.SagaService, runtime workflow.Runtime) error {
	sagas, err := sagaService.ActiveSagas(ctx)
	if err != nil {
		return err
	}

	for _, saga := range sagas {
		if saga.Status != domain.SagaStatusInitiated {
			continue
		}

		if err := runtime.StartWorkflow(ctx, saga.ID); err != nil {
			logger.Error("saga resume enqueue failed", err, logger.Fields{
				"sagaId": saga.ID.String(),
			})
			continue
		}

		logger.Info("saga resumed", logger.Fields{
			"sagaId":      saga.ID.String(),
			"businessKey": saga.BusinessKey,
		})
	}

	return nil
}
