package workflow

import (
	"context"
	"sync"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
	"github.com/financer/ledger-core/internal/usecase/services"
)

type SagaJob struct {
	SagaID domain.SagaID
}

// Pool runs queued sagas on a fixed set of workers. Submit is non-blocking;
// a full queue is reported to the caller instead of applying backpressure.
type Pool struct {
	jobs        chan SagaJob
	coordinator *services.SagaCoordinator
	wg          sync.WaitGroup
}

func NewPool(bufferSize int, coordinator *services.SagaCoordinator) *Pool {
	return &Pool{
		jobs:        make(chan SagaJob, bufferSize),
		coordinator: coordinator,
	}
}

func (p *Pool) Start(workerCount int) {
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		saga, report, err := p.coordinator.RunSaga(context.Background(), job.SagaID)
		if err != nil {
			fields := logger.Fields{
				"sagaId": job.SagaID.String(),
				"status": string(saga.Status),
			}
			if report != nil {
				fields["compensatedSteps"] = len(report.CompensatedSteps)
				fields["compensationFailures"] = len(report.Failures)
			}
			logger.Error("saga run failed", err, fields)
			continue
		}

		logger.Info("saga run finished", logger.Fields{
			"sagaId": job.SagaID.String(),
			"status": string(saga.Status),
		})
	}
}

func (p *Pool) Submit(job SagaJob) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
}
