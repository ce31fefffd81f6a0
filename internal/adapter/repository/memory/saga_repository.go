package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/google/uuid"
)

type SagaRepository struct {
	mu          sync.RWMutex
	sagas       map[string]domain.Saga
	businessKey map[string]string
}

func NewSagaRepository() *SagaRepository {
	return &SagaRepository{
		sagas:       map[string]domain.Saga{},
		businessKey: map[string]string{},
	}
}

func (r *SagaRepository) Create(_ context.Context, saga domain.Saga) (domain.Saga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.businessKey[saga.BusinessKey]; taken {
		return domain.Saga{}, domain.ErrDuplicateBusinessKey
	}

	saga.Version = 1
	assignStepIDs(&saga)
	r.sagas[saga.ID.String()] = saga
	r.businessKey[saga.BusinessKey] = saga.ID.String()
	return saga, nil
}

func (r *SagaRepository) Update(_ context.Context, saga domain.Saga) (domain.Saga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sagas[saga.ID.String()]
	if !ok {
		return domain.Saga{}, domain.ErrRecordNotFound
	}
	if current.Version != saga.Version {
		return domain.Saga{}, domain.ErrVersionConflict
	}

	saga.Version++
	assignStepIDs(&saga)
	r.sagas[saga.ID.String()] = saga
	return saga, nil
}

func (r *SagaRepository) GetByID(_ context.Context, id domain.SagaID) (domain.Saga, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	saga, ok := r.sagas[id.String()]
	if !ok {
		return domain.Saga{}, domain.ErrRecordNotFound
	}
	return saga, nil
}

func (r *SagaRepository) GetByBusinessKey(_ context.Context, businessKey string) (domain.Saga, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.businessKey[businessKey]
	if !ok {
		return domain.Saga{}, domain.ErrRecordNotFound
	}
	return r.sagas[id], nil
}

func (r *SagaRepository) ListActive(_ context.Context) ([]domain.Saga, error) {
	return r.list(func(saga domain.Saga) bool {
		return !saga.IsTerminal()
	})
}

func (r *SagaRepository) ListNeedingCompensation(_ context.Context) ([]domain.Saga, error) {
	return r.list(func(saga domain.Saga) bool {
		return saga.Status == domain.SagaStatusFailed || saga.Status == domain.SagaStatusCompensating
	})
}

func (r *SagaRepository) list(keep func(domain.Saga) bool) ([]domain.Saga, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Saga
	for _, saga := range r.sagas {
		if keep(saga) {
			out = append(out, saga)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func assignStepIDs(saga *domain.Saga) {
	steps := make([]domain.SagaStep, len(saga.Steps))
	copy(steps, saga.Steps)
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
	}
	saga.Steps = steps
}
