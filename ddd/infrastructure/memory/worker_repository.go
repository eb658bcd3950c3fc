package memory

import (
	"context"
	"sort"
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
)

type workerRepository struct {
	s *Store
}

// NewWorkerRepository 内存 Worker 仓储
func NewWorkerRepository(s *Store) repo.WorkerRepository {
	return &workerRepository{s: s}
}

func (r *workerRepository) SaveWorker(ctx context.Context, worker *entity.WorkerEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.workers[worker.ID()] = worker.State()
	return nil
}

func (r *workerRepository) GetWorkerByID(ctx context.Context, workerID string) (*entity.WorkerEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.workers[workerID]
	if !ok {
		return nil, nil
	}
	return entity.RestoreWorkerEntity(st), nil
}

func (r *workerRepository) ListWorkers(ctx context.Context) ([]*entity.WorkerEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*entity.WorkerEntity, 0, len(r.s.workers))
	for _, st := range r.s.workers {
		out = append(out, entity.RestoreWorkerEntity(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt().Before(out[j].StartedAt()) })
	return out, nil
}

func (r *workerRepository) TouchHeartbeat(ctx context.Context, workerID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.workers[workerID]
	if !ok || st.Status != vo.WorkerStatusActive {
		return false, nil
	}
	st.LastHeartbeat = now
	st.UpdatedAt = now
	r.s.workers[workerID] = st
	return true, nil
}

func (r *workerRepository) MarkDeadIfStale(ctx context.Context, workerID string, staleBefore, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.workers[workerID]
	if !ok || st.Status != vo.WorkerStatusActive || !st.LastHeartbeat.Before(staleBefore) {
		return false, nil
	}
	w := entity.RestoreWorkerEntity(st)
	w.MarkDead(now)
	r.s.workers[workerID] = w.State()
	return true, nil
}
