package memory

import (
	"context"
	"sort"
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
)

type jobRepository struct {
	s *Store
}

// NewJobRepository 内存任务仓储
func NewJobRepository(s *Store) repo.JobRepository {
	return &jobRepository{s: s}
}

func (r *jobRepository) dedupeHeldByOther(key, jobID string) bool {
	if key == "" {
		return false
	}
	for id, st := range r.s.jobs {
		if id != jobID && st.DedupeKey == key && st.Status.IsActive() {
			return true
		}
	}
	return false
}

func (r *jobRepository) CreateJob(ctx context.Context, job *entity.JobEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.dedupeHeldByOther(job.ActiveDedupeKey(), job.ID()) {
		return repo.ErrDuplicateDedupeKey
	}
	r.s.jobs[job.ID()] = job.State()
	r.s.jobSeq[job.ID()] = r.s.nextSeq()
	return nil
}

func (r *jobRepository) GetJobByID(ctx context.Context, jobID string) (*entity.JobEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return restoreJob(st), nil
}

func (r *jobRepository) GetActiveJobByDedupeKey(ctx context.Context, dedupeKey string) (*entity.JobEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.jobs {
		if st.DedupeKey == dedupeKey && st.Status.IsActive() {
			return restoreJob(st), nil
		}
	}
	return nil, nil
}

func (r *jobRepository) ListClaimable(ctx context.Context, types []string, now time.Time, limit int) ([]*entity.JobEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	typeSet := make(map[string]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}
	var out []entity.JobState
	for _, st := range r.s.jobs {
		if st.Status != vo.JobStatusPending || st.RunAt.After(now) {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[st.Type]; !ok {
				continue
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return r.s.jobSeq[out[i].ID] < r.s.jobSeq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return restoreJobs(out), nil
}

func (r *jobRepository) UpdateJob(ctx context.Context, job *entity.JobEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.jobs[job.ID()]
	if !ok || cur.Version != job.Version() {
		return repo.ErrVersionConflict
	}
	if r.dedupeHeldByOther(job.ActiveDedupeKey(), job.ID()) {
		return repo.ErrDuplicateDedupeKey
	}
	st := job.State()
	st.Version = cur.Version + 1
	r.s.jobs[job.ID()] = st
	job.SyncVersion(st.Version)
	return nil
}

func (r *jobRepository) ListJobs(ctx context.Context, filter repo.JobFilter) ([]*entity.JobEntity, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entity.JobState
	for _, st := range r.s.jobs {
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		if filter.Type != "" && st.Type != filter.Type {
			continue
		}
		if filter.WorkerID != "" && st.LockedBy != filter.WorkerID {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.s.jobSeq[out[i].ID] > r.s.jobSeq[out[j].ID]
	})
	start, end := paginate(len(out), filter.Offset, filter.Limit)
	return restoreJobs(out[start:end]), int64(len(out)), nil
}

func (r *jobRepository) ListRunningJobs(ctx context.Context) ([]*entity.JobEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entity.JobState
	for _, st := range r.s.jobs {
		if st.Status == vo.JobStatusRunning {
			out = append(out, st)
		}
	}
	return restoreJobs(out), nil
}

func (r *jobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, st := range r.s.jobs {
		if st.Status.IsTerminal() && st.FinishedAt != nil && st.FinishedAt.Before(cutoff) {
			delete(r.s.jobs, id)
			delete(r.s.jobSeq, id)
			n++
		}
	}
	return n, nil
}

func (r *jobRepository) GetJobStatistics(ctx context.Context) (*repo.JobStatistics, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := &repo.JobStatistics{
		ByStatus: make(map[string]int64),
		ByType:   make(map[string]int64),
	}
	for _, st := range r.s.jobs {
		stats.Total++
		stats.ByStatus[st.Status.String()]++
		stats.ByType[st.Type]++
	}
	return stats, nil
}

// restoreJob 返回与存储内容不共享 map 的实体
func restoreJob(st entity.JobState) *entity.JobEntity {
	return entity.RestoreJobEntity(entity.RestoreJobEntity(st).State())
}

func restoreJobs(list []entity.JobState) []*entity.JobEntity {
	out := make([]*entity.JobEntity, 0, len(list))
	for _, st := range list {
		out = append(out, restoreJob(st))
	}
	return out
}
