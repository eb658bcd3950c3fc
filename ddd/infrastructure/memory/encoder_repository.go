package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
)

type encoderRepository struct {
	s *Store
}

// NewEncoderRepository 内存编码节点仓储
func NewEncoderRepository(s *Store) repo.EncoderRepository {
	return &encoderRepository{s: s}
}

func (r *encoderRepository) SaveEncoder(ctx context.Context, enc *entity.RemoteEncoderEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := enc.State()
	if cur, ok := r.s.encoders[st.EncoderID]; ok {
		// 计数器与统计只由分配事务维护
		st.CurrentJobs = cur.CurrentJobs
		st.TotalCompleted = cur.TotalCompleted
		st.TotalFailed = cur.TotalFailed
		st.RegisteredAt = cur.RegisteredAt
		if st.Status.CanAccept() {
			st.Status = busyStatus(cur.CurrentJobs)
		}
	}
	r.s.encoders[st.EncoderID] = st
	return nil
}

func (r *encoderRepository) GetEncoderByID(ctx context.Context, encoderID string) (*entity.RemoteEncoderEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.encoders[encoderID]
	if !ok {
		return nil, nil
	}
	return entity.RestoreRemoteEncoderEntity(st), nil
}

func (r *encoderRepository) ListEncoders(ctx context.Context) ([]*entity.RemoteEncoderEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*entity.RemoteEncoderEntity, 0, len(r.s.encoders))
	for _, st := range r.s.encoders {
		out = append(out, entity.RestoreRemoteEncoderEntity(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EncoderID() < out[j].EncoderID() })
	return out, nil
}

func (r *encoderRepository) TouchHeartbeat(ctx context.Context, encoderID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.encoders[encoderID]
	if !ok {
		return false, nil
	}
	st.LastHeartbeat = now
	st.UpdatedAt = now
	if st.Status == vo.EncoderOffline {
		st.Status = busyStatus(st.CurrentJobs)
	}
	r.s.encoders[encoderID] = st
	return true, nil
}

func (r *encoderRepository) MarkOfflineIfStale(ctx context.Context, encoderID string, staleBefore, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.encoders[encoderID]
	if !ok || st.Status == vo.EncoderOffline || !st.LastHeartbeat.Before(staleBefore) {
		return false, nil
	}
	st.Status = vo.EncoderOffline
	st.UpdatedAt = now
	r.s.encoders[encoderID] = st
	return true, nil
}

func busyStatus(current int) vo.EncoderStatus {
	if current > 0 {
		return vo.EncoderEncoding
	}
	return vo.EncoderIdle
}

type assignmentRepository struct {
	s *Store
}

// NewAssignmentRepository 内存分配仓储
func NewAssignmentRepository(s *Store) repo.AssignmentRepository {
	return &assignmentRepository{s: s}
}

func (r *assignmentRepository) CreateAssignment(ctx context.Context, a *entity.EncoderAssignmentEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.assigns[a.ID()]; ok {
		return fmt.Errorf("assignment %s already exists", a.ID())
	}
	r.s.assigns[a.ID()] = a.State()
	r.s.assignSeq[a.ID()] = r.s.nextSeq()
	return nil
}

func (r *assignmentRepository) GetAssignmentByID(ctx context.Context, assignmentID string) (*entity.EncoderAssignmentEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.assigns[assignmentID]
	if !ok {
		return nil, nil
	}
	return restoreAssignment(st), nil
}

func (r *assignmentRepository) GetLatestAssignmentByJobID(ctx context.Context, jobID string) (*entity.EncoderAssignmentEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var (
		found   *entity.AssignmentState
		bestSeq int64
	)
	for id, st := range r.s.assigns {
		if st.JobID != jobID {
			continue
		}
		if seq := r.s.assignSeq[id]; found == nil || seq > bestSeq {
			st := st
			found, bestSeq = &st, seq
		}
	}
	if found == nil {
		return nil, nil
	}
	return restoreAssignment(*found), nil
}

func (r *assignmentRepository) ListAssignments(ctx context.Context, filter repo.AssignmentFilter) ([]*entity.EncoderAssignmentEntity, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	statuses := make(map[vo.AssignmentStatus]struct{}, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = struct{}{}
	}
	var list []entity.AssignmentState
	for _, st := range r.s.assigns {
		if len(statuses) > 0 {
			if _, ok := statuses[st.Status]; !ok {
				continue
			}
		}
		if filter.EncoderID != "" && st.EncoderID != filter.EncoderID {
			continue
		}
		if filter.JobID != "" && st.JobID != filter.JobID {
			continue
		}
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool { return r.s.assignSeq[list[i].ID] > r.s.assignSeq[list[j].ID] })
	start, end := paginate(len(list), filter.Offset, filter.Limit)
	out := make([]*entity.EncoderAssignmentEntity, 0, end-start)
	for _, st := range list[start:end] {
		out = append(out, restoreAssignment(st))
	}
	return out, int64(len(list)), nil
}

func (r *assignmentRepository) ListPendingAssignments(ctx context.Context) ([]*entity.EncoderAssignmentEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []entity.AssignmentState
	for _, st := range r.s.assigns {
		if st.Status == vo.AssignmentPending {
			list = append(list, st)
		}
	}
	sort.Slice(list, func(i, j int) bool { return r.s.assignSeq[list[i].ID] < r.s.assignSeq[list[j].ID] })
	out := make([]*entity.EncoderAssignmentEntity, 0, len(list))
	for _, st := range list {
		out = append(out, restoreAssignment(st))
	}
	return out, nil
}

func (r *assignmentRepository) UpdateAssignment(ctx context.Context, a *entity.EncoderAssignmentEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.casLocked(a)
}

func (r *assignmentRepository) casLocked(a *entity.EncoderAssignmentEntity) error {
	cur, ok := r.s.assigns[a.ID()]
	if !ok || cur.Version != a.Version() {
		return repo.ErrVersionConflict
	}
	st := a.State()
	st.Version = cur.Version + 1
	r.s.assigns[a.ID()] = st
	a.SyncVersion(st.Version)
	return nil
}

func (r *assignmentRepository) AssignToEncoder(ctx context.Context, a *entity.EncoderAssignmentEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	enc, ok := r.s.encoders[a.EncoderID()]
	if !ok || !enc.Status.CanAccept() || enc.CurrentJobs >= enc.MaxConcurrent {
		return repo.ErrCapacityExhausted
	}
	if cur, ok := r.s.assigns[a.ID()]; !ok || cur.Version != a.Version() {
		return repo.ErrVersionConflict
	}
	if err := r.casLocked(a); err != nil {
		return err
	}
	enc.CurrentJobs++
	enc.Status = vo.EncoderEncoding
	enc.UpdatedAt = a.UpdatedAt()
	r.s.encoders[enc.EncoderID] = enc
	return nil
}

func (r *assignmentRepository) ReleaseFromEncoder(ctx context.Context, a *entity.EncoderAssignmentEntity, encoderID string, outcome repo.ReleaseOutcome) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.casLocked(a); err != nil {
		return err
	}
	enc, ok := r.s.encoders[encoderID]
	if !ok {
		return nil
	}
	if enc.CurrentJobs > 0 {
		enc.CurrentJobs--
	}
	switch outcome {
	case repo.ReleaseCompleted:
		enc.TotalCompleted++
	case repo.ReleaseFailed:
		enc.TotalFailed++
	}
	if enc.Status.CanAccept() {
		enc.Status = busyStatus(enc.CurrentJobs)
	}
	enc.UpdatedAt = a.UpdatedAt()
	r.s.encoders[encoderID] = enc
	return nil
}

func restoreAssignment(st entity.AssignmentState) *entity.EncoderAssignmentEntity {
	return entity.RestoreEncoderAssignmentEntity(entity.RestoreEncoderAssignmentEntity(st).State())
}
