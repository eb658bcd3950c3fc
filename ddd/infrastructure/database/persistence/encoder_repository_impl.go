package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/database/convertor"
	"acquisition-service/ddd/infrastructure/database/dao"
)

type encoderRepositoryImpl struct {
	encoderDao *dao.EncoderDao
	convertor  *convertor.EncoderConvertor
}

// NewEncoderRepository 创建编码节点仓储实现
func NewEncoderRepository(db *gorm.DB) repo.EncoderRepository {
	return &encoderRepositoryImpl{
		encoderDao: dao.NewEncoderDao(db),
		convertor:  convertor.NewEncoderConvertor(),
	}
}

func (r *encoderRepositoryImpl) SaveEncoder(ctx context.Context, enc *entity.RemoteEncoderEntity) error {
	return r.encoderDao.Save(ctx, r.convertor.EncoderToPO(enc))
}

func (r *encoderRepositoryImpl) GetEncoderByID(ctx context.Context, encoderID string) (*entity.RemoteEncoderEntity, error) {
	p, err := r.encoderDao.GetByEncoderID(ctx, encoderID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.convertor.POToEncoder(p), nil
}

func (r *encoderRepositoryImpl) ListEncoders(ctx context.Context) ([]*entity.RemoteEncoderEntity, error) {
	list, err := r.encoderDao.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.RemoteEncoderEntity, 0, len(list))
	for _, p := range list {
		out = append(out, r.convertor.POToEncoder(p))
	}
	return out, nil
}

func (r *encoderRepositoryImpl) TouchHeartbeat(ctx context.Context, encoderID string, now time.Time) (bool, error) {
	return r.encoderDao.TouchHeartbeat(ctx, encoderID, now)
}

func (r *encoderRepositoryImpl) MarkOfflineIfStale(ctx context.Context, encoderID string, staleBefore, now time.Time) (bool, error) {
	return r.encoderDao.MarkOfflineIfStale(ctx, encoderID, staleBefore, now)
}

type assignmentRepositoryImpl struct {
	assignmentDao *dao.AssignmentDao
	convertor     *convertor.EncoderConvertor
}

// NewAssignmentRepository 创建编码分配仓储实现
func NewAssignmentRepository(db *gorm.DB) repo.AssignmentRepository {
	return &assignmentRepositoryImpl{
		assignmentDao: dao.NewAssignmentDao(db),
		convertor:     convertor.NewEncoderConvertor(),
	}
}

func (r *assignmentRepositoryImpl) CreateAssignment(ctx context.Context, a *entity.EncoderAssignmentEntity) error {
	err := r.assignmentDao.Create(ctx, r.convertor.AssignmentToPO(a))
	if isDuplicate(err) {
		return fmt.Errorf("assignment %s already exists", a.ID())
	}
	return err
}

func (r *assignmentRepositoryImpl) GetAssignmentByID(ctx context.Context, assignmentID string) (*entity.EncoderAssignmentEntity, error) {
	p, err := r.assignmentDao.GetByAssignmentID(ctx, assignmentID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.convertor.POToAssignment(p), nil
}

func (r *assignmentRepositoryImpl) GetLatestAssignmentByJobID(ctx context.Context, jobID string) (*entity.EncoderAssignmentEntity, error) {
	p, err := r.assignmentDao.GetLatestByJobID(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.convertor.POToAssignment(p), nil
}

func (r *assignmentRepositoryImpl) ListAssignments(ctx context.Context, filter repo.AssignmentFilter) ([]*entity.EncoderAssignmentEntity, int64, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, s.String())
	}
	list, total, err := r.assignmentDao.List(ctx, statuses, filter.EncoderID, filter.JobID, filter.Offset, filter.Limit)
	if err != nil {
		return nil, 0, err
	}
	return r.convertor.POListToAssignments(list), total, nil
}

func (r *assignmentRepositoryImpl) ListPendingAssignments(ctx context.Context) ([]*entity.EncoderAssignmentEntity, error) {
	list, err := r.assignmentDao.ListByStatus(ctx, vo.AssignmentPending.String())
	if err != nil {
		return nil, err
	}
	return r.convertor.POListToAssignments(list), nil
}

func (r *assignmentRepositoryImpl) UpdateAssignment(ctx context.Context, a *entity.EncoderAssignmentEntity) error {
	expected := a.Version()
	p := r.convertor.AssignmentToPO(a)
	p.Version = expected + 1
	ok, err := r.assignmentDao.UpdateWithVersion(ctx, p, expected)
	if err != nil {
		return fmt.Errorf("update assignment %s: %w", a.ID(), err)
	}
	if !ok {
		return repo.ErrVersionConflict
	}
	a.SyncVersion(p.Version)
	return nil
}

func (r *assignmentRepositoryImpl) AssignToEncoder(ctx context.Context, a *entity.EncoderAssignmentEntity) error {
	expected := a.Version()
	p := r.convertor.AssignmentToPO(a)
	p.Version = expected + 1
	slot, updated, err := r.assignmentDao.AssignTx(ctx, p, expected)
	if err != nil {
		return fmt.Errorf("assign %s to encoder %s: %w", a.ID(), a.EncoderID(), err)
	}
	if !slot {
		return repo.ErrCapacityExhausted
	}
	if !updated {
		return repo.ErrVersionConflict
	}
	a.SyncVersion(p.Version)
	return nil
}

func (r *assignmentRepositoryImpl) ReleaseFromEncoder(ctx context.Context, a *entity.EncoderAssignmentEntity, encoderID string, outcome repo.ReleaseOutcome) error {
	var completed, failed int64
	switch outcome {
	case repo.ReleaseCompleted:
		completed = 1
	case repo.ReleaseFailed:
		failed = 1
	}
	expected := a.Version()
	p := r.convertor.AssignmentToPO(a)
	p.Version = expected + 1
	ok, err := r.assignmentDao.ReleaseTx(ctx, p, expected, encoderID, completed, failed)
	if err != nil {
		return fmt.Errorf("release %s from encoder %s: %w", a.ID(), encoderID, err)
	}
	if !ok {
		return repo.ErrVersionConflict
	}
	a.SyncVersion(p.Version)
	return nil
}
