package persistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/database/convertor"
	"acquisition-service/ddd/infrastructure/database/dao"
	"acquisition-service/ddd/infrastructure/database/po"
)

type templateRepositoryImpl struct {
	templateDao *dao.TemplateDao
	convertor   *convertor.PipelineConvertor
}

// NewTemplateRepository 创建模板仓储实现
func NewTemplateRepository(db *gorm.DB) repo.TemplateRepository {
	return &templateRepositoryImpl{
		templateDao: dao.NewTemplateDao(db),
		convertor:   convertor.NewPipelineConvertor(),
	}
}

func (r *templateRepositoryImpl) CreateTemplate(ctx context.Context, tpl *entity.PipelineTemplateEntity) error {
	err := r.templateDao.Create(ctx, r.convertor.TemplateToPO(tpl))
	if isDuplicate(err) {
		return fmt.Errorf("template %s already exists", tpl.ID())
	}
	return err
}

func (r *templateRepositoryImpl) UpdateTemplate(ctx context.Context, tpl *entity.PipelineTemplateEntity) error {
	ok, err := r.templateDao.Update(ctx, r.convertor.TemplateToPO(tpl))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("template %s not found", tpl.ID())
	}
	return nil
}

func (r *templateRepositoryImpl) GetTemplateByID(ctx context.Context, templateID string) (*entity.PipelineTemplateEntity, error) {
	p, err := r.templateDao.GetByTemplateID(ctx, templateID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.convertor.POToTemplate(p), nil
}

func (r *templateRepositoryImpl) ListTemplates(ctx context.Context, mediaType string) ([]*entity.PipelineTemplateEntity, error) {
	list, err := r.templateDao.List(ctx, mediaType)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.PipelineTemplateEntity, 0, len(list))
	for _, p := range list {
		out = append(out, r.convertor.POToTemplate(p))
	}
	return out, nil
}

func (r *templateRepositoryImpl) DeleteTemplate(ctx context.Context, templateID string) error {
	return r.templateDao.Delete(ctx, templateID)
}

type executionRepositoryImpl struct {
	executionDao *dao.ExecutionDao
	convertor    *convertor.PipelineConvertor
}

// NewExecutionRepository 创建执行仓储实现
func NewExecutionRepository(db *gorm.DB) repo.ExecutionRepository {
	return &executionRepositoryImpl{
		executionDao: dao.NewExecutionDao(db),
		convertor:    convertor.NewPipelineConvertor(),
	}
}

func (r *executionRepositoryImpl) CreateExecution(ctx context.Context, exec *entity.RequestExecutionEntity, runs []*entity.StepRunEntity) error {
	list := make([]*po.StepRunPO, 0, len(runs))
	for _, run := range runs {
		list = append(list, r.convertor.StepRunToPO(run))
	}
	return r.executionDao.CreateWithRuns(ctx, r.convertor.ExecutionToPO(exec), list)
}

func (r *executionRepositoryImpl) GetExecutionByID(ctx context.Context, executionID string) (*entity.RequestExecutionEntity, error) {
	p, err := r.executionDao.GetByExecutionID(ctx, executionID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.convertor.POToExecution(p), nil
}

func (r *executionRepositoryImpl) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]*entity.RequestExecutionEntity, int64, error) {
	list, total, err := r.executionDao.List(ctx, filter.Status.String(), filter.RequestID, filter.Offset, filter.Limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*entity.RequestExecutionEntity, 0, len(list))
	for _, p := range list {
		out = append(out, r.convertor.POToExecution(p))
	}
	return out, total, nil
}

func (r *executionRepositoryImpl) UpdateExecution(ctx context.Context, exec *entity.RequestExecutionEntity) error {
	expected := exec.Version()
	p := r.convertor.ExecutionToPO(exec)
	p.Version = expected + 1
	ok, err := r.executionDao.UpdateWithVersion(ctx, p, expected)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", exec.ID(), err)
	}
	if !ok {
		return repo.ErrVersionConflict
	}
	exec.SyncVersion(p.Version)
	return nil
}

func (r *executionRepositoryImpl) getStepRun(ctx context.Context, column, value string) (*entity.StepRunEntity, error) {
	p, err := r.executionDao.GetStepRun(ctx, column, value)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.convertor.POToStepRun(p), nil
}

func (r *executionRepositoryImpl) GetStepRunByID(ctx context.Context, stepRunID string) (*entity.StepRunEntity, error) {
	return r.getStepRun(ctx, "step_run_id", stepRunID)
}

func (r *executionRepositoryImpl) GetStepRunByJobID(ctx context.Context, jobID string) (*entity.StepRunEntity, error) {
	if jobID == "" {
		return nil, nil
	}
	return r.getStepRun(ctx, "job_id", jobID)
}

func (r *executionRepositoryImpl) ListStepRuns(ctx context.Context, executionID string) ([]*entity.StepRunEntity, error) {
	list, err := r.executionDao.ListStepRuns(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return r.convertor.POListToStepRuns(list), nil
}

func (r *executionRepositoryImpl) ListStepRunsByStatus(ctx context.Context, status vo.StepRunStatus) ([]*entity.StepRunEntity, error) {
	list, err := r.executionDao.ListStepRunsByStatus(ctx, status.String())
	if err != nil {
		return nil, err
	}
	return r.convertor.POListToStepRuns(list), nil
}

func (r *executionRepositoryImpl) UpdateStepRun(ctx context.Context, run *entity.StepRunEntity) error {
	expected := run.Version()
	p := r.convertor.StepRunToPO(run)
	p.Version = expected + 1
	ok, err := r.executionDao.UpdateStepRunWithVersion(ctx, p, expected)
	if err != nil {
		return fmt.Errorf("update step run %s: %w", run.ID(), err)
	}
	if !ok {
		return repo.ErrVersionConflict
	}
	run.SyncVersion(p.Version)
	return nil
}
