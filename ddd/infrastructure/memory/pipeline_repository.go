package memory

import (
	"context"
	"fmt"
	"sort"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
)

type templateRepository struct {
	s *Store
}

// NewTemplateRepository 内存模板仓储
func NewTemplateRepository(s *Store) repo.TemplateRepository {
	return &templateRepository{s: s}
}

func (r *templateRepository) CreateTemplate(ctx context.Context, tpl *entity.PipelineTemplateEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.templates[tpl.ID()]; ok {
		return fmt.Errorf("template %s already exists", tpl.ID())
	}
	r.s.templates[tpl.ID()] = tpl.State()
	return nil
}

func (r *templateRepository) UpdateTemplate(ctx context.Context, tpl *entity.PipelineTemplateEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.templates[tpl.ID()]; !ok {
		return fmt.Errorf("template %s not found", tpl.ID())
	}
	r.s.templates[tpl.ID()] = tpl.State()
	return nil
}

func (r *templateRepository) GetTemplateByID(ctx context.Context, templateID string) (*entity.PipelineTemplateEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.templates[templateID]
	if !ok {
		return nil, nil
	}
	return restoreTemplate(st), nil
}

func (r *templateRepository) ListTemplates(ctx context.Context, mediaType string) ([]*entity.PipelineTemplateEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*entity.PipelineTemplateEntity, 0, len(r.s.templates))
	for _, st := range r.s.templates {
		if mediaType != "" && st.MediaType != mediaType {
			continue
		}
		out = append(out, restoreTemplate(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

func (r *templateRepository) DeleteTemplate(ctx context.Context, templateID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.templates, templateID)
	return nil
}

func restoreTemplate(st entity.TemplateState) *entity.PipelineTemplateEntity {
	st.Steps = vo.CloneSteps(st.Steps)
	return entity.RestorePipelineTemplateEntity(st)
}

type executionRepository struct {
	s *Store
}

// NewExecutionRepository 内存执行仓储
func NewExecutionRepository(s *Store) repo.ExecutionRepository {
	return &executionRepository{s: s}
}

func (r *executionRepository) CreateExecution(ctx context.Context, exec *entity.RequestExecutionEntity, runs []*entity.StepRunEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.execs[exec.ID()]; ok {
		return fmt.Errorf("execution %s already exists", exec.ID())
	}
	r.s.execs[exec.ID()] = exec.State()
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		r.s.runs[run.ID()] = run.State()
		ids = append(ids, run.ID())
	}
	r.s.runOrder[exec.ID()] = ids
	return nil
}

func (r *executionRepository) GetExecutionByID(ctx context.Context, executionID string) (*entity.RequestExecutionEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.execs[executionID]
	if !ok {
		return nil, nil
	}
	return restoreExecution(st), nil
}

func (r *executionRepository) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]*entity.RequestExecutionEntity, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []entity.ExecutionState
	for _, st := range r.s.execs {
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		if filter.RequestID != "" && st.RequestID != filter.RequestID {
			continue
		}
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	start, end := paginate(len(list), filter.Offset, filter.Limit)
	out := make([]*entity.RequestExecutionEntity, 0, end-start)
	for _, st := range list[start:end] {
		out = append(out, restoreExecution(st))
	}
	return out, int64(len(list)), nil
}

func (r *executionRepository) UpdateExecution(ctx context.Context, exec *entity.RequestExecutionEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.execs[exec.ID()]
	if !ok || cur.Version != exec.Version() {
		return repo.ErrVersionConflict
	}
	st := exec.State()
	st.Version = cur.Version + 1
	r.s.execs[exec.ID()] = st
	exec.SyncVersion(st.Version)
	return nil
}

func (r *executionRepository) GetStepRunByID(ctx context.Context, stepRunID string) (*entity.StepRunEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.runs[stepRunID]
	if !ok {
		return nil, nil
	}
	return restoreStepRun(st), nil
}

func (r *executionRepository) GetStepRunByJobID(ctx context.Context, jobID string) (*entity.StepRunEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if jobID == "" {
		return nil, nil
	}
	for _, st := range r.s.runs {
		if st.JobID == jobID {
			return restoreStepRun(st), nil
		}
	}
	return nil, nil
}

func (r *executionRepository) ListStepRuns(ctx context.Context, executionID string) ([]*entity.StepRunEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := r.s.runOrder[executionID]
	out := make([]*entity.StepRunEntity, 0, len(ids))
	for _, id := range ids {
		if st, ok := r.s.runs[id]; ok {
			out = append(out, restoreStepRun(st))
		}
	}
	return out, nil
}

func (r *executionRepository) ListStepRunsByStatus(ctx context.Context, status vo.StepRunStatus) ([]*entity.StepRunEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.StepRunEntity
	for _, st := range r.s.runs {
		if st.Status == status {
			out = append(out, restoreStepRun(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out, nil
}

func (r *executionRepository) UpdateStepRun(ctx context.Context, run *entity.StepRunEntity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.runs[run.ID()]
	if !ok || cur.Version != run.Version() {
		return repo.ErrVersionConflict
	}
	st := run.State()
	st.Version = cur.Version + 1
	r.s.runs[run.ID()] = st
	run.SyncVersion(st.Version)
	return nil
}

func restoreExecution(st entity.ExecutionState) *entity.RequestExecutionEntity {
	st.Steps = vo.CloneSteps(st.Steps)
	return entity.RestoreRequestExecutionEntity(st)
}

func restoreStepRun(st entity.StepRunState) *entity.StepRunEntity {
	return entity.RestoreStepRunEntity(entity.RestoreStepRunEntity(st).State())
}
