// Package memory provides in-process repositories with the same conditional-update
// semantics as the SQL store. Used by tests and by database.driver=memory.
package memory

import (
	"sync"

	"acquisition-service/ddd/domain/entity"
)

// Store 所有内存仓储共享的数据，单把锁保证事务语义
type Store struct {
	mu sync.Mutex

	jobs      map[string]entity.JobState
	jobSeq    map[string]int64
	seq       int64
	workers   map[string]entity.WorkerState
	templates map[string]entity.TemplateState
	execs     map[string]entity.ExecutionState
	runs      map[string]entity.StepRunState
	runOrder  map[string][]string
	encoders  map[string]entity.EncoderState
	assigns   map[string]entity.AssignmentState
	assignSeq map[string]int64
}

func NewStore() *Store {
	return &Store{
		jobs:      make(map[string]entity.JobState),
		jobSeq:    make(map[string]int64),
		workers:   make(map[string]entity.WorkerState),
		templates: make(map[string]entity.TemplateState),
		execs:     make(map[string]entity.ExecutionState),
		runs:      make(map[string]entity.StepRunState),
		runOrder:  make(map[string][]string),
		encoders:  make(map[string]entity.EncoderState),
		assigns:   make(map[string]entity.AssignmentState),
		assignSeq: make(map[string]int64),
	}
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

func paginate(total, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
