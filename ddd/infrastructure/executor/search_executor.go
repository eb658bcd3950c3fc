package executor

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/logger"
)

// ErrNoCandidates 检索没有结果，按可重试处理（资源可能稍后出现）
var ErrNoCandidates = errors.New("no release candidates found")

// SearchExecutor SEARCH 步骤：调用检索服务并选出最佳候选
type SearchExecutor struct {
	provider     gateway.SearchProvider
	defaultLimit int
}

func NewSearchExecutor(provider gateway.SearchProvider, defaultLimit int) *SearchExecutor {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	return &SearchExecutor{provider: provider, defaultLimit: defaultLimit}
}

func (e *SearchExecutor) Type() vo.StepType { return vo.StepTypeSearch }

// Execute 结果中的 url/title 供下游 DOWNLOAD 使用
func (e *SearchExecutor) Execute(ctx context.Context, job *entity.JobEntity, ctl port.JobControl) (map[string]interface{}, error) {
	payload := port.StepPayloadFromJob(job)
	query := payload.LookupString("query")
	if query == "" {
		query = payload.LookupString("title")
	}
	if query == "" {
		return nil, failure.Permanentf("search job %s has no query", job.ID())
	}

	limit := e.defaultLimit
	if v := payload.LookupString("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	if err := ctl.Checkpoint(ctx); err != nil {
		return nil, err
	}
	candidates, err := e.provider.Search(ctx, gateway.SearchQuery{
		RequestID: payload.RequestID,
		Query:     query,
		MediaType: payload.LookupString("mediaType"),
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, failure.Transient(ErrNoCandidates)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	best := candidates[0]
	logger.Infof("search finished job_id=%s query=%q candidates=%d best=%q score=%.2f",
		job.ID(), query, len(candidates), best.Title, best.Score)

	list := make([]interface{}, 0, len(candidates))
	for _, c := range candidates {
		list = append(list, map[string]interface{}{
			"title":   c.Title,
			"url":     c.URL,
			"size":    c.Size,
			"seeders": c.Seeders,
			"score":   c.Score,
			"source":  c.Source,
		})
	}
	return map[string]interface{}{
		"query":      query,
		"title":      best.Title,
		"url":        best.URL,
		"size":       best.Size,
		"source":     best.Source,
		"candidates": list,
	}, nil
}
