package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/application/app"
	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/infrastructure/memory"
	"acquisition-service/pkg/config"
)

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

func newTestEngine(t *testing.T, jwt config.JWTConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	bus := event.NewBus()
	jobs := memory.NewJobRepository(store)
	workers := memory.NewWorkerRepository(store)
	queue := service.NewJobQueueService(jobs, workers, bus)
	pipeline := service.NewPipelineService(memory.NewTemplateRepository(store), memory.NewExecutionRepository(store), queue, bus,
		service.WithApprovalTimers(false))
	t.Cleanup(pipeline.Close)
	dispatch := service.NewDispatchService(memory.NewEncoderRepository(store), memory.NewAssignmentRepository(store), bus)

	router := NewRouter(
		app.NewJobApp(queue, service.NewWorkerService(workers, jobs, nil), 7),
		app.NewPipelineApp(pipeline),
		app.NewEncoderApp(dispatch),
		bus,
		jwt,
	)
	engine := gin.New()
	router.SetupMiddleware(engine)
	router.SetupRoutes(engine)
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestJobRoutes(t *testing.T) {
	engine := newTestEngine(t, config.JWTConfig{})

	w, env := doJSON(t, engine, http.MethodPost, "/api/v1/jobs", gin.H{"type": "SEARCH", "payload": gin.H{"query": "dune"}, "dedupeKey": "search:dune"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, env.RequestID)
	var job struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, "pending", job.Status)

	// 相同去重键返回同一个任务
	_, env = doJSON(t, engine, http.MethodPost, "/api/v1/jobs", gin.H{"type": "SEARCH", "dedupeKey": "search:dune"})
	var again struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, job.ID, again.ID)

	w, env = doJSON(t, engine, http.MethodPost, "/api/v1/jobs/"+job.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, "paused", job.Status)

	w, _ = doJSON(t, engine, http.MethodPost, "/api/v1/jobs/"+job.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = doJSON(t, engine, http.MethodGet, "/api/v1/jobs?status=paused", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Total int64 `json:"total"`
		Page  int   `json:"page"`
		Size  int   `json:"size"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Size)

	w, _ = doJSON(t, engine, http.MethodGet, "/api/v1/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, engine, http.MethodGet, "/api/v1/jobs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, engine, http.MethodPost, "/api/v1/jobs", gin.H{"payload": gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplateAndExecutionRoutes(t *testing.T) {
	engine := newTestEngine(t, config.JWTConfig{})

	invalid := gin.H{"name": "broken", "steps": []gin.H{
		{"id": "a", "type": "SEARCH", "children": []string{"b"}},
		{"id": "b", "type": "DOWNLOAD", "children": []string{"a"}},
	}}
	w, env := doJSON(t, engine, http.MethodPost, "/api/v1/templates/validate", invalid)
	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Valid    bool     `json:"valid"`
		Problems []string `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Problems)

	w, _ = doJSON(t, engine, http.MethodPost, "/api/v1/templates", invalid)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	tree := gin.H{"id": "movie", "name": "movie", "mediaType": "movie", "tree": []gin.H{{
		"id": "search", "type": "SEARCH", "required": true,
		"children": []gin.H{{"id": "download", "type": "DOWNLOAD", "required": true}},
	}}}
	w, env = doJSON(t, engine, http.MethodPost, "/api/v1/templates", tree)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tpl struct {
		ID    string `json:"id"`
		Steps []struct {
			ID       string   `json:"id"`
			Children []string `json:"children"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &tpl))
	assert.Equal(t, "movie", tpl.ID)
	require.Len(t, tpl.Steps, 2)
	assert.Equal(t, []string{"download"}, tpl.Steps[0].Children)

	w, _ = doJSON(t, engine, http.MethodPost, "/api/v1/executions", gin.H{"templateId": "movie"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = doJSON(t, engine, http.MethodPost, "/api/v1/executions", gin.H{"requestId": "req-1", "templateId": "movie"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var exec struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Runs   []struct {
			StepID string `json:"stepId"`
			Status string `json:"status"`
			JobID  string `json:"jobId"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &exec))
	assert.Equal(t, "running", exec.Status)
	require.Len(t, exec.Runs, 2)
	for _, r := range exec.Runs {
		switch r.StepID {
		case "search":
			assert.Equal(t, "running", r.Status)
			assert.NotEmpty(t, r.JobID)
		case "download":
			assert.Equal(t, "pending", r.Status)
		}
	}

	w, _ = doJSON(t, engine, http.MethodPost, "/api/v1/executions/"+exec.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, env = doJSON(t, engine, http.MethodGet, "/api/v1/executions/"+exec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &exec))
	assert.Equal(t, "cancelled", exec.Status)

	w, _ = doJSON(t, engine, http.MethodPost, "/api/v1/steps/nope/approve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEncoderRoutes(t *testing.T) {
	engine := newTestEngine(t, config.JWTConfig{})

	w, env := doJSON(t, engine, http.MethodGet, "/api/v1/encoders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	w, _ = doJSON(t, engine, http.MethodGet, "/api/v1/assignments?scope=everything", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, engine, http.MethodGet, "/api/v1/assignments/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_RequireTokenWhenEnabled(t *testing.T) {
	engine := newTestEngine(t, config.JWTConfig{Enabled: true, Secret: "s3cret"})

	w, _ := doJSON(t, engine, http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doJSON(t, engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEventFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/events?type=job.&jobId=j1", nil)

	pred := eventFilter(c)
	require.NotNil(t, pred)
	assert.True(t, pred(event.Event{Type: event.JobCompleted, JobID: "j1"}))
	assert.False(t, pred(event.Event{Type: event.JobCompleted, JobID: "j2"}))
	assert.False(t, pred(event.Event{Type: event.StepStarted, JobID: "j1"}))

	plain, _ := gin.CreateTestContext(httptest.NewRecorder())
	plain.Request = httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	assert.Nil(t, eventFilter(plain))
}
