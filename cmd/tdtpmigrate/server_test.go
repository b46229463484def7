package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/tdtp-migrator/pkg/etl"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
)

const testProjectYAML = `
connections:
  - id: src
    engine: sqlite
    database: %DIR%/src.db
    role: source
  - id: dst
    engine: sqlite
    database: %DIR%/dst.db
    role: target
projects:
  - id: demo
    source: src
    target: dst
    tables:
      - source: items
        target: items
        columns:
          - {source: id, target: id, primary_key: true}
`

// stubStage завершается сразу или ждет gate
type stubStage struct {
	name etl.StageName
	gate chan struct{}
}

func (s stubStage) Name() etl.StageName { return s.name }

func (s stubStage) Run(ctx context.Context, _ *etl.Run) (etl.StageResult, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return etl.StageResult{Status: etl.StageFailed}, ctx.Err()
		}
	}
	return etl.StageResult{Status: etl.StageCompleted, RecordsProcessed: 1}, nil
}

func newTestServer(t *testing.T, stages ...etl.Stage) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	repo, err := mapping.ReadYAML(strings.NewReader(strings.ReplaceAll(testProjectYAML, "%DIR%", dir)))
	require.NoError(t, err)

	if len(stages) == 0 {
		stages = []etl.Stage{stubStage{name: etl.StageExtract}, stubStage{name: etl.StageTransform}}
	}
	ctrl := etl.NewController(&etl.Env{Repository: repo, Logger: zerolog.Nop()}, stages...)
	srv := httptest.NewServer(newRouter(ctrl))
	t.Cleanup(srv.Close)
	return srv
}

func startBody(t *testing.T) string {
	return `{"projectId": "demo", "staging": {"tablePrefix": "_etl_stg_", "autoCreate": true, "workspace": "` +
		filepath.ToSlash(filepath.Join(t.TempDir(), "ws.db")) + `"}}`
}

func do(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func startExecution(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	code, body := do(t, http.MethodPost, srv.URL+"/executions", startBody(t))
	require.Equal(t, http.StatusAccepted, code, string(body))

	var exec etl.Execution
	require.NoError(t, json.Unmarshal(body, &exec))
	require.NotEmpty(t, exec.ID)
	return exec.ID
}

func executionStatus(t *testing.T, srv *httptest.Server, id string) etl.ExecutionStatus {
	t.Helper()
	code, body := do(t, http.MethodGet, srv.URL+"/executions/"+id, "")
	require.Equal(t, http.StatusOK, code)
	var exec etl.Execution
	require.NoError(t, json.Unmarshal(body, &exec))
	return exec.Status
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t)
	code, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestServer_StartAndPoll(t *testing.T) {
	srv := newTestServer(t)
	id := startExecution(t, srv)

	require.Eventually(t, func() bool {
		return executionStatus(t, srv, id) == etl.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	code, body := do(t, http.MethodGet, srv.URL+"/executions", "")
	require.Equal(t, http.StatusOK, code)
	var list []etl.Execution
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	// стадии report в этом конвейере нет
	code, _ = do(t, http.MethodGet, srv.URL+"/executions/"+id+"/report", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "tdtp_migrator_executions_active")
}

func TestServer_CancelRunningExecution(t *testing.T) {
	gate := make(chan struct{})
	srv := newTestServer(t,
		stubStage{name: etl.StageExtract, gate: gate},
		stubStage{name: etl.StageTransform},
	)
	id := startExecution(t, srv)

	code, body := do(t, http.MethodPost, srv.URL+"/executions/"+id+"/cancel", "")
	require.Equal(t, http.StatusAccepted, code, string(body))
	close(gate)

	require.Eventually(t, func() bool {
		return executionStatus(t, srv, id) == etl.StatusCancelled
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServer_Errors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown execution", http.MethodGet, "/executions/nope", "", http.StatusNotFound},
		{"unknown report", http.MethodGet, "/executions/nope/report", "", http.StatusNotFound},
		{"cancel unknown", http.MethodPost, "/executions/nope/cancel", "", http.StatusNotFound},
		{"pause unknown", http.MethodPost, "/executions/nope/pause", "", http.StatusNotFound},
		{"malformed body", http.MethodPost, "/executions", "{", http.StatusBadRequest},
		{"missing project", http.MethodPost, "/executions", `{"batchSize": 10}`, http.StatusBadRequest},
		{"bad strategy", http.MethodPost, "/executions", `{"projectId": "demo", "loadStrategy": "upsert"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, code, string(body))

			var resp map[string]string
			require.NoError(t, json.Unmarshal(body, &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}
