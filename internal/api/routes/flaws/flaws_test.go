package flaws_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/flawtracker/internal/api"
	"github.com/ahrav/flawtracker/internal/api/mux"
	"github.com/ahrav/flawtracker/internal/api/routes"
	"github.com/ahrav/flawtracker/internal/api/routes/flaws"
	appflaws "github.com/ahrav/flawtracker/internal/app/flaws"
	"github.com/ahrav/flawtracker/internal/app/tasksync"
	"github.com/ahrav/flawtracker/internal/infra/eventbus"
	busmemory "github.com/ahrav/flawtracker/internal/infra/eventbus/memory"
	flawmemory "github.com/ahrav/flawtracker/internal/infra/storage/flaw/memory"
	trackermemory "github.com/ahrav/flawtracker/internal/infra/taskman/memory"
	"github.com/ahrav/flawtracker/pkg/common/logger"
)

const (
	goodToken   = "good"
	readerToken = "reader"
)

type apiEnv struct {
	handler http.Handler
	tracker *trackermemory.Tracker
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	tracer := noop.NewTracerProvider().Tracer("test")
	tracker := trackermemory.NewTracker("OSIM",
		trackermemory.WithTokens(goodToken),
		trackermemory.WithReadOnlyTokens(readerToken),
	)
	engine := tasksync.NewEngine(tracker, tasksync.NoopMetrics(), logger.Noop(), tracer)
	publisher := eventbus.NewDomainEventPublisher(busmemory.NewBroker())
	svc := appflaws.NewService(flawmemory.NewFlawStore(), engine, tracker, publisher, logger.Noop(), tracer)

	metrics, err := api.NewAPIMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	handler := mux.WebAPI(mux.Config{
		Build:   "test",
		Log:     logger.Noop(),
		Tracer:  tracer,
		Metrics: metrics,
		Flaws:   svc,
	}, routes.Routes())

	return &apiEnv{handler: handler, tracker: tracker}
}

type response struct {
	code int
	body map[string]any
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set(flaws.TokenHeader, token)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	out := response{code: rec.Code}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.body), rec.Body.String())
	}
	return out
}

func flawBody() map[string]any {
	return map[string]any{
		"cve_id":       "CVE-2024-4242",
		"title":        "libfoo: heap overflow in parser",
		"impact":       "IMPORTANT",
		"source":       "INTERNET",
		"comment_zero": "A heap overflow was found in libfoo.",
		"components":   []string{"libfoo"},
		"affects": []map[string]any{
			{"ps_module": "rhel-9", "ps_component": "libfoo", "purl": "pkg:rpm/redhat/libfoo"},
		},
	}
}

func (e *apiEnv) create(t *testing.T, token string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/flaws", token, flawBody())
	require.Equal(t, http.StatusCreated, resp.code, resp.body)
	return resp.body["uuid"].(string)
}

func TestCreateFlaw(t *testing.T) {
	t.Parallel()

	missingSource := flawBody()
	delete(missingSource, "source")

	noAffects := flawBody()
	delete(noAffects, "affects")

	badAffect := flawBody()
	badAffect["affects"] = []map[string]any{{"ps_module": "rhel-9"}}

	tests := []struct {
		name        string
		token       string
		body        map[string]any
		wantCode    int
		wantTask    bool
		wantCreates int
		wantField   string
		wantMessage string
	}{
		{name: "with token creates task", token: goodToken, body: flawBody(), wantCode: http.StatusCreated, wantTask: true, wantCreates: 1},
		{name: "without token stays local", body: flawBody(), wantCode: http.StatusCreated},
		{name: "invalid token", token: "bogus", body: flawBody(), wantCode: http.StatusUnauthorized},
		{
			name:        "no write permission",
			token:       readerToken,
			body:        flawBody(),
			wantCode:    http.StatusForbidden,
			wantMessage: "user doesn't have write permission in OSIM project.",
		},
		{name: "missing source", token: goodToken, body: missingSource, wantCode: http.StatusBadRequest, wantField: "source"},
		{name: "no affects", token: goodToken, body: noAffects, wantCode: http.StatusBadRequest, wantField: "affects"},
		{name: "incomplete affect", token: goodToken, body: badAffect, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newAPIEnv(t)
			resp := env.do(t, http.MethodPost, "/v1/flaws", tt.token, tt.body)
			require.Equal(t, tt.wantCode, resp.code, resp.body)

			creates, _, _ := env.tracker.Stats()
			assert.Equal(t, tt.wantCreates, creates)

			if tt.wantCode == http.StatusCreated {
				_, hasTask := resp.body["task_key"]
				assert.Equal(t, tt.wantTask, hasTask)
				return
			}

			if tt.wantField != "" {
				fields := resp.body["fields"].(map[string]any)
				assert.Contains(t, fields, tt.wantField)
			}
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, resp.body["message"])
			}

			list := env.do(t, http.MethodGet, "/v1/flaws", "", nil)
			assert.EqualValues(t, 0, list.body["count"], "failed creates leave nothing behind")
		})
	}
}

func TestUpdateFlaw_SyncsOnlySignificantChanges(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	id := env.create(t, goodToken)
	path := "/v1/flaws/" + id

	body := flawBody()
	delete(body, "affects")
	body["title"] = "libfoo: heap overflow in the parser"

	resp := env.do(t, http.MethodPut, path, goodToken, body)
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	creates, updates, transitions := env.tracker.Stats()
	assert.Equal(t, [3]int{1, 0, 0}, [3]int{creates, updates, transitions}, "title edits stay local")

	body["impact"] = "CRITICAL"
	resp = env.do(t, http.MethodPut, path, goodToken, body)
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	_, updates, _ = env.tracker.Stats()
	assert.Equal(t, 1, updates)
	assert.Equal(t, true, resp.body["task_sync"].(map[string]any)["updated"])
}

func TestUpdateFlaw_CreateJiraTask(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	id := env.create(t, "")
	path := "/v1/flaws/" + id

	body := flawBody()
	delete(body, "affects")
	body["impact"] = "LOW"

	resp := env.do(t, http.MethodPut, path, goodToken, body)
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	assert.NotContains(t, resp.body, "task_key", "stored flaws get a task only on request")

	resp = env.do(t, http.MethodPut, path+"?create_jira_task=1", goodToken, body)
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	assert.Equal(t, "OSIM-1", resp.body["task_key"])
}

func TestUpdateFlaw_InvalidTokenKeepsLocalChanges(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	id := env.create(t, goodToken)
	path := "/v1/flaws/" + id

	body := flawBody()
	delete(body, "affects")
	body["impact"] = "LOW"

	resp := env.do(t, http.MethodPut, path, "bogus", body)
	require.Equal(t, http.StatusUnauthorized, resp.code)

	got := env.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, got.code)
	assert.Equal(t, "LOW", got.body["impact"])
	assert.Equal(t, "OSIM-1", got.body["task_key"])
}

func TestPromoteAndTask(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	id := env.create(t, goodToken)

	resp := env.do(t, http.MethodPost, "/v1/flaws/"+id+"/promote", goodToken, nil)
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	assert.Equal(t, "TRIAGE", resp.body["workflow_state"])
	_, _, transitions := env.tracker.Stats()
	assert.Equal(t, 1, transitions)

	task := env.do(t, http.MethodGet, "/v1/flaws/"+id+"/task", goodToken, nil)
	require.Equal(t, http.StatusOK, task.code, task.body)
	assert.Equal(t, "OSIM-1", task.body["key"])
	assert.Equal(t, "TRIAGE", task.body["workflow_state"])

	noToken := env.do(t, http.MethodGet, "/v1/flaws/"+id+"/task", "", nil)
	assert.Equal(t, http.StatusUnauthorized, noToken.code)
}

func TestPromote_AdoptsExternalState(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	id := env.create(t, goodToken)
	require.NoError(t, env.tracker.SetState("OSIM-1", "DONE"))

	resp := env.do(t, http.MethodPost, "/v1/flaws/"+id+"/promote", goodToken, nil)
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	assert.Equal(t, "DONE", resp.body["workflow_state"])
	assert.Equal(t, true, resp.body["task_sync"].(map[string]any)["reconciled"])
}

func TestAddAffect(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	id := env.create(t, goodToken)

	resp := env.do(t, http.MethodPost, "/v1/flaws/"+id+"/affects", goodToken, map[string]any{
		"ps_module":         "rhel-8",
		"ps_component":      "libfoo",
		"affected_versions": ">= 1.2, < 1.4",
	})
	require.Equal(t, http.StatusCreated, resp.code, resp.body)
	assert.Len(t, resp.body["affects"], 2)
	_, updates, _ := env.tracker.Stats()
	assert.Equal(t, 1, updates)
}

func TestGetAndList(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	id := env.create(t, "")
	env.create(t, "")

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "get", path: "/v1/flaws/" + id, want: http.StatusOK},
		{name: "get malformed id", path: "/v1/flaws/not-a-uuid", want: http.StatusBadRequest},
		{name: "get unknown", path: "/v1/flaws/5f0c6a8e-3f3c-4c55-9f1f-8d1c2f1f0a11", want: http.StatusNotFound},
		{name: "list", path: "/v1/flaws", want: http.StatusOK},
		{name: "list by state", path: "/v1/flaws?workflow_state=NEW&limit=1", want: http.StatusOK},
		{name: "list bad state", path: "/v1/flaws?workflow_state=OPEN", want: http.StatusBadRequest},
		{name: "list bad limit", path: "/v1/flaws?limit=many", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := env.do(t, http.MethodGet, tt.path, "", nil)
			assert.Equal(t, tt.want, resp.code, resp.body)
		})
	}

	resp := env.do(t, http.MethodGet, "/v1/flaws?workflow_state=NEW&limit=1", "", nil)
	assert.EqualValues(t, 1, resp.body["count"])
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	resp := env.do(t, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, "test", resp.body["build"])

	resp = env.do(t, http.MethodGet, "/v1/readiness", "", nil)
	assert.Equal(t, http.StatusOK, resp.code)
}
