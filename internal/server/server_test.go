package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/metrics"
	"github.com/alanyoungcy/matrixnet/internal/server/handler"
	"github.com/alanyoungcy/matrixnet/internal/service"
	"github.com/alanyoungcy/matrixnet/internal/store/memory"
)

const boardBody = `{
	"name": "Starter",
	"width": 2,
	"depth": 2,
	"entry_price": "100",
	"currency": "USD",
	"bonuses": {"referral": "10", "matrix": "5", "matching": "3", "cycle": "15"}
}`

type testAPI struct {
	handler http.Handler
	store   *memory.Store
}

func newTestAPI(t *testing.T, cfg Config, checks map[string]handler.HealthCheck) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	bus := memory.NewBus()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	boards := service.NewBoardService(st.Boards(), nil, bus, st.Audit(), logger)
	commission := service.NewCommissionService(st.Members(), st.Positions(), st.Ledger(), bus, m, logger)
	cycles := service.NewCycleService(boards, st.Instances(), st.Positions(), commission, bus, st.Audit(), nil, m, logger)
	placement := service.NewPlacementService(
		boards, st.Members(), st.Instances(), st.Positions(), memory.NewLockManager(),
		cycles, commission, bus, st.Audit(), m, service.PlacementConfig{}, logger,
	)
	stats := service.NewStatsService(boards, st.Instances(), st.Positions(), st.Ledger(), logger)

	handlers := Handlers{
		Health:     handler.NewHealthHandler(checks, logger),
		Boards:     handler.NewBoardHandler(boards, stats, logger),
		Placements: handler.NewPlacementHandler(placement, logger),
		Members:    handler.NewMemberHandler(stats, st.Ledger(), st.Audit(), logger),
	}
	return &testAPI{
		handler: Routes(cfg, handlers, nil, memory.NewRateLimiter(), reg, logger),
		store:   st,
	}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (a *testAPI) createBoard(t *testing.T) string {
	t.Helper()
	rec, out := a.do(t, http.MethodPost, "/api/boards", boardBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["id"].(string)
}

func placementBody(member, sponsor string) string {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(map[string]string{"member_id": member, "sponsor_id": sponsor})
	return buf.String()
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, Config{}, map[string]handler.HealthCheck{
		"store": func(context.Context) error { return nil },
	})
	rec, out := api.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	api = newTestAPI(t, Config{}, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec, out = api.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", out["status"])
	assert.Equal(t, "connection refused", out["dependencies"].(map[string]any)["redis"])
}

func TestCreateBoardValidation(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)

	rec, out := api.do(t, http.MethodPost, "/api/boards",
		`{"name":"x","width":1,"depth":2,"entry_price":"-5","currency":"usd"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := out["fields"].(map[string]any)
	assert.Equal(t, "min", fields["width"])
	assert.Equal(t, "positive", fields["entry_price"])
	assert.Equal(t, "uppercase", fields["currency"])

	rec, _ = api.do(t, http.MethodPost, "/api/boards", `{"name":"x","colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Service rules surface with the offending field too.
	rec, out = api.do(t, http.MethodPost, "/api/boards",
		`{"name":"x","width":2,"depth":2,"entry_price":"10","currency":"USD","bonuses":{"referral":"90","cycle":"20"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["fields"].(map[string]any), "bonuses")
}

func TestBoardLifecycle(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)
	id := api.createBoard(t)

	rec, out := api.do(t, http.MethodGet, "/api/boards/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Starter", out["name"])
	assert.Equal(t, true, out["active"])

	rec, _ = api.do(t, http.MethodGet, "/api/boards/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, out = api.do(t, http.MethodGet, "/api/boards?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["boards"], 1)

	rec, _ = api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("A", ""))
	require.Equal(t, http.StatusCreated, rec.Code)

	// Geometry is frozen once a position exists.
	locked := strings.Replace(boardBody, `"depth": 2`, `"depth": 3`, 1)
	rec, _ = api.do(t, http.MethodPut, "/api/boards/"+id, locked)
	assert.Equal(t, http.StatusConflict, rec.Code)

	inactive := strings.Replace(boardBody, `"currency": "USD",`, `"currency": "USD", "active": false,`, 1)
	rec, out = api.do(t, http.MethodPut, "/api/boards/"+id, inactive)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, out["active"])
}

func TestPlacementFlow(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)
	id := api.createBoard(t)

	rec, _ := api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("A", ""))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("B", "A"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, out := api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("C", "A"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, out["cycles"], 1)

	rec, _ = api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("D", "nobody"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("E", "E"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = api.do(t, http.MethodGet, "/api/boards/"+id+"/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["cycled_instances"])

	rec, out = api.do(t, http.MethodGet, "/api/members/A/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["cycles"])

	rec, _ = api.do(t, http.MethodGet, "/api/members/A/genealogy", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, out = api.do(t, http.MethodGet, "/api/members/A/genealogy?board="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, out["board_id"])

	rec, out = api.do(t, http.MethodGet, "/api/members/A/ledger?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, out["entries"])
	assert.EqualValues(t, 10, out["limit"])
}

func TestAuthProtectsWrites(t *testing.T) {
	api := newTestAPI(t, Config{APIKeys: []string{"k1", "k2"}}, nil)

	rec, _ := api.do(t, http.MethodPost, "/api/boards", boardBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/api/boards", boardBody, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/api/boards", boardBody, "Authorization", "Bearer k2")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = api.do(t, http.MethodGet, "/api/boards", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlacementRateLimit(t *testing.T) {
	api := newTestAPI(t, Config{PlacementsPerMinute: 1}, nil)
	id := api.createBoard(t)

	rec, _ := api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("A", ""))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("B", "A"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec, _ = api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("B", "A"),
		"X-Forwarded-For", "10.0.0.9")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestMetricsAndCORS(t *testing.T) {
	api := newTestAPI(t, Config{CORSOrigins: []string{"https://app.example"}}, nil)
	id := api.createBoard(t)
	rec, _ := api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("A", ""))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = api.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "matrixnet_placement_total")

	rec, _ = api.do(t, http.MethodOptions, "/api/boards/"+id+"/placements", "",
		"Origin", "https://app.example", "Access-Control-Request-Method", http.MethodPost)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = api.do(t, http.MethodOptions, "/api/boards", "",
		"Origin", "https://other.example", "Access-Control-Request-Method", http.MethodPost)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMemberActivity(t *testing.T) {
	api := newTestAPI(t, Config{}, nil)
	id := api.createBoard(t)
	rec, _ := api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("A", ""))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = api.do(t, http.MethodPost, "/api/boards/"+id+"/placements", placementBody("B", "A"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := api.do(t, http.MethodGet, "/api/members/B/activity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	activity, ok := body["activity"].([]any)
	require.True(t, ok)
	var events []string
	for _, a := range activity {
		row := a.(map[string]any)
		assert.Equal(t, "B", row["member_id"])
		events = append(events, row["event"].(string))
	}
	assert.Equal(t, []string{string(domain.AuditMemberPlaced), string(domain.AuditMemberRegistered)}, events)

	rec, body = api.do(t, http.MethodGet, "/api/members/nobody/activity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["activity"])
}
