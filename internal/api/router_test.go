package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sql_arena/internal/app/service"
	"sql_arena/internal/common"
	"sql_arena/internal/common/security"
	"sql_arena/internal/domain/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestRouter wires services whose dependencies are never reached by the requests under test,
// except the leaderboard cache which is served from miniredis.
func newTestRouter(t *testing.T) (http.Handler, *redis.Client) {
	t.Helper()
	security.InitJWT([]byte("router-test-secret"))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := zap.NewNop()
	svc := Services{
		Submissions: service.NewSubmissionService(nil, nil, nil, nil, nil, nil, 100, log),
		Leaderboard: service.NewLeaderboardService(nil, nil, nil, nil, nil, rdb, time.Minute, log),
	}
	return NewRouter(svc, []string{"https://arena.example"}, log), rdb
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := security.GenerateToken(userID, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func do(h http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := do(h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSubmissionsRequireToken(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(h, http.MethodPost, "/api/v1/submissions", "", `{"problem_id":"p1","query":"SELECT 1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/api/v1/submissions", "Bearer not-a-jwt", `{"problem_id":"p1","query":"SELECT 1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRejectParticipants(t *testing.T) {
	h, _ := newTestRouter(t)
	auth := bearer(t, "user-1", model.RoleParticipant)

	for _, path := range []string{
		"/api/v1/hackathons",
		"/api/v1/hackathons/h1/activate",
		"/api/v1/hackathons/h1/problems",
		"/api/v1/hackathons/h1/leaderboard/rebuild",
	} {
		rec := do(h, http.MethodPost, path, auth, `{}`)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}

func TestCreateSubmissionValidationError(t *testing.T) {
	h, _ := newTestRouter(t)
	auth := bearer(t, "user-1", model.RoleParticipant)

	rec := do(h, http.MethodPost, "/api/v1/submissions", auth, `{"problem_id":"p1","query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body common.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "query is empty")

	rec = do(h, http.MethodPost, "/api/v1/submissions", auth, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardIsPublic(t *testing.T) {
	h, rdb := newTestRouter(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cached, err := json.Marshal([]model.LeaderboardEntry{
		{Rank: 1, HackathonID: "h1", ParticipantID: "u2", DisplayName: "Bob", TotalScore: 30, SolvedCount: 2, LastUpdateTime: &at},
		{Rank: 2, HackathonID: "h1", ParticipantID: "u1", DisplayName: "Ann", TotalScore: 10, SolvedCount: 1, LastUpdateTime: &at},
	})
	require.NoError(t, err)
	require.NoError(t, rdb.Set(context.Background(), "leaderboard:h1:0", cached, time.Minute).Err())

	rec := do(h, http.MethodGet, "/api/v1/hackathons/h1/leaderboard", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "u2", entries[0]["participant_id"])
	assert.Equal(t, "Bob", entries[0]["display_name"])
	assert.EqualValues(t, 1, entries[0]["rank"])
	assert.EqualValues(t, 30, entries[0]["total_score"])
	assert.EqualValues(t, 2, entries[0]["solved_count"])
}

func TestLeaderboardLimit(t *testing.T) {
	h, rdb := newTestRouter(t)
	cached, err := json.Marshal([]model.LeaderboardEntry{
		{Rank: 1, HackathonID: "h1", ParticipantID: "u2", TotalScore: 30},
		{Rank: 2, HackathonID: "h1", ParticipantID: "u1", TotalScore: 10},
	})
	require.NoError(t, err)
	require.NoError(t, rdb.Set(context.Background(), "leaderboard:h1:0", cached, time.Minute).Err())

	rec := do(h, http.MethodGet, "/api/v1/hackathons/h1/leaderboard?limit=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []model.LeaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "u2", entries[0].ParticipantID)

	rec = do(h, http.MethodGet, "/api/v1/hackathons/h1/leaderboard?limit=zero", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOwnStandingRequiresToken(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := do(h, http.MethodGet, "/api/v1/hackathons/h1/leaderboard/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/submissions", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://arena.example")
	assert.Equal(t, "https://arena.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	rec = preflight("https://elsewhere.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProblemUpdateAndSubmissionListingRoutes(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(h, http.MethodPut, "/api/v1/problems/p1", bearer(t, "user-1", "participant"), `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodGet, "/api/v1/hackathons/h1/submissions?mine=true", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
