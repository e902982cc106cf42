package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/conecoach/backend/audio"
	"github.com/conecoach/backend/models"
	"github.com/conecoach/backend/repository"
	"github.com/conecoach/backend/scoring"
	"github.com/conecoach/backend/turn"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) *repository.GORMRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := repository.NewGORMRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

// fakeModel answers both as the physician and as the grader
type fakeModel struct {
	mu       sync.Mutex
	replies  []string
	replyErr error
	score    int
	judgeErr error
	calls    int
}

func (m *fakeModel) Reply(ctx context.Context, history []models.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.replyErr != nil {
		return "", m.replyErr
	}
	if len(m.replies) == 0 {
		return "Go on.", nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

func (m *fakeModel) Judge(ctx context.Context, req scoring.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.judgeErr != nil {
		return "", m.judgeErr
	}
	score := m.score
	m.score += 5
	return judgeJSON(score), nil
}

func judgeJSON(total int) string {
	sections := make([]string, 0, 5)
	for _, dim := range scoring.DefaultRubric {
		sections = append(sections, fmt.Sprintf(`{"name":%q,"score":%d,"feedback":"ok"}`, dim.Name, total/5))
	}
	return fmt.Sprintf("```json\n{\"totalScore\":%d,\"sections\":[%s],\"strengths\":[\"clear\"],\"improvements\":[\"data\"]}\n```",
		total, strings.Join(sections, ","))
}

type fakeSpeech struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + text), nil
}

func (f *fakeSpeech) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errModelDown = errors.New("model unavailable")

var testPolicy = retryPolicy{timeout: defaultCollaboratorTimeout, delay: 0}

type testAPI struct {
	repo   *repository.GORMRepository
	model  *fakeModel
	speech *fakeSpeech
	tts    *TTSService
	router *chi.Mux
}

func newTestAPI(t *testing.T, auth *AuthService) *testAPI {
	t.Helper()

	repo := newTestRepository(t)
	model := &fakeModel{score: 70}
	speech := &fakeSpeech{}
	tts := NewTTSService(speech, audio.NewResponseCache(audio.ServerCachePrefix, 10), "voice", testPolicy)

	conversation := turn.NewConversation(repo, model)
	orchestrator := scoring.NewOrchestrator(scoring.Config{Store: repo, Judge: model, TruthSet: "{}"})

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Post("/admin/login", auth.LoginHandler)
		NewSimulationEndpoints(repo, conversation, orchestrator, auth).RegisterRoutes(r)
		NewTTSEndpoints(tts, nil, auth).RegisterRoutes(r)
	})

	return &testAPI{repo: repo, model: model, speech: speech, tts: tts, router: router}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) createSimulation(t *testing.T, name string) models.Simulation {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/simulations", CreateSimulationRequest{UserName: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Simulation](t, rec)
}
