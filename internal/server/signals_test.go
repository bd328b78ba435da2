package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/queue"
	"github.com/GoPolymarket/polypilot/internal/repository"
	"github.com/GoPolymarket/polypilot/internal/safety"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBotReader struct {
	known map[string]bool
}

func (f *fakeBotReader) GetBot(_ context.Context, botID string) (*model.Bot, error) {
	if !f.known[botID] {
		return nil, repository.ErrNotFound
	}
	return &model.Bot{ID: botID, Status: model.BotActive}, nil
}

type memSignalStore struct {
	signals []*model.Signal
}

func (s *memSignalStore) Insert(_ context.Context, sig *model.Signal) error {
	s.signals = append(s.signals, sig)
	return nil
}

func newTestRouter(bots BotReader, signals SignalStore, q queue.Queue) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	h := NewSignalHandler(bots, signals, q)
	return NewRouter(cfg, safety.Mock(), h, NewBotHandler(nil, nil, nil))
}

func TestIngestSignal(t *testing.T) {
	store := &memSignalStore{}
	q := queue.NewMemoryQueue()
	r := newTestRouter(&fakeBotReader{known: map[string]bool{"bot-1": true}}, store, q)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/bots/bot-1/signals",
		strings.NewReader(`{"signal": "buy"}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "queued")
	require.Len(t, store.signals, 1)
	assert.Equal(t, "buy", store.signals[0].RawPayload)
	assert.NotEmpty(t, store.signals[0].IdempotencyKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job, err := q.Dequeue(ctx, queue.JobTypeSignal)
	require.NoError(t, err)
	assert.Equal(t, "bot-1", job.Key)
}

func TestIngestSignalUnknownBot(t *testing.T) {
	r := newTestRouter(&fakeBotReader{}, &memSignalStore{}, queue.NewMemoryQueue())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/bots/ghost/signals",
		strings.NewReader(`{"signal": "buy"}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestSignalBadBody(t *testing.T) {
	r := newTestRouter(&fakeBotReader{known: map[string]bool{"bot-1": true}}, &memSignalStore{}, queue.NewMemoryQueue())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/bots/bot-1/signals",
		strings.NewReader(`{}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestSignalDuplicate(t *testing.T) {
	store := &memSignalStore{}
	q := queue.NewMemoryQueue()
	r := newTestRouter(&fakeBotReader{known: map[string]bool{"bot-1": true}}, store, q)

	body := `{"signal": "buy", "idempotency_key": "tv-alert-1"}`
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/bots/bot-1/signals", strings.NewReader(body))
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusAccepted, w.Code)
		if i == 1 {
			assert.Contains(t, w.Body.String(), "duplicate")
		}
	}
}

func TestHealthReportsMode(t *testing.T) {
	r := newTestRouter(&fakeBotReader{}, &memSignalStore{}, queue.NewMemoryQueue())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"mock"`)
}
