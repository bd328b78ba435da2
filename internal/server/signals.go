package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
	"github.com/GoPolymarket/polypilot/internal/queue"
	"github.com/GoPolymarket/polypilot/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SignalStore records inbound signals before they hit the queue.
type SignalStore interface {
	Insert(ctx context.Context, s *model.Signal) error
}

// BotReader is the read-only bot lookup the ingress needs.
type BotReader interface {
	GetBot(ctx context.Context, botID string) (*model.Bot, error)
}

// SignalHandler is the TradingView webhook ingress. It is deliberately
// thin: record the signal, enqueue it, answer 202. All trading decisions
// happen in the worker.
type SignalHandler struct {
	bots    BotReader
	signals SignalStore
	q       queue.Queue
}

func NewSignalHandler(bots BotReader, signals SignalStore, q queue.Queue) *SignalHandler {
	return &SignalHandler{bots: bots, signals: signals, q: q}
}

type signalRequest struct {
	Signal         string `json:"signal" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *SignalHandler) Ingest(c *gin.Context) {
	botID := c.Param("id")

	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.bots.GetBot(c.Request.Context(), botID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown bot"})
			return
		}
		c.Error(err) //nolint:errcheck
		return
	}

	receivedAt := time.Now().UTC()
	idemKey := req.IdempotencyKey
	if idemKey == "" {
		// TradingView retries the same alert without any idempotency
		// header; derive a key so a retry within the same minute dedups.
		idemKey = deriveIdemKey(botID, req.Signal, receivedAt)
	}

	sig := &model.Signal{
		ID:             uuid.NewString(),
		BotID:          botID,
		RawPayload:     req.Signal,
		IdempotencyKey: idemKey,
		ReceivedAt:     receivedAt,
	}
	if err := h.signals.Insert(c.Request.Context(), sig); err != nil {
		c.Error(err) //nolint:errcheck
		return
	}

	job, err := queue.NewJob(queue.JobTypeSignal, botID, model.SignalJob{
		BotID:          botID,
		RawPayload:     req.Signal,
		IdempotencyKey: idemKey,
		ReceivedAt:     receivedAt,
	}, idemKey)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}

	if err := h.q.Enqueue(c.Request.Context(), job); err != nil {
		if errors.Is(err, queue.ErrDuplicate) {
			c.JSON(http.StatusAccepted, gin.H{"status": "duplicate", "signal_id": sig.ID})
			return
		}
		c.Error(err) //nolint:errcheck
		return
	}

	logger.Component("ingress").Info("signal accepted",
		"bot_id", botID, "signal_id", sig.ID, "idempotency_key", idemKey)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "signal_id": sig.ID})
}

func deriveIdemKey(botID, payload string, at time.Time) string {
	sum := sha256.Sum256([]byte(botID + "|" + payload + "|" + at.Truncate(time.Minute).Format(time.RFC3339)))
	return hex.EncodeToString(sum[:16])
}
