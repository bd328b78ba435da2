package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/processor"
	"github.com/GoPolymarket/polypilot/internal/repository"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BotAdminStore covers the bot lifecycle operations exposed over HTTP.
type BotAdminStore interface {
	GetBot(ctx context.Context, botID string) (*model.Bot, error)
	CreateBot(ctx context.Context, bot *model.Bot) error
	SetStatus(ctx context.Context, botID string, status model.BotStatus) error
	PutBotKey(ctx context.Context, key *model.BotKey) error
}

// MetricsReader serves the latest bot snapshot.
type MetricsReader interface {
	Get(ctx context.Context, botID string) (*model.BotMetrics, error)
}

// OrderReader serves the recent order history.
type OrderReader interface {
	GetRecentOrders(ctx context.Context, botID string, limit int) ([]model.Order, error)
}

type BotHandler struct {
	bots       BotAdminStore
	botMetrics MetricsReader
	orders     OrderReader
}

func NewBotHandler(bots BotAdminStore, botMetrics MetricsReader, orders OrderReader) *BotHandler {
	return &BotHandler{bots: bots, botMetrics: botMetrics, orders: orders}
}

type createBotRequest struct {
	Name       string          `json:"name"`
	Wallet     string          `json:"wallet"`
	Config     model.BotConfig `json:"config" binding:"required"`
	PrivateKey string          `json:"private_key"`
}

func (h *BotHandler) Create(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := processor.ValidateSignalMap(req.Config.SignalMap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal map: " + err.Error()})
		return
	}
	if req.Config.OrderSizeUSD <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_size_usd must be positive"})
		return
	}

	bot := &model.Bot{
		ID:        uuid.NewString(),
		Wallet:    req.Wallet,
		Name:      req.Name,
		Status:    model.BotCreated,
		Config:    req.Config,
		CreatedAt: time.Now().UTC(),
	}

	if req.PrivateKey != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(req.PrivateKey, "0x"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid private key"})
			return
		}
		addr := crypto.PubkeyToAddress(pk.PublicKey).Hex()
		if bot.Wallet == "" {
			bot.Wallet = addr
		}
		if err := h.bots.CreateBot(c.Request.Context(), bot); err != nil {
			c.Error(err) //nolint:errcheck
			return
		}
		if err := h.bots.PutBotKey(c.Request.Context(), &model.BotKey{
			BotID:      bot.ID,
			Address:    addr,
			PrivateKey: req.PrivateKey,
		}); err != nil {
			c.Error(err) //nolint:errcheck
			return
		}
	} else if err := h.bots.CreateBot(c.Request.Context(), bot); err != nil {
		c.Error(err) //nolint:errcheck
		return
	}

	c.JSON(http.StatusCreated, bot)
}

type statusRequest struct {
	Status model.BotStatus `json:"status" binding:"required"`
}

func (h *BotHandler) SetStatus(c *gin.Context) {
	botID := c.Param("id")

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Status {
	case model.BotActive, model.BotStopped:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active or stopped"})
		return
	}

	if err := h.bots.SetStatus(c.Request.Context(), botID, req.Status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown bot"})
			return
		}
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": botID, "status": req.Status})
}

func (h *BotHandler) GetMetrics(c *gin.Context) {
	botID := c.Param("id")

	m, err := h.botMetrics.Get(c.Request.Context(), botID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// A bot with no fills yet has no snapshot.
			c.JSON(http.StatusOK, &model.BotMetrics{BotID: botID})
			return
		}
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *BotHandler) GetOrders(c *gin.Context) {
	botID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	orders, err := h.orders.GetRecentOrders(c.Request.Context(), botID, limit)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": botID, "orders": orders})
}
