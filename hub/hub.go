// Package hub is the task server the dashboard talks to: it accepts
// websocket sessions, applies their commands to the store and fans events
// out to groups of sessions.
package hub

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/storage"
)

// MaxPendingAccepted is the number of accepted, unfinished tasks a delivery
// person may hold.
const MaxPendingAccepted = 3

// Config holds the collaborators of a Hub. Store and Auth are required.
type Config struct {
	Store storage.Store
	// Queue is optional; without it nothing is dispatched to delivery persons.
	Queue storage.Queue
	Auth  Authenticator
	// Redis is optional; without it groups only span this instance.
	Redis *redis.Client
	// Deduper is optional; with it repeated create requests carrying the
	// same Idempotency-Key are rejected.
	Deduper Deduper
	// PendingLimit overrides MaxPendingAccepted when positive.
	PendingLimit int
	Logger       *log.Logger
}

// Hub serves dashboards over websocket and the create-task endpoint.
type Hub struct {
	store  storage.Store
	queue  storage.Queue
	auth   Authenticator
	rdb    *redis.Client
	dedup  Deduper
	limit  int
	logger *log.Entry
	groups *groups

	upgrader         websocket.Upgrader
	resubscribeDelay time.Duration
	ready            chan struct{}
	readyOnce        sync.Once
}

// New creates a Hub. Call Run to relay groups and Register to serve.
func New(cfg Config) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	limit := cfg.PendingLimit
	if limit <= 0 {
		limit = MaxPendingAccepted
	}
	return &Hub{
		store:  cfg.Store,
		queue:  cfg.Queue,
		auth:   cfg.Auth,
		rdb:    cfg.Redis,
		dedup:  cfg.Deduper,
		limit:  limit,
		logger: logger.WithField("component", "hub"),
		groups: newGroups(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		resubscribeDelay: time.Second,
		ready:            make(chan struct{}),
	}, nil
}

// Ready is closed once group messages from other instances are relayed.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

func (h *Hub) markReady() { h.readyOnce.Do(func() { close(h.ready) }) }

// Register wires the hub endpoints on the given Echo instance.
func (h *Hub) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/ws/task/", h.handleSocket)
	e.POST("/api/tasks", h.handleCreateTask)
}

func (h *Hub) userFromRequest(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	return h.auth.UserFromAuthHeader(authHeader)
}

func (h *Hub) handleSocket(c echo.Context) error {
	user, err := h.userFromRequest(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return nil
	}
	h.serve(c.Request().Context(), conn, user)
	return nil
}
