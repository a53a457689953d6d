package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/DukanLabs/dukan/backend/internal/devices"
	"github.com/DukanLabs/dukan/backend/internal/pos"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const deviceIDContextKey = "dukan_device_id"

// TokenManager issues and validates device bearer tokens.
type TokenManager interface {
	IssueDeviceToken(ctx context.Context, deviceID, provisioningKey string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// DeviceRegistry records fleet membership and activity for status tooling.
type DeviceRegistry interface {
	Register(ctx context.Context, deviceID, label string) error
	RecordActivity(ctx context.Context, deviceID string, activity devices.Activity) error
	List(ctx context.Context) ([]devices.Device, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	TokenManager TokenManager
	SyncService  *pos.Service
	Devices      DeviceRegistry
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the sync API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.SyncService == nil {
		return nil, errMissingSyncService
	}
	if deps.Devices == nil {
		return nil, errMissingDeviceRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		syncService: deps.SyncService,
		devices:     deps.Devices,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/device", handler.handleDeviceAuth)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync/push", handler.handleSyncPush)
	protected.GET("/sync/pull", handler.handleSyncPull)
	protected.GET("/devices", handler.handleDeviceList)

	return router, nil
}

type httpHandler struct {
	tokens      TokenManager
	syncService *pos.Service
	devices     DeviceRegistry
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type deviceAuthRequestPayload struct {
	DeviceID        string `json:"device_id"`
	ProvisioningKey string `json:"provisioning_key"`
	Label           string `json:"label"`
}

type deviceAuthResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleDeviceAuth(c *gin.Context) {
	var request deviceAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueDeviceToken(c.Request.Context(), request.DeviceID, request.ProvisioningKey)
	if err != nil {
		h.logger.Warn("device token issue refused", zap.Error(err), zap.String("device_id", request.DeviceID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.devices.Register(c.Request.Context(), request.DeviceID, request.Label); err != nil {
		h.logger.Warn("device registration failed", zap.Error(err), zap.String("device_id", request.DeviceID))
	}

	c.JSON(http.StatusOK, deviceAuthResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type pushRequestPayload struct {
	DeviceID string             `json:"device_id"`
	Events   []pushEventPayload `json:"events"`
}

type pushEventPayload struct {
	EventID    string          `json:"event_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload_json"`
}

type pushResponsePayload struct {
	ServerTime string               `json:"server_time"`
	Results    []eventResultPayload `json:"results"`
}

type eventResultPayload struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

func (h *httpHandler) handleSyncPush(c *gin.Context) {
	var request pushRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	events := make([]pos.PushEvent, 0, len(request.Events))
	for _, event := range request.Events {
		events = append(events, pos.PushEvent{
			EventID:    event.EventID,
			EntityType: event.EntityType,
			EntityID:   event.EntityID,
			Operation:  event.Operation,
			Payload:    event.Payload,
		})
	}

	result, err := h.syncService.Push(c.Request.Context(), strings.TrimSpace(request.DeviceID), events)
	if err != nil {
		h.logger.Error("push reconciliation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push_failed"})
		return
	}

	if err := h.devices.RecordActivity(c.Request.Context(), request.DeviceID, devices.ActivityPush); err != nil {
		h.logger.Warn("device registry update failed", zap.Error(err), zap.String("device_id", request.DeviceID))
	}

	response := pushResponsePayload{
		ServerTime: result.ServerTime.Format(time.RFC3339Nano),
		Results:    make([]eventResultPayload, 0, len(result.Results)),
	}
	for _, eventResult := range result.Results {
		response.Results = append(response.Results, eventResultPayload{
			EventID: eventResult.EventID,
			Status:  string(eventResult.Status),
		})
	}
	c.JSON(http.StatusOK, response)
}

type pullResponsePayload struct {
	ServerTime string                 `json:"server_time"`
	Products   []pos.ProductSnapshot  `json:"products"`
	Customers  []pos.CustomerSnapshot `json:"customers"`
	Sales      []pos.SaleSnapshot     `json:"sales"`
	Expenses   []pos.ExpenseSnapshot  `json:"expenses"`
}

func (h *httpHandler) handleSyncPull(c *gin.Context) {
	since := time.Unix(0, 0).UTC()
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since"})
			return
		}
		since = parsed
	}

	result, err := h.syncService.Pull(c.Request.Context(), since)
	if err != nil {
		h.logger.Error("pull export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pull_failed"})
		return
	}

	if deviceID := c.GetString(deviceIDContextKey); deviceID != "" {
		if err := h.devices.RecordActivity(c.Request.Context(), deviceID, devices.ActivityPull); err != nil {
			h.logger.Warn("device registry update failed", zap.Error(err), zap.String("device_id", deviceID))
		}
	}

	c.JSON(http.StatusOK, pullResponsePayload{
		ServerTime: result.ServerTime.Format(time.RFC3339Nano),
		Products:   result.Products,
		Customers:  result.Customers,
		Sales:      result.Sales,
		Expenses:   result.Expenses,
	})
}

type devicePayload struct {
	DeviceID   string `json:"device_id"`
	Label      string `json:"label"`
	LastPushAt string `json:"last_push_at,omitempty"`
	LastPullAt string `json:"last_pull_at,omitempty"`
	LastSeenAt string `json:"last_seen_at,omitempty"`
}

func (h *httpHandler) handleDeviceList(c *gin.Context) {
	fleet, err := h.devices.List(c.Request.Context())
	if err != nil {
		h.logger.Error("device list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device_list_failed"})
		return
	}

	payload := make([]devicePayload, 0, len(fleet))
	for _, device := range fleet {
		payload = append(payload, devicePayload{
			DeviceID:   device.DeviceID,
			Label:      device.Label,
			LastPushAt: formatOptionalMs(device.LastPushAtMs),
			LastPullAt: formatOptionalMs(device.LastPullAtMs),
			LastSeenAt: formatOptionalMs(device.LastSeenAtMs),
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": payload})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	deviceID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(deviceIDContextKey, deviceID)
	c.Next()
}

func formatOptionalMs(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
