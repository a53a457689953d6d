package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukanLabs/dukan/backend/internal/auth"
	"github.com/DukanLabs/dukan/backend/internal/database"
	"github.com/DukanLabs/dukan/backend/internal/devices"
	"github.com/DukanLabs/dukan/backend/internal/pos"
	"github.com/DukanLabs/dukan/backend/internal/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	integrationSigningSecret   = "integration-signing-secret"
	integrationProvisioningKey = "integration-provisioning-key"
	integrationDeviceID        = "register-07"
	jsonContentType            = "application/json"

	productBookID  = "0d4f6f25-11aa-4d0a-9c39-6a1c6a2f7b01"
	productLampID  = "0d4f6f25-11aa-4d0a-9c39-6a1c6a2f7b02"
	productPenID   = "0d4f6f25-11aa-4d0a-9c39-6a1c6a2f7b03"
	expenseRentID  = "0d4f6f25-11aa-4d0a-9c39-6a1c6a2f7b04"
	eventBookOnce  = "018c2e65-11aa-7d0a-9c39-6a1c6a2f7b01"
	eventLampSeed  = "018c2e65-11aa-7d0a-9c39-6a1c6a2f7b02"
	eventLampStale = "018c2e65-11aa-7d0a-9c39-6a1c6a2f7b03"
	eventRentSeed  = "018c2e65-11aa-7d0a-9c39-6a1c6a2f7b04"
	eventRentEdit  = "018c2e65-11aa-7d0a-9c39-6a1c6a2f7b05"
	eventPenLate   = "018c2e65-11aa-7d0a-9c39-6a1c6a2f7b06"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type syncHarness struct {
	serverURL string
	token     string
	db        *gorm.DB
	clock     *manualClock
}

type pushResponse struct {
	ServerTime string `json:"server_time"`
	Results    []struct {
		EventID string `json:"event_id"`
		Status  string `json:"status"`
	} `json:"results"`
}

type pullResponse struct {
	ServerTime string                 `json:"server_time"`
	Products   []pos.ProductSnapshot  `json:"products"`
	Customers  []pos.CustomerSnapshot `json:"customers"`
	Sales      []pos.SaleSnapshot     `json:"sales"`
	Expenses   []pos.ExpenseSnapshot  `json:"expenses"`
}

func newSyncHarness(t *testing.T) *syncHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &manualClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}

	db, err := database.OpenSQLite("file:"+t.Name()+"?mode=memory&cache=shared", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	tokenManager, err := auth.NewDeviceTokenManager(auth.DeviceTokenManagerConfig{
		SigningSecret:   []byte(integrationSigningSecret),
		ProvisioningKey: []byte(integrationProvisioningKey),
	})
	if err != nil {
		t.Fatalf("failed to construct token manager: %v", err)
	}

	deviceRegistry, err := devices.NewService(devices.ServiceConfig{
		Database: db,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build device registry: %v", err)
	}

	syncService, err := pos.NewService(pos.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: pos.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build sync service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		SyncService:  syncService,
		Devices:      deviceRegistry,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)

	harness := &syncHarness{serverURL: testServer.URL, db: db, clock: clock}
	harness.token = harness.obtainToken(t)
	return harness
}

func (h *syncHarness) obtainToken(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"device_id":        integrationDeviceID,
		"provisioning_key": integrationProvisioningKey,
	})
	response, err := http.Post(h.serverURL+"/auth/device", jsonContentType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("device auth request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected auth status: %d", response.StatusCode)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode auth response: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatalf("expected non-empty access token")
	}
	return payload.AccessToken
}

func (h *syncHarness) push(t *testing.T, events []map[string]any) pushResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"device_id": integrationDeviceID,
		"events":    events,
	})
	request, _ := http.NewRequest(http.MethodPost, h.serverURL+"/api/sync/push", bytes.NewReader(body))
	request.Header.Set("Content-Type", jsonContentType)
	request.Header.Set("Authorization", "Bearer "+h.token)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("push request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected push status: %d", response.StatusCode)
	}
	var decoded pushResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode push response: %v", err)
	}
	return decoded
}

func (h *syncHarness) pull(t *testing.T, since string) pullResponse {
	t.Helper()
	url := h.serverURL + "/api/sync/pull"
	if since != "" {
		url += "?since=" + since
	}
	request, _ := http.NewRequest(http.MethodGet, url, nil)
	request.Header.Set("Authorization", "Bearer "+h.token)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("pull request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected pull status: %d", response.StatusCode)
	}
	var decoded pullResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode pull response: %v", err)
	}
	return decoded
}

func TestPushIsIdempotentAcrossRetries(t *testing.T) {
	harness := newSyncHarness(t)

	event := map[string]any{
		"event_id":    eventBookOnce,
		"entity_type": "product",
		"entity_id":   productBookID,
		"operation":   "CREATE",
		"payload_json": map[string]any{
			"name":       "Book",
			"sell_price": "1000",
			"version":    1,
		},
	}

	first := harness.push(t, []map[string]any{event})
	if len(first.Results) != 1 || first.Results[0].Status != "applied" {
		t.Fatalf("expected applied on first push, got %+v", first.Results)
	}

	second := harness.push(t, []map[string]any{event})
	if len(second.Results) != 1 || second.Results[0].Status != "duplicate" {
		t.Fatalf("expected duplicate on retry, got %+v", second.Results)
	}

	var productCount int64
	if err := harness.db.Model(&pos.Product{}).Where("id = ?", productBookID).Count(&productCount).Error; err != nil {
		t.Fatalf("failed to count products: %v", err)
	}
	if productCount != 1 {
		t.Fatalf("expected a single product row, found %d", productCount)
	}

	snapshot := harness.pull(t, "")
	if len(snapshot.Products) != 1 || snapshot.Products[0].Version != 1 || snapshot.Products[0].Name != "Book" {
		t.Fatalf("unexpected product snapshot: %+v", snapshot.Products)
	}
}

func TestStaleStockUpdateFlagsReviewWithoutOverwriting(t *testing.T) {
	harness := newSyncHarness(t)

	harness.push(t, []map[string]any{{
		"event_id":    eventLampSeed,
		"entity_type": "product",
		"entity_id":   productLampID,
		"operation":   "CREATE",
		"payload_json": map[string]any{
			"name":      "Lamp",
			"stock_qty": 5,
			"version":   2,
		},
	}})

	stale := harness.push(t, []map[string]any{{
		"event_id":    eventLampStale,
		"entity_type": "product",
		"entity_id":   productLampID,
		"operation":   "UPDATE",
		"payload_json": map[string]any{
			"name":      "Lamp Deluxe",
			"stock_qty": 10,
			"version":   1,
		},
	}})
	if len(stale.Results) != 1 || stale.Results[0].Status != "conflict" {
		t.Fatalf("expected conflict for stale update, got %+v", stale.Results)
	}

	snapshot := harness.pull(t, "")
	if len(snapshot.Products) != 1 {
		t.Fatalf("expected one product, got %d", len(snapshot.Products))
	}
	lamp := snapshot.Products[0]
	if lamp.StockQty != 5 || lamp.Name != "Lamp" || lamp.Version != 2 {
		t.Fatalf("stale update must not overwrite stored state: %+v", lamp)
	}
	if !lamp.NeedsReview {
		t.Fatalf("expected needs_review after stock divergence")
	}

	var conflicts []pos.ConflictRecord
	if err := harness.db.Where("entity_id = ?", productLampID).Find(&conflicts).Error; err != nil {
		t.Fatalf("failed to load conflict log: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ConflictType != pos.ConflictStockQty {
		t.Fatalf("expected one stock_qty_conflict row, got %+v", conflicts)
	}
}

func TestExpenseUpdateIsIgnoredAndLogged(t *testing.T) {
	harness := newSyncHarness(t)

	harness.push(t, []map[string]any{{
		"event_id":    eventRentSeed,
		"entity_type": "expense",
		"entity_id":   expenseRentID,
		"operation":   "CREATE",
		"payload_json": map[string]any{
			"category": "Rent",
			"amount":   "50000",
		},
	}})

	edit := harness.push(t, []map[string]any{{
		"event_id":    eventRentEdit,
		"entity_type": "expense",
		"entity_id":   expenseRentID,
		"operation":   "UPDATE",
		"payload_json": map[string]any{
			"category": "Rent (corrected)",
			"amount":   "40000",
		},
	}})
	if len(edit.Results) != 1 || edit.Results[0].Status != "ignored" {
		t.Fatalf("expected ignored for expense update, got %+v", edit.Results)
	}

	var expenseCount int64
	if err := harness.db.Model(&pos.Expense{}).Count(&expenseCount).Error; err != nil {
		t.Fatalf("failed to count expenses: %v", err)
	}
	if expenseCount != 1 {
		t.Fatalf("expected expense table unchanged, found %d rows", expenseCount)
	}

	var conflicts []pos.ConflictRecord
	if err := harness.db.Where("entity_id = ?", expenseRentID).Find(&conflicts).Error; err != nil {
		t.Fatalf("failed to load conflict log: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ConflictType != pos.ConflictAppendOnly {
		t.Fatalf("expected one append_only row, got %+v", conflicts)
	}

	snapshot := harness.pull(t, "")
	if len(snapshot.Expenses) != 1 || snapshot.Expenses[0].Category != "Rent" {
		t.Fatalf("unexpected expense snapshot: %+v", snapshot.Expenses)
	}
}

func TestPullWatermarkReturnsOnlyNewerRecords(t *testing.T) {
	harness := newSyncHarness(t)

	seeded := harness.push(t, []map[string]any{{
		"event_id":    eventBookOnce,
		"entity_type": "product",
		"entity_id":   productBookID,
		"operation":   "CREATE",
		"payload_json": map[string]any{
			"name":       "Book",
			"sell_price": "1000",
			"version":    1,
		},
	}})

	everything := harness.pull(t, time.Unix(0, 0).UTC().Format(time.RFC3339Nano))
	if len(everything.Products) != 1 {
		t.Fatalf("expected epoch pull to return all products, got %d", len(everything.Products))
	}

	harness.clock.Advance(250 * time.Millisecond)
	harness.push(t, []map[string]any{{
		"event_id":    eventPenLate,
		"entity_type": "product",
		"entity_id":   productPenID,
		"operation":   "CREATE",
		"payload_json": map[string]any{
			"name":    "Pen",
			"version": 1,
		},
	}})

	delta := harness.pull(t, seeded.ServerTime)
	if len(delta.Products) != 1 {
		t.Fatalf("expected exactly the newer product, got %d", len(delta.Products))
	}
	if delta.Products[0].ID != productPenID {
		t.Fatalf("expected only the pen in the delta, got %+v", delta.Products[0])
	}
	if len(delta.Customers) != 0 || len(delta.Sales) != 0 || len(delta.Expenses) != 0 {
		t.Fatalf("expected empty collections for untouched entity types")
	}
}
