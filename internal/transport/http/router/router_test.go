package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kiosk-service/internal/broadcast"
	"kiosk-service/internal/cache"
	"kiosk-service/internal/events"
	"kiosk-service/internal/models"
	"kiosk-service/internal/notify"
	"kiosk-service/internal/repository"
	"kiosk-service/internal/repository/memstore"
	"kiosk-service/internal/sender"
	"kiosk-service/internal/service"
	"kiosk-service/internal/transport/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "router-test-secret"

type env struct {
	store *memstore.Store
	repo  *repository.Repository
	bc    *broadcast.Broadcaster
	r     *gin.Engine
	admin uuid.UUID
	token string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	store := memstore.New()
	repo := store.Repository()
	bus := events.NewBus(log)
	inv := service.NewInventoryService(repo, bus, log)
	rec := service.NewReconciliationService(repo, inv, service.ReconciliationConfig{
		ConfirmationWindow: time.Minute,
		PersistenceWindow:  30 * time.Millisecond,
		PersistenceRetry:   5 * time.Millisecond,
	}, log)
	ls := sender.NewLogSender(log)
	disp := notify.NewDispatcher(repo, ls, ls, bus, notify.DefaultConfig(), log)

	src := broadcast.NewSource(repo.Products, inv, disp.Degraded)
	state := broadcast.NewStateCache(src, cache.NewMemory(), 2*time.Second, log)
	bc := broadcast.New(src, log)
	bc.OnChange(state.Invalidate)

	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe("broadcaster", 64)
	go func() { _ = bc.Run(ctx, sub.C()) }()
	t.Cleanup(func() {
		cancel()
		bc.Close()
		bus.Close()
	})

	admin := uuid.New()
	r := Router(Deps{
		Inventory:         inv,
		Reconciliation:    rec,
		Alerts:            disp,
		Broadcaster:       bc,
		State:             state,
		Verifier:          middleware.NewTokenVerifier(testSecret, "", ""),
		ClientQueueSize:   16,
		HeartbeatInterval: time.Second,
	}, log)

	return &env{store: store, repo: repo, bc: bc, r: r, admin: admin, token: adminToken(t, admin)}
}

func adminToken(t *testing.T, sub uuid.UUID) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  sub.String(),
		"role": string(service.RoleAdmin),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (e *env) product(t *testing.T, price int64) uuid.UUID {
	t.Helper()
	p := &models.Product{ID: uuid.New(), Name: "Tea", PriceCents: price, DefaultLowStockThreshold: 5, IsActive: true}
	require.NoError(t, e.repo.Products.Create(context.Background(), p))
	return p.ID
}

func (e *env) do(t *testing.T, method, path string, body any, admin bool, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSaleFlow(t *testing.T) {
	e := newEnv(t)
	pid := e.product(t, 250)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/inventory/%s/adjust", pid),
		map[string]any{"delta": 10, "reason": "manual_restock"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/v1/transactions",
		map[string]any{"items": []map[string]any{{"productId": pid.String(), "quantity": 3}}}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tx := decode(t, w)
	assert.Equal(t, "PENDING", tx["status"])
	assert.Equal(t, float64(750), tx["totalCents"])

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/confirm", tx["id"]), nil, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "COMPLETED", decode(t, w)["status"])

	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/inventory/%s", pid), nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(7), decode(t, w)["balance"])

	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/inventory/%s/adjustments", pid), nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var adj []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &adj))
	assert.Len(t, adj, 2)

	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/admin/transactions/%s", tx["id"]), nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode(t, w)
	assert.Len(t, details["adjustments"], 1)
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	pid := e.product(t, 100)

	w := e.do(t, http.MethodGet, "/api/v1/transactions/not-a-uuid", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode(t, w)["code"])

	w = e.do(t, http.MethodGet, "/api/v1/transactions/"+uuid.NewString(), nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["code"])

	w = e.do(t, http.MethodPost, "/api/v1/transactions",
		map[string]any{"items": []map[string]any{{"productId": uuid.NewString(), "quantity": 1}}}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, fmt.Sprintf("/api/v1/admin/inventory/%s/threshold", pid), map[string]any{"threshold": 150}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/inventory/%s/adjust", pid),
		map[string]any{"delta": 5, "reason": "sale"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// terminal transaction cannot move again
	w = e.do(t, http.MethodPost, "/api/v1/transactions",
		map[string]any{"items": []map[string]any{{"productId": pid.String(), "quantity": 1}}}, false)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"]
	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/decline", id), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/confirm", id), nil, false)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decode(t, w)["code"])

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/transactions/%s/reconcile", id),
		map[string]any{"resolution": "confirm"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPut, "/api/v1/admin/inventory/tracking", map[string]any{"enabled": false}, true)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/inventory/%s/adjust", pid),
		map[string]any{"delta": 5, "reason": "manual_restock"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	e.store.SetUnavailable(true)
	w = e.do(t, http.MethodGet, "/api/v1/admin/inventory", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "storage_unavailable", decode(t, w)["code"])
}

func TestAdminRoutesRequireToken(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/api/v1/admin/inventory", "/api/v1/admin/alerts", "/api/v1/admin/status", "/api/v1/admin/stream"} {
		w := e.do(t, http.MethodGet, path, nil, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestConfirm_PaymentUncertainIs202(t *testing.T) {
	e := newEnv(t)
	pid := e.product(t, 100)

	w := e.do(t, http.MethodPost, "/api/v1/transactions",
		map[string]any{"items": []map[string]any{{"productId": pid.String(), "quantity": 1}}}, false)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"]

	e.store.SetHook(func(op string) error {
		if op == "ledger.append" {
			return fmt.Errorf("%w: ledger write timed out", repository.ErrUnavailable)
		}
		return nil
	})
	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/confirm", id), nil, false)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "PAYMENT_UNCERTAIN", decode(t, w)["status"])
	e.store.SetHook(nil)

	w = e.do(t, http.MethodGet, "/api/v1/admin/transactions?status=PAYMENT_UNCERTAIN", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/transactions/%s/reconcile", id),
		map[string]any{"resolution": "refund"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "REFUNDED", body["status"])
	assert.Equal(t, e.admin.String(), body["reconciledBy"])
}

func TestStatusPolling_ETag(t *testing.T) {
	e := newEnv(t)
	pid := e.product(t, 100)

	w := e.do(t, http.MethodGet, "/api/v1/admin/status", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	w = e.do(t, http.MethodGet, "/api/v1/admin/status", nil, true, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/inventory/%s/adjust", pid),
		map[string]any{"delta": 4, "reason": "manual_restock"}, true)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodGet, "/api/v1/admin/status", nil, true, "If-None-Match", etag)
		return w.Code == http.StatusOK && w.Header().Get("ETag") != etag
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStream_SendsInitThenUpdates(t *testing.T) {
	e := newEnv(t)
	pid := e.product(t, 100)
	srv := httptest.NewServer(e.r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/admin/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	names := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event:"); ok {
				names <- name
			}
		}
		close(names)
	}()

	assert.Equal(t, "inventory:init", <-names)
	require.Eventually(t, func() bool { return e.bc.Count() == 1 }, time.Second, 10*time.Millisecond)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/inventory/%s/adjust", pid),
		map[string]any{"delta": 2, "reason": "manual_restock"}, true)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case name := <-names:
		assert.Equal(t, "inventory:update", name)
	case <-time.After(2 * time.Second):
		t.Fatal("no update pushed")
	}

	cancel()
	require.Eventually(t, func() bool { return e.bc.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
