package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/cache"
	"github.com/modelgate/backend/internal/config"
	"github.com/modelgate/backend/internal/evm"
	"github.com/modelgate/backend/internal/http/handlers"
	"github.com/modelgate/backend/internal/metrics"
	"github.com/modelgate/backend/internal/models"
	"github.com/modelgate/backend/internal/repositories"
	"github.com/modelgate/backend/internal/retry"
	"github.com/modelgate/backend/internal/services"
	"github.com/modelgate/backend/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	contract = evm.MustParseAddress("0x00000000000000000000000000000000000000aa")
	price    = big.NewInt(2e16)
)

const head = 500

type chainStub struct {
	mu   sync.Mutex
	txs  map[string]*evm.Transaction
	down bool
}

func (c *chainStub) pay(hash string, from evm.Address, value *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	to := contract
	c.txs[hash] = &evm.Transaction{Hash: hash, From: from, To: &to, Value: value}
}

func (c *chainStub) GetTransaction(_ context.Context, hash string) (*evm.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, evm.ErrUnavailable
	}
	tx, ok := c.txs[hash]
	if !ok {
		return nil, evm.ErrNotFound
	}
	return tx, nil
}

func (c *chainStub) GetReceipt(_ context.Context, hash string) (*evm.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, evm.ErrUnavailable
	}
	if _, ok := c.txs[hash]; !ok {
		return nil, evm.ErrNotFound
	}
	return &evm.Receipt{Success: true, BlockNumber: head}, nil
}

func (c *chainStub) CurrentBlockNumber(context.Context) (uint64, error) { return head, nil }

func (c *chainStub) RequiredPrice(context.Context) (*big.Int, error) { return price, nil }

type userStore struct {
	mu    sync.Mutex
	users map[evm.Address]*models.User
}

func (s *userStore) UpsertByWallet(_ context.Context, wallet evm.Address, role string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[wallet]
	if !ok {
		u = &models.User{ID: uuid.New(), WalletAddress: wallet, CreatedAt: time.Now()}
		s.users[wallet] = u
	}
	u.Role = role
	u.LastLoginAt = time.Now()
	return u, nil
}

func (s *userStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (s *userStore) GetByWallet(_ context.Context, wallet evm.Address) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[wallet]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return u, nil
}

type nonceStore struct {
	mu     sync.Mutex
	nonces map[string]*models.SignInNonce
}

func (s *nonceStore) CreateNonce(_ context.Context, address evm.Address, ttl time.Duration) (*models.SignInNonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &models.SignInNonce{ID: uuid.New(), Nonce: uuid.NewString(), Address: address, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(ttl)}
	s.nonces[n.Nonce] = n
	return n, nil
}

func (s *nonceStore) ConsumeNonce(_ context.Context, address evm.Address, nonce string) (*models.SignInNonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nonces[nonce]
	if !ok || n.Used || n.Address != address {
		return nil, repositories.ErrNonceNotUsable
	}
	n.Used = true
	return n, nil
}

type modelStore struct {
	mu     sync.Mutex
	models []*models.MLModel
}

func (s *modelStore) Create(_ context.Context, m *models.MLModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.models = append(s.models, &cp)
	return nil
}

func (s *modelStore) GetByID(_ context.Context, id uuid.UUID) (*models.MLModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.models {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repositories.ErrModelNotFound
}

func (s *modelStore) GetActive(context.Context) (*models.MLModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.models {
		if m.IsActive {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repositories.ErrModelNotFound
}

func (s *modelStore) List(context.Context, int, int) ([]models.MLModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MLModel, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, *m)
	}
	return out, nil
}

func (s *modelStore) Activate(_ context.Context, id uuid.UUID) (*models.MLModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.MLModel
	for _, m := range s.models {
		m.IsActive = m.ID == id
		if m.IsActive {
			found = m
		}
	}
	if found == nil {
		return nil, repositories.ErrModelNotFound
	}
	cp := *found
	return &cp, nil
}

type inferenceStub struct{}

func (inferenceStub) Predict(_ context.Context, req services.InferenceRequest) (*services.PredictResult, error) {
	return &services.PredictResult{Result: json.RawMessage(`{"model":"` + req.ModelRef + `"}`)}, nil
}

func (inferenceStub) EDA(context.Context, services.InferenceRequest) (*services.EDAResult, error) {
	return &services.EDAResult{Report: json.RawMessage(`{"rows":1}`)}, nil
}

type auditStub struct{}

func (auditStub) Log(context.Context, models.AuditLog) error { return nil }

func (auditStub) GetByEntity(_ context.Context, entityType, entityID string, _, _ int) ([]models.AuditLog, error) {
	id := entityID
	return []models.AuditLog{{ID: uuid.MustParse("6f1c2b9e-3a54-4d1e-9a77-0c8e5f2d4b10"), ActorType: models.ActorAdmin, Action: models.AuditModelActivated, EntityType: entityType, EntityID: &id}}, nil
}

type testServer struct {
	app      *fiber.App
	chain    *chainStub
	adminKey *ecdsa.PrivateKey
}

func newTestServer(t *testing.T, gateEnabled bool) *testServer {
	t.Helper()
	log := zap.NewNop()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	adminKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		GateEnabled:           gateEnabled,
		PaymentValidityWindow: time.Hour,
		ChainValidityWindow:   time.Hour,
		BlockInterval:         12 * time.Second,
		StatusCacheTTL:        15 * time.Second,
		JWTSecret:             "test-secret",
		JWTExpiration:         time.Hour,
		AuthDomain:            "modelgate.test",
		SignInNonceTTL:        time.Minute,
		AdminWallets:          []evm.Address{evm.FromCommon(crypto.PubkeyToAddress(adminKey.PublicKey))},
		MaxUploadBytes:        1 << 20,
		RateLimitPerMinute:    1000,
	}

	chain := &chainStub{txs: map[string]*evm.Transaction{}}
	users := &userStore{users: map[evm.Address]*models.User{}}
	grants := repositories.NewMemoryGrantRepo()
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)

	blobs, err := storage.NewDiskStore(t.TempDir(), retry.DefaultPolicy(), log)
	if err != nil {
		t.Fatal(err)
	}

	validator := services.NewPaymentValidator(chain, grants, users, services.ValidatorConfig{
		Contract:      contract,
		GrantWindow:   cfg.PaymentValidityWindow,
		ChainWindow:   cfg.ChainValidityWindow,
		BlockInterval: cfg.BlockInterval,
	}, rec, log)
	statusCache := cache.NewStatusCache(rdb)
	gate := services.NewAccessGate(validator, grants, statusCache, auditStub{}, nil, cfg.GateEnabled, log)
	reporter := services.NewStatusReporter(validator, statusCache, cfg.PaymentValidityWindow, cfg.StatusCacheTTL, cfg.GateEnabled, log)

	registry := &modelStore{}
	walletService := services.NewWalletService(&nonceStore{nonces: map[string]*models.SignInNonce{}}, users, auditStub{}, cfg, log)
	predictionService := services.NewPredictionService(gate, grants, registry, inferenceStub{}, blobs, log)
	modelService := services.NewModelService(registry, blobs, auditStub{}, nil, log)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(log)})
	SetupRouter(app, cfg, log, rdb,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		handlers.NewWalletHandler(walletService, log),
		handlers.NewUserHandler(walletService, log),
		handlers.NewPaymentHandler(predictionService, reporter, log),
		handlers.NewModelHandler(modelService, cfg.MaxUploadBytes, log),
		handlers.NewAuditHandler(auditStub{}, log),
		handlers.NewWSHub(cfg, nil, log),
	)

	return &testServer{app: app, chain: chain, adminKey: adminKey}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, map[string]any, http.Header) {
	t.Helper()
	resp, err := s.app.Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	return resp.StatusCode, body, resp.Header
}

func jsonRequest(method, path, token string, body any) *http.Request {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// signIn runs the nonce + signature flow for key and returns the session token.
func (s *testServer) signIn(t *testing.T, key *ecdsa.PrivateKey) string {
	t.Helper()
	addr := evm.FromCommon(crypto.PubkeyToAddress(key.PublicKey))

	status, body, _ := s.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/nonce", "", map[string]string{"address": addr.String()}))
	if status != http.StatusOK {
		t.Fatalf("nonce status = %d body = %v", status, body)
	}
	nonce, _ := body["nonce"].(string)
	message, _ := body["message"].(string)

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatal(err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	status, body, _ = s.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/wallet", "", map[string]string{
		"address":   addr.String(),
		"nonce":     nonce,
		"signature": hexutil.Encode(sig),
	}))
	if status != http.StatusOK {
		t.Fatalf("sign-in status = %d body = %v", status, body)
	}
	token, _ := body["token"].(string)
	return token
}

func (s *testServer) uploadAndActivate(t *testing.T, adminToken string) string {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("name", "churn")
	fw, _ := w.CreateFormFile("artifact", "model.pkl")
	_, _ = fw.Write([]byte("weights"))
	fw, _ = w.CreateFormFile("template", "features.csv")
	_, _ = fw.Write([]byte("age,income\n"))
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/models", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+adminToken)
	status, body, _ := s.do(t, req)
	if status != http.StatusCreated {
		t.Fatalf("upload status = %d body = %v", status, body)
	}
	data, _ := body["data"].(map[string]any)
	id, _ := data["id"].(string)

	status, body, _ = s.do(t, jsonRequest(http.MethodPost, "/api/v1/admin/models/"+id+"/activate", adminToken, nil))
	if status != http.StatusOK {
		t.Fatalf("activate status = %d body = %v", status, body)
	}
	return id
}

func hashOf(n byte) string {
	return "0x" + strings.Repeat("0", 62) + hexutil.Encode([]byte{n})[2:]
}

func TestPredictionFlow(t *testing.T) {
	s := newTestServer(t, true)
	adminToken := s.signIn(t, s.adminKey)
	s.uploadAndActivate(t, adminToken)

	key, _ := crypto.GenerateKey()
	wallet := evm.FromCommon(crypto.PubkeyToAddress(key.PublicKey))
	token := s.signIn(t, key)

	features := map[string]any{"features": map[string]any{"age": 30}}

	// nothing paid yet
	status, body, _ := s.do(t, jsonRequest(http.MethodPost, "/api/v1/prediction", token, features))
	if status != http.StatusPaymentRequired || body["reason"] != services.ReasonNoRecentPayment {
		t.Fatalf("unpaid: status = %d body = %v", status, body)
	}

	// wrong amount: reason names both amounts
	under := hashOf(1)
	s.chain.pay(under, wallet, big.NewInt(1e16))
	req := jsonRequest(http.MethodPost, "/api/v1/prediction", token, features)
	req.Header.Set(handlers.HeaderTransactionHash, under)
	status, body, _ = s.do(t, req)
	if status != http.StatusPaymentRequired || body["reason"] != "incorrect payment amount: expected 0.02 ETH, got 0.01 ETH" {
		t.Fatalf("underpaid: status = %d body = %v", status, body)
	}

	// correct payment
	paid := hashOf(2)
	s.chain.pay(paid, wallet, price)
	req = jsonRequest(http.MethodPost, "/api/v1/prediction", token, features)
	req.Header.Set(handlers.HeaderTransactionHash, paid)
	status, body, _ = s.do(t, req)
	if status != http.StatusCreated {
		t.Fatalf("paid: status = %d body = %v", status, body)
	}

	// covered by the recorded grant now
	status, body, _ = s.do(t, jsonRequest(http.MethodPost, "/api/v1/prediction", token, features))
	if status != http.StatusCreated {
		t.Fatalf("covered: status = %d body = %v", status, body)
	}

	status, body, _ = s.do(t, jsonRequest(http.MethodGet, "/api/v1/payment/status", token, nil))
	if status != http.StatusOK || body["has_valid_payment"] != true || body["transaction_hash"] != paid || body["gate_enabled"] != true {
		t.Fatalf("status: %d %v", status, body)
	}

	// EDA is paid separately
	status, body, _ = s.do(t, jsonRequest(http.MethodGet, "/api/v1/eda/payment/status", token, nil))
	if status != http.StatusOK || body["has_valid_payment"] != false {
		t.Fatalf("eda status: %d %v", status, body)
	}

	status, body, _ = s.do(t, jsonRequest(http.MethodGet, "/api/v1/predictions?category=prediction", token, nil))
	if list, _ := body["data"].([]any); status != http.StatusOK || len(list) != 2 {
		t.Fatalf("predictions: %d %v", status, body)
	}

	req = jsonRequest(http.MethodGet, "/api/v1/models/active/template", token, nil)
	resp, err := s.app.Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	tmpl, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(tmpl) != "age,income\n" {
		t.Fatalf("template: %d %q", resp.StatusCode, tmpl)
	}

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	m, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(m), `modelgate_events_total{outcome="invalid",reason="incorrect payment amount",type="payment_verdicts"}`) {
		t.Errorf("metrics missing verdict counter:\n%s", m)
	}
}

func TestPrediction_BadRequests(t *testing.T) {
	s := newTestServer(t, true)
	key, _ := crypto.GenerateKey()
	token := s.signIn(t, key)

	tests := []struct {
		name   string
		hash   string
		body   any
		status int
	}{
		{name: "malformed hash header", hash: "0x1234", body: map[string]any{"features": []int{1}}, status: http.StatusBadRequest},
		{name: "non-hex hash header", hash: "0x" + strings.Repeat("z", 64), body: map[string]any{"features": []int{1}}, status: http.StatusBadRequest},
		{name: "missing features", body: map[string]any{}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest(http.MethodPost, "/api/v1/prediction", token, tt.body)
			if tt.hash != "" {
				req.Header.Set(handlers.HeaderTransactionHash, tt.hash)
			}
			if status, body, _ := s.do(t, req); status != tt.status {
				t.Errorf("status = %d, want %d (%v)", status, tt.status, body)
			}
		})
	}

	status, _, _ := s.do(t, jsonRequest(http.MethodPost, "/api/v1/prediction", "", map[string]any{"features": 1}))
	if status != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", status)
	}
}

func TestPrediction_ChainDownIs503(t *testing.T) {
	s := newTestServer(t, true)
	key, _ := crypto.GenerateKey()
	token := s.signIn(t, key)
	s.chain.mu.Lock()
	s.chain.down = true
	s.chain.mu.Unlock()

	req := jsonRequest(http.MethodPost, "/api/v1/prediction", token, map[string]any{"features": 1})
	req.Header.Set(handlers.HeaderTransactionHash, hashOf(9))
	status, body, hdr := s.do(t, req)
	if status != http.StatusServiceUnavailable || hdr.Get("Retry-After") == "" {
		t.Fatalf("status = %d retry-after = %q body = %v", status, hdr.Get("Retry-After"), body)
	}
}

func TestGateDisabled(t *testing.T) {
	s := newTestServer(t, false)
	adminToken := s.signIn(t, s.adminKey)
	s.uploadAndActivate(t, adminToken)

	key, _ := crypto.GenerateKey()
	token := s.signIn(t, key)

	status, body, _ := s.do(t, jsonRequest(http.MethodPost, "/api/v1/prediction", token, map[string]any{"features": 1}))
	if status != http.StatusCreated {
		t.Fatalf("status = %d body = %v", status, body)
	}
	data, _ := body["data"].(map[string]any)
	grant, _ := data["grant"].(map[string]any)
	if _, ok := grant["transaction_hash"]; ok {
		t.Errorf("grant carries a transaction hash with the gate off: %v", grant)
	}

	status, body, _ = s.do(t, jsonRequest(http.MethodGet, "/api/v1/payment/status", token, nil))
	if status != http.StatusOK || body["has_valid_payment"] != true || body["gate_enabled"] != false {
		t.Fatalf("status: %d %v", status, body)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t, true)
	key, _ := crypto.GenerateKey()
	token := s.signIn(t, key)

	status, _, _ := s.do(t, jsonRequest(http.MethodGet, "/api/v1/admin/models", token, nil))
	if status != http.StatusForbidden {
		t.Errorf("consumer status = %d, want 403", status)
	}

	status, _, _ = s.do(t, jsonRequest(http.MethodGet, "/api/v1/admin/audit/ml_model/abc", token, nil))
	if status != http.StatusForbidden {
		t.Errorf("consumer audit status = %d, want 403", status)
	}

	status, _, _ = s.do(t, jsonRequest(http.MethodGet, "/api/v1/models/active", "", nil))
	if status != http.StatusNotFound {
		t.Errorf("no active model status = %d, want 404", status)
	}

	adminToken := s.signIn(t, s.adminKey)
	status, body, _ := s.do(t, jsonRequest(http.MethodGet, "/api/v1/admin/audit/ml_model/abc", adminToken, nil))
	if status != http.StatusOK {
		t.Fatalf("admin audit status = %d, want 200", status)
	}
	logs, _ := body["data"].([]any)
	if len(logs) != 1 {
		t.Fatalf("audit entries = %v", body["data"])
	}
	if entry, _ := logs[0].(map[string]any); entry["entity_id"] != "abc" {
		t.Errorf("entity_id = %v, want abc", entry["entity_id"])
	}
}

func TestSignIn_Rejects(t *testing.T) {
	s := newTestServer(t, true)
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	addr := evm.FromCommon(crypto.PubkeyToAddress(key.PublicKey))

	status, _, _ := s.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/nonce", "", map[string]string{"address": "0x123"}))
	if status != http.StatusBadRequest {
		t.Fatalf("bad address status = %d", status)
	}

	_, body, _ := s.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/nonce", "", map[string]string{"address": addr.String()}))
	nonce, _ := body["nonce"].(string)
	message, _ := body["message"].(string)
	sig, _ := crypto.Sign(accounts.TextHash([]byte(message)), other)

	status, _, _ = s.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/wallet", "", map[string]string{
		"address":   addr.String(),
		"nonce":     nonce,
		"signature": hexutil.Encode(sig),
	}))
	if status != http.StatusUnauthorized {
		t.Fatalf("foreign signature status = %d, want 401", status)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, true)
	status, body, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", status, body)
	}
}
