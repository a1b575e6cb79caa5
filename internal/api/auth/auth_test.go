package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"secretchek/internal/model"
	"secretchek/internal/pkg/cooldown"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// mockCredStore 是 CredentialStore 的内存实现，用于 Handler 测试。
type mockCredStore struct {
	agents    map[string]*model.Agent
	codes     []*model.VerificationCode
	nextID    uint
	createErr error
}

func newMockCredStore() *mockCredStore {
	return &mockCredStore{agents: map[string]*model.Agent{}}
}

func (m *mockCredStore) FindAgentByPhone(_ context.Context, phone string) (*model.Agent, error) {
	if a, ok := m.agents[phone]; ok {
		return a, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockCredStore) CreateAgent(_ context.Context, agent *model.Agent) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.agents[agent.Phone]; ok {
		return gorm.ErrDuplicatedKey
	}
	m.nextID++
	agent.ID = m.nextID
	m.agents[agent.Phone] = agent
	return nil
}

func (m *mockCredStore) UpdateLastLogin(_ context.Context, agentID uint, at time.Time) error {
	for _, a := range m.agents {
		if a.ID == agentID {
			a.LastLoginAt = &at
		}
	}
	return nil
}

func (m *mockCredStore) LatestCode(_ context.Context, phone, purpose string) (*model.VerificationCode, error) {
	for i := len(m.codes) - 1; i >= 0; i-- {
		c := m.codes[i]
		if c.Phone == phone && c.Purpose == purpose && !c.Used {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockCredStore) SaveCode(_ context.Context, code *model.VerificationCode) error {
	m.nextID++
	code.ID = m.nextID
	m.codes = append(m.codes, code)
	return nil
}

func (m *mockCredStore) ConsumeCode(_ context.Context, codeID uint) (bool, error) {
	for _, c := range m.codes {
		if c.ID == codeID && !c.Used {
			c.Used = true
			return true, nil
		}
	}
	return false, nil
}

const testSecret = "test-secret"

func newTestHandler(store CredentialStore, cd *cooldown.Cooldown) *Handler {
	return NewHandler(store, cd, nil, testSecret, 10*time.Minute, 7*24*time.Hour,
		slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)))
}

func doJSON(t *testing.T, handler gin.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", handler)

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestCode_InvalidPhone(t *testing.T) {
	h := newTestHandler(newMockCredStore(), nil)
	w := doJSON(t, h.RequestCode, gin.H{"phone": "not-a-phone"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequestCode_AlreadyRegistered(t *testing.T) {
	store := newMockCredStore()
	store.agents["+77010000001"] = &model.Agent{ID: 1, Phone: "+77010000001"}

	h := newTestHandler(store, nil)
	w := doJSON(t, h.RequestCode, gin.H{"phone": "+77010000001"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequestCode_IssuesCode(t *testing.T) {
	store := newMockCredStore()
	h := newTestHandler(store, nil)

	w := doJSON(t, h.RequestCode, gin.H{"phone": "+77010000002"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.codes) != 1 {
		t.Fatalf("expected one saved code, got %d", len(store.codes))
	}
	code := store.codes[0]
	if len(code.Code) != 4 || code.Code < "1000" || code.Code > "9999" {
		t.Fatalf("expected 4-digit code in [1000,9999], got %q", code.Code)
	}
	if code.Used {
		t.Fatalf("fresh code must be unused")
	}
	if !code.ExpiresAt.After(time.Now().Add(9 * time.Minute)) {
		t.Fatalf("code TTL too short: %v", code.ExpiresAt)
	}
}

func TestRequestCode_ResendCooldown(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	h := newTestHandler(newMockCredStore(), cooldown.New(rdb, time.Minute))

	if w := doJSON(t, h.RequestCode, gin.H{"phone": "+77010000003"}); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	if w := doJSON(t, h.RequestCode, gin.H{"phone": "+77010000003"}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}

	s.FastForward(2 * time.Minute)
	if w := doJSON(t, h.RequestCode, gin.H{"phone": "+77010000003"}); w.Code != http.StatusOK {
		t.Fatalf("after cooldown: expected 200, got %d", w.Code)
	}
}

func confirmBody(phone, code string) gin.H {
	return gin.H{
		"phone":     phone,
		"code":      code,
		"password":  "secret123",
		"full_name": "Test Agent",
		"city":      "Almaty",
	}
}

func TestConfirmCode_WrongCode(t *testing.T) {
	store := newMockCredStore()
	store.codes = append(store.codes, &model.VerificationCode{
		ID: 1, Phone: "+77010000004", Purpose: model.CodePurposeRegister,
		Code: "1234", ExpiresAt: time.Now().Add(10 * time.Minute),
	})

	h := newTestHandler(store, nil)
	w := doJSON(t, h.ConfirmCode, confirmBody("+77010000004", "9999"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConfirmCode_Expired(t *testing.T) {
	store := newMockCredStore()
	store.codes = append(store.codes, &model.VerificationCode{
		ID: 1, Phone: "+77010000005", Purpose: model.CodePurposeRegister,
		Code: "1234", ExpiresAt: time.Now().Add(-time.Minute),
	})

	h := newTestHandler(store, nil)
	w := doJSON(t, h.ConfirmCode, confirmBody("+77010000005", "1234"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConfirmCode_NoCode(t *testing.T) {
	h := newTestHandler(newMockCredStore(), nil)
	w := doJSON(t, h.ConfirmCode, confirmBody("+77010000006", "1234"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConfirmCode_SingleUse(t *testing.T) {
	store := newMockCredStore()
	store.codes = append(store.codes, &model.VerificationCode{
		ID: 1, Phone: "+77010000007", Purpose: model.CodePurposeRegister,
		Code: "4321", ExpiresAt: time.Now().Add(10 * time.Minute),
	})
	h := newTestHandler(store, nil)

	w := doJSON(t, h.ConfirmCode, confirmBody("+77010000007", "4321"))
	if w.Code != http.StatusOK {
		t.Fatalf("first confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
		Agent   struct {
			ID     uint   `json:"id"`
			Phone  string `json:"phone"`
			Status string `json:"status"`
		} `json:"agent"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Token == "" {
		t.Fatalf("expected success with token, got %+v", resp)
	}
	if resp.Agent.Status != model.AgentStatusPending {
		t.Fatalf("expected pending agent, got %q", resp.Agent.Status)
	}

	agent := store.agents["+77010000007"]
	if agent == nil {
		t.Fatalf("agent not persisted")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(agent.Password), []byte("secret123")); err != nil {
		t.Fatalf("stored password must be a bcrypt hash of the submitted password: %v", err)
	}

	// 同一验证码的第二次确认必须被拒绝
	delete(store.agents, "+77010000007")
	w = doJSON(t, h.ConfirmCode, confirmBody("+77010000007", "4321"))
	if w.Code != http.StatusNotFound && w.Code != http.StatusConflict {
		t.Fatalf("second confirm: expected 404/409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConfirmCode_DuplicatePhone(t *testing.T) {
	store := newMockCredStore()
	store.codes = append(store.codes, &model.VerificationCode{
		ID: 1, Phone: "+77010000008", Purpose: model.CodePurposeRegister,
		Code: "5678", ExpiresAt: time.Now().Add(10 * time.Minute),
	})
	store.createErr = gorm.ErrDuplicatedKey

	h := newTestHandler(store, nil)
	w := doJSON(t, h.ConfirmCode, confirmBody("+77010000008", "5678"))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func registeredStore(t *testing.T, phone, password, status string) *mockCredStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store := newMockCredStore()
	store.agents[phone] = &model.Agent{
		ID: 7, Phone: phone, Password: string(hash),
		FullName: "Test Agent", Status: status,
	}
	return store
}

func TestLogin_NotFound(t *testing.T) {
	h := newTestHandler(newMockCredStore(), nil)
	w := doJSON(t, h.Login, gin.H{"phone": "+77010000009", "password": "whatever"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	store := registeredStore(t, "+77010000010", "right-password", model.AgentStatusActive)
	h := newTestHandler(store, nil)
	w := doJSON(t, h.Login, gin.H{"phone": "+77010000010", "password": "wrong-password"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLogin_Blocked(t *testing.T) {
	store := registeredStore(t, "+77010000011", "secret123", model.AgentStatusBlocked)
	h := newTestHandler(store, nil)
	w := doJSON(t, h.Login, gin.H{"phone": "+77010000011", "password": "secret123"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLogin_TokenWindow(t *testing.T) {
	store := registeredStore(t, "+77010000012", "secret123", model.AgentStatusActive)
	h := newTestHandler(store, nil)

	before := time.Now()
	w := doJSON(t, h.Login, gin.H{"phone": "+77010000012", "password": "secret123"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	claims := &agentClaims{}
	token, err := jwt.ParseWithClaims(resp.Token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token must verify against the signing secret: %v", err)
	}
	if claims.Subject != fmt.Sprint(7) {
		t.Fatalf("expected subject 7, got %q", claims.Subject)
	}
	if claims.Phone != "+77010000012" {
		t.Fatalf("expected phone claim, got %q", claims.Phone)
	}

	// 过期时间落在签发后 7 天的窗口内
	exp := claims.ExpiresAt.Time
	if exp.Before(before.Add(7*24*time.Hour-time.Minute)) || exp.After(time.Now().Add(7*24*time.Hour+time.Minute)) {
		t.Fatalf("expected 7d token lifetime, got exp=%v", exp)
	}

	if store.agents["+77010000012"].LastLoginAt == nil {
		t.Fatalf("expected last login timestamp to be updated")
	}
}

func TestValidPhone(t *testing.T) {
	cases := []struct {
		phone string
		ok    bool
	}{
		{"+77011234567", true},
		{"77011234567", true},
		{"12345", true},
		{"+1234", false},
		{"", false},
		{"+7701abc4567", false},
		{"+123456789012345678901", false},
	}
	for _, tc := range cases {
		if got := validPhone(tc.phone); got != tc.ok {
			t.Errorf("validPhone(%q) = %v, want %v", tc.phone, got, tc.ok)
		}
	}
}
