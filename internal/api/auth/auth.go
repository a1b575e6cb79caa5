package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"secretchek/internal/model"
	"secretchek/internal/pkg/cooldown"
	"secretchek/internal/pkg/metrics"
	"secretchek/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CredentialStore 是 Handler 依赖的持久化能力。
//
// ConsumeCode 必须是条件更新（used=0 → used=1），返回是否真正消费成功；
// CreateAgent 依赖 phone 上的唯一索引兜底并发注册。
type CredentialStore interface {
	FindAgentByPhone(ctx context.Context, phone string) (*model.Agent, error)
	CreateAgent(ctx context.Context, agent *model.Agent) error
	UpdateLastLogin(ctx context.Context, agentID uint, at time.Time) error
	LatestCode(ctx context.Context, phone, purpose string) (*model.VerificationCode, error)
	SaveCode(ctx context.Context, code *model.VerificationCode) error
	ConsumeCode(ctx context.Context, codeID uint) (bool, error)
}

// Handler 提供注册验证码、注册确认与登录接口。
type Handler struct {
	store     CredentialStore
	cd        *cooldown.Cooldown
	limiter   *ratelimit.RateLimiter
	jwtSecret []byte
	codeTTL   time.Duration
	tokenTTL  time.Duration
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。cd 和 limiter 允许为 nil（测试或未接 Redis 时）。
func NewHandler(store CredentialStore, cd *cooldown.Cooldown, limiter *ratelimit.RateLimiter, jwtSecret string, codeTTL, tokenTTL time.Duration, logger *slog.Logger) *Handler {
	if codeTTL <= 0 {
		codeTTL = 10 * time.Minute
	}
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &Handler{
		store:     store,
		cd:        cd,
		limiter:   limiter,
		jwtSecret: []byte(jwtSecret),
		codeTTL:   codeTTL,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

type requestCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type confirmCodeRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Code     string `json:"code" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	FullName string `json:"full_name" binding:"required"`
	City     string `json:"city"`
}

type loginRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type agentClaims struct {
	jwt.RegisteredClaims
	Phone string `json:"phone"`
}

// AgentView 是对外暴露的探员信息（不含密码哈希）。
type AgentView struct {
	ID          uint       `json:"id"`
	Phone       string     `json:"phone"`
	FullName    string     `json:"full_name"`
	City        string     `json:"city"`
	Status      string     `json:"status"`
	Rating      float64    `json:"rating"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// NewAgentView 从模型构造 AgentView。
func NewAgentView(a *model.Agent) AgentView {
	return AgentView{
		ID:          a.ID,
		Phone:       a.Phone,
		FullName:    a.FullName,
		City:        a.City,
		Status:      a.Status,
		Rating:      a.Rating,
		LastLoginAt: a.LastLoginAt,
	}
}

// RequestCode 处理 POST /agent-register-request。
//
// 验证码本身不进响应体：这里只打日志模拟短信下发，生产环境接 SMS 网关。
func (h *Handler) RequestCode(c *gin.Context) {
	var req requestCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	phone := normalizePhone(req.Phone)
	if !validPhone(phone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone"})
		return
	}

	_, err := h.store.FindAgentByPhone(c.Request.Context(), phone)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "phone already registered"})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.logger.Error("query agent failed", slog.String("phone", phone), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query agent failed"})
		return
	}

	cooling, err := h.cd.Hit(c.Request.Context(), "code:"+phone)
	if err != nil {
		h.logger.Warn("cooldown check failed", slog.String("phone", phone), slog.String("error", err.Error()))
	} else if cooling {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}

	if h.limiter != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err := h.limiter.Acquire(ctx)
		cancel()
		if errors.Is(err, ratelimit.ErrRateLimitTimeout) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		if err != nil {
			h.logger.Warn("rate limiter degraded", slog.String("error", err.Error()))
		}
	}

	code, err := generateCode()
	if err != nil {
		h.logger.Error("generate code failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue code failed"})
		return
	}

	row := &model.VerificationCode{
		Phone:     phone,
		Purpose:   model.CodePurposeRegister,
		Code:      code,
		ExpiresAt: time.Now().Add(h.codeTTL),
	}
	if err := h.store.SaveCode(c.Request.Context(), row); err != nil {
		h.logger.Error("save code failed", slog.String("phone", phone), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue code failed"})
		return
	}

	// 带外下发渠道：目前只打日志，接入短信网关后替换这里
	h.logger.Info("verification code issued",
		slog.String("phone", phone),
		slog.String("code", code),
		slog.Time("expires_at", row.ExpiresAt),
	)
	metrics.RegisterCodeIssuedTotal.Inc()

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ConfirmCode 处理 POST /agent-register-confirm。
func (h *Handler) ConfirmCode(c *gin.Context) {
	var req confirmCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	phone := normalizePhone(req.Phone)

	row, err := h.store.LatestCode(c.Request.Context(), phone, model.CodePurposeRegister)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "code not found"})
		return
	}
	if err != nil {
		h.logger.Error("query code failed", slog.String("phone", phone), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query code failed"})
		return
	}

	if row.Code != strings.TrimSpace(req.Code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid code"})
		return
	}
	if time.Now().After(row.ExpiresAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code expired"})
		return
	}

	// 条件更新保证同一验证码并发确认只有一个能成功
	consumed, err := h.store.ConsumeCode(c.Request.Context(), row.ID)
	if err != nil {
		h.logger.Error("consume code failed", slog.String("phone", phone), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "consume code failed"})
		return
	}
	if !consumed {
		c.JSON(http.StatusConflict, gin.H{"error": "code already used"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	agent := &model.Agent{
		Phone:    phone,
		Password: string(hash),
		FullName: strings.TrimSpace(req.FullName),
		City:     strings.TrimSpace(req.City),
		Status:   model.AgentStatusPending,
	}
	if err := h.store.CreateAgent(c.Request.Context(), agent); err != nil {
		if isDuplicateKey(err) {
			// phone 唯一索引兜底：并发确认的另一个请求先插入了
			c.JSON(http.StatusConflict, gin.H{"error": "phone already registered"})
			return
		}
		h.logger.Error("create agent failed", slog.String("phone", phone), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create agent failed"})
		return
	}

	token, err := h.issueToken(agent)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("phone", phone), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	h.logger.Info("agent registered", slog.String("phone", phone), slog.Uint64("agent_id", uint64(agent.ID)))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"agent":   NewAgentView(agent),
	})
}

// Login 校验凭证并返回 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	phone := normalizePhone(req.Phone)

	agent, err := h.store.FindAgentByPhone(c.Request.Context(), phone)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.LoginTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if err != nil {
		h.logger.Error("query agent failed", slog.String("phone", phone), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query agent failed"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(agent.Password), []byte(req.Password)); err != nil {
		metrics.LoginTotal.WithLabelValues("bad_password").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if agent.Status == model.AgentStatusBlocked {
		metrics.LoginTotal.WithLabelValues("blocked").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "account blocked"})
		return
	}

	now := time.Now()
	if err := h.store.UpdateLastLogin(c.Request.Context(), agent.ID, now); err != nil {
		h.logger.Warn("update last login failed", slog.Uint64("agent_id", uint64(agent.ID)), slog.String("error", err.Error()))
	} else {
		agent.LastLoginAt = &now
	}

	token, err := h.issueToken(agent)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("phone", phone), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	metrics.LoginTotal.WithLabelValues("ok").Inc()
	h.logger.Info("agent logged in", slog.String("phone", phone), slog.Uint64("agent_id", uint64(agent.ID)))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"agent":   NewAgentView(agent),
	})
}

func (h *Handler) issueToken(agent *model.Agent) (string, error) {
	now := time.Now()
	claims := agentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(agent.ID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Phone: agent.Phone,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

// generateCode 在 [1000, 9999] 上均匀取一个 4 位验证码。
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return strconv.FormatInt(1000+n.Int64(), 10), nil
}

func normalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}

// validPhone 只做粗校验：可选 + 前缀，5~20 位数字。
func validPhone(phone string) bool {
	s := strings.TrimPrefix(phone, "+")
	if len(s) < 5 || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
