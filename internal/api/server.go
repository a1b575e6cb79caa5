package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"secretchek/internal/api/auth"
	"secretchek/internal/api/middleware"
	"secretchek/internal/config"
	"secretchek/internal/model"
	"secretchek/internal/pkg/cooldown"
	"secretchek/internal/pkg/metrics"
	"secretchek/internal/pkg/notify"
	"secretchek/internal/pkg/ratelimit"
	"secretchek/internal/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、媒体存储、通知渠道以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	auth   *auth.Handler

	agentStore  AgentStore
	taskStore   TaskStore
	reportStore ReportStore
	adminStore  AdminStore
	media       storage.Store
	notifiers   []notify.Notifier
}

type AgentStore interface {
	GetAgent(ctx context.Context, agentID uint) (*model.Agent, error)
}

type TaskStore interface {
	GetTask(ctx context.Context, taskID uint) (*model.Task, error)
	// ClaimTask 是条件更新：只在 agent_id IS NULL 且 status=new 时生效，
	// 返回是否真正完成了认领。
	ClaimTask(ctx context.Context, taskID, agentID uint, at time.Time) (bool, error)
	ListAgentTasks(ctx context.Context, agentID uint, city string) ([]model.Task, error)
	CreateTask(ctx context.Context, task *model.Task) error
	MarkReported(ctx context.Context, taskID, agentID uint) error
}

type ReportStore interface {
	CreateReport(ctx context.Context, report *model.Report) error
	AddMedia(ctx context.Context, media *model.ReportMedia) error
}

type AdminStore interface {
	CreateCompany(ctx context.Context, company *model.Company) error
	GetCompany(ctx context.Context, companyID uint) (*model.Company, error)
	CreateLocation(ctx context.Context, location *model.Location) error
	GetLocation(ctx context.Context, locationID uint) (*model.Location, error)
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 初始化媒体存储与通知渠道
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.Agent{},
		&model.VerificationCode{},
		&model.Company{},
		&model.Location{},
		&model.Task{},
		&model.Report{},
		&model.ReportMedia{},
	); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	media, err := storage.NewDiskStore(cfg.Storage.RootDir)
	if err != nil {
		return nil, err
	}

	codeCooldown := cooldown.New(rdb, cfg.App.ResendCooldown)
	codeLimiter := ratelimit.NewRedisRateLimiter(
		rdb, logger,
		"secretchek:ratelimit:code",
		cfg.App.CodeRateLimit, cfg.App.CodeRateBurst,
	)

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.MaxMultipartMemory = 32 << 20

	store := dbStore{db: db}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		router: r,
		auth: auth.NewHandler(
			auth.NewGormStore(db),
			codeCooldown,
			codeLimiter,
			cfg.Security.JWTSecret,
			cfg.App.CodeTTL,
			cfg.App.TokenTTL,
			logger,
		),
		agentStore:  store,
		taskStore:   store,
		reportStore: store,
		adminStore:  store,
		media:       media,
		notifiers: []notify.Notifier{
			notify.NewTelegramNotifier(&cfg.Telegram, logger),
			notify.NewEmailNotifier(&cfg.Email, logger),
		},
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "SecretChek report server is running")
	})

	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/agent-register-request", s.auth.RequestCode)
	s.router.POST("/agent-register-confirm", s.auth.ConfirmCode)
	s.router.POST("/agent-login", s.auth.Login)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthAgent(s.cfg.Security.JWTSecret))
	authed.GET("/agent-profile", s.handleAgentProfile)
	authed.GET("/agent-tasks", s.handleAgentTasks)
	authed.POST("/agent-take-task", s.handleTakeTask)
	authed.POST("/agent-send-report", s.handleSendReport)

	admin := s.router.Group("/")
	admin.Use(middleware.AdminKey(s.cfg.Security.AdminKey))
	admin.POST("/create-company", s.handleCreateCompany)
	admin.POST("/create-location", s.handleCreateLocation)
	admin.POST("/create-task", s.handleCreateTask)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createCompanyRequest 创建公司的请求参数。
type createCompanyRequest struct {
	Name    string `json:"name" binding:"required"`
	Contact string `json:"contact"`
}

type createLocationRequest struct {
	CompanyID uint   `json:"company_id" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Address   string `json:"address"`
	City      string `json:"city"`
}

type createTaskRequest struct {
	CompanyID   uint   `json:"company_id" binding:"required"`
	LocationID  uint   `json:"location_id"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	City        string `json:"city"`
	Reward      int32  `json:"reward"`
}

// handleCreateCompany 处理创建公司的请求（管理端）。
func (s *Server) handleCreateCompany(c *gin.Context) {
	var req createCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	company := model.Company{
		Name:    req.Name,
		Contact: req.Contact,
	}
	if err := s.adminStore.CreateCompany(c.Request.Context(), &company); err != nil {
		s.logger.Error("create company failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create company failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "company": company})
}

// handleCreateLocation 处理创建门店的请求（管理端）。
func (s *Server) handleCreateLocation(c *gin.Context) {
	var req createLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.adminStore.GetCompany(c.Request.Context(), req.CompanyID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "company not found"})
			return
		}
		s.logger.Error("query company failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query company failed"})
		return
	}

	location := model.Location{
		CompanyID: req.CompanyID,
		Name:      req.Name,
		Address:   req.Address,
		City:      req.City,
	}
	if err := s.adminStore.CreateLocation(c.Request.Context(), &location); err != nil {
		s.logger.Error("create location failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create location failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "location": location})
}

// handleCreateTask 处理创建巡检任务的请求（管理端）。
//
// 新任务总是以 status=new、无认领人的状态进库。
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	city := req.City
	if req.LocationID != 0 {
		location, err := s.adminStore.GetLocation(c.Request.Context(), req.LocationID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "location not found"})
			return
		}
		if err != nil {
			s.logger.Error("query location failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query location failed"})
			return
		}
		if city == "" {
			city = location.City
		}
	}

	task := model.Task{
		CompanyID:   req.CompanyID,
		LocationID:  req.LocationID,
		Title:       req.Title,
		Description: req.Description,
		City:        city,
		Reward:      req.Reward,
		Status:      model.TaskStatusNew,
	}
	if err := s.taskStore.CreateTask(c.Request.Context(), &task); err != nil {
		s.logger.Error("create task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

func getAgentID(c *gin.Context) uint {
	return c.GetUint("agentID")
}
