package api

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"secretchek/internal/api/auth"
	"secretchek/internal/model"
	"secretchek/internal/pkg/metrics"
	"secretchek/internal/pkg/notify"
	"secretchek/internal/pkg/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type takeTaskRequest struct {
	TaskID uint `json:"task_id" binding:"required"`
}

// handleAgentProfile 返回当前探员的资料。
func (s *Server) handleAgentProfile(c *gin.Context) {
	agent, err := s.agentStore.GetAgent(c.Request.Context(), getAgentID(c))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if err != nil {
		s.logger.Error("query agent failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query agent failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "agent": auth.NewAgentView(agent)})
}

// handleAgentTasks 返回探员已认领的任务，以及其所在城市可认领的新任务。
func (s *Server) handleAgentTasks(c *gin.Context) {
	agentID := getAgentID(c)

	agent, err := s.agentStore.GetAgent(c.Request.Context(), agentID)
	if err != nil {
		s.logger.Error("query agent failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query agent failed"})
		return
	}

	tasks, err := s.taskStore.ListAgentTasks(c.Request.Context(), agentID, agent.City)
	if err != nil {
		s.logger.Error("list tasks failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed"})
		return
	}
	if tasks == nil {
		tasks = []model.Task{} // Ensure JSON is [] not null
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "tasks": tasks})
}

// handleTakeTask 处理认领任务的请求。
//
// POST /agent-take-task
//
// 先做条件更新再查状态：条件更新在 agent_id IS NULL 且 status=new 时才生效，
// 两个探员并发认领同一个任务时只有一个会拿到 RowsAffected=1，
// 另一个回读后得到 409。同一探员重复认领是幂等的成功。
func (s *Server) handleTakeTask(c *gin.Context) {
	var req takeTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	agentID := getAgentID(c)

	claimed, err := s.taskStore.ClaimTask(c.Request.Context(), req.TaskID, agentID, time.Now())
	if err != nil {
		s.logger.Error("claim task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim task failed"})
		return
	}

	task, err := s.taskStore.GetTask(c.Request.Context(), req.TaskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.TaskClaimTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		s.logger.Error("query task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query task failed"})
		return
	}

	if claimed {
		metrics.TaskClaimTotal.WithLabelValues("ok").Inc()
		s.logger.Info("task claimed",
			slog.Uint64("task_id", uint64(task.ID)),
			slog.Uint64("agent_id", uint64(agentID)),
		)
		c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
		return
	}

	if task.AgentID != nil && *task.AgentID == agentID {
		// 重复认领：返回当前行，不做任何修改
		metrics.TaskClaimTotal.WithLabelValues("idempotent").Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
		return
	}

	metrics.TaskClaimTotal.WithLabelValues("conflict").Inc()
	c.JSON(http.StatusConflict, gin.H{"error": "task already taken"})
}

// handleSendReport 处理提交巡访报告的请求。
//
// POST /agent-send-report（multipart）
//
// 单个文件失败只记录并跳过，不影响整个提交；通知转发在独立 goroutine
// 中进行，不阻塞响应。
func (s *Server) handleSendReport(c *gin.Context) {
	agentID := getAgentID(c)

	taskIDStr := c.PostForm("task_id")
	if taskIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
		return
	}
	taskID64, err := strconv.ParseUint(taskIDStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task_id"})
		return
	}
	taskID := uint(taskID64)

	task, err := s.taskStore.GetTask(c.Request.Context(), taskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		s.logger.Error("query task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query task failed"})
		return
	}

	visitDate := time.Now()
	if v := c.PostForm("visit_date"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			visitDate = parsed
		}
	}

	report := model.Report{
		AgentID:   agentID,
		TaskID:    &taskID,
		ShopName:  c.PostForm("shop_name"),
		Comment:   c.PostForm("comment"),
		VisitDate: visitDate,
	}
	if err := s.reportStore.CreateReport(c.Request.Context(), &report); err != nil {
		s.logger.Error("create report failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create report failed"})
		return
	}

	var files []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil && form != nil {
		files = form.File["files"]
	}

	saved := 0
	for _, fh := range files {
		if fh.Size > s.cfg.App.MaxUploadBytes {
			s.logger.Warn("media skipped: too large",
				slog.String("file", fh.Filename),
				slog.Int64("size", fh.Size),
			)
			metrics.MediaUploadFailedTotal.Inc()
			continue
		}
		if err := s.storeMedia(c.Request.Context(), report.ID, fh); err != nil {
			s.logger.Warn("media upload failed",
				slog.String("file", fh.Filename),
				slog.String("error", err.Error()),
			)
			metrics.MediaUploadFailedTotal.Inc()
			continue
		}
		saved++
	}

	if task.AgentID != nil && *task.AgentID == agentID {
		if err := s.taskStore.MarkReported(c.Request.Context(), taskID, agentID); err != nil {
			s.logger.Warn("mark task reported failed", slog.String("error", err.Error()))
		}
	}

	metrics.ReportSubmittedTotal.Inc()
	s.logger.Info("report submitted",
		slog.Uint64("report_id", uint64(report.ID)),
		slog.Uint64("agent_id", uint64(agentID)),
		slog.Int("files", len(files)),
		slog.Int("saved", saved),
	)

	s.notifyReport(agentID, &report, len(files))

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"report_id":   report.ID,
		"files_count": len(files),
		"files_saved": saved,
	})
}

// storeMedia 把一个上传文件写入对象存储并登记引用行。
func (s *Server) storeMedia(ctx context.Context, reportID uint, fh *multipart.FileHeader) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	key := storage.ReportObjectKey(reportID, fh.Filename)
	n, err := s.media.Save(ctx, key, src)
	if err != nil {
		return err
	}

	return s.reportStore.AddMedia(ctx, &model.ReportMedia{
		ReportID:  reportID,
		FileName:  fh.Filename,
		StoredKey: key,
		SizeBytes: n,
	})
}

// notifyReport 在独立 goroutine 中转发报告摘要。
// 旁路通知：失败只记录和计数，绝不影响主请求。
func (s *Server) notifyReport(agentID uint, report *model.Report, filesCount int) {
	msg := &notify.ReportMessage{
		ShopName:   report.ShopName,
		VisitDate:  report.VisitDate.Format("2006-01-02"),
		Comment:    report.Comment,
		FilesCount: filesCount,
	}
	if report.TaskID != nil {
		msg.TaskID = *report.TaskID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if agent, err := s.agentStore.GetAgent(ctx, agentID); err == nil {
			msg.AgentName = agent.FullName
			msg.AgentPhone = agent.Phone
		}

		for _, n := range s.notifiers {
			if err := n.SendReport(ctx, msg); err != nil {
				s.logger.Warn("notify failed",
					slog.String("channel", n.Name()),
					slog.String("error", err.Error()),
				)
				metrics.NotifyFailedTotal.WithLabelValues(n.Name()).Inc()
			}
		}
	}()
}
