package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"secretchek/internal/config"

	"github.com/go-resty/resty/v2"
)

// TelegramNotifier 通过 Bot API 把报告摘要转发到管理群。
type TelegramNotifier struct {
	client *resty.Client
	token  string
	chatID string
	logger *slog.Logger
}

// NewTelegramNotifier 创建 Telegram 通知器。
func NewTelegramNotifier(cfg *config.TelegramConfig, logger *slog.Logger) *TelegramNotifier {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIBaseURL, "/")).
		SetTimeout(10 * time.Second)
	return &TelegramNotifier{
		client: client,
		token:  cfg.BotToken,
		chatID: cfg.ChatID,
		logger: logger,
	}
}

func (n *TelegramNotifier) Name() string { return "telegram" }

// SendReport 发送 sendMessage 请求。配置缺失时静默跳过。
func (n *TelegramNotifier) SendReport(ctx context.Context, msg *ReportMessage) error {
	if n.token == "" || n.chatID == "" {
		if n.logger != nil {
			n.logger.Warn("telegram config missing, skip notification")
		}
		return nil
	}

	body := map[string]interface{}{
		"chat_id":    n.chatID,
		"text":       buildReportText(msg),
		"parse_mode": "Markdown",
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(fmt.Sprintf("/bot%s/sendMessage", n.token))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send: status %d", resp.StatusCode())
	}

	if n.logger != nil {
		n.logger.Info("telegram notification sent", slog.Uint64("task_id", uint64(msg.TaskID)))
	}
	return nil
}

func buildReportText(msg *ReportMessage) string {
	var b strings.Builder
	b.WriteString("📋 *New SecretChek report*\n\n")
	fmt.Fprintf(&b, "👤 Agent: %s (%s)\n", orDash(msg.AgentName), orDash(msg.AgentPhone))
	if msg.TaskID != 0 {
		fmt.Fprintf(&b, "🗒 Task: #%d\n", msg.TaskID)
	}
	fmt.Fprintf(&b, "🏪 Shop: %s\n", orDash(msg.ShopName))
	fmt.Fprintf(&b, "📅 Date: %s\n", orDash(msg.VisitDate))
	fmt.Fprintf(&b, "📎 Files: %d\n", msg.FilesCount)
	fmt.Fprintf(&b, "💬 Comment:\n%s\n", orDash(msg.Comment))
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
