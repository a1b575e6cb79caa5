package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"secretchek/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 把报告摘要用邮件发给管理员，作为 Telegram 之外的备用渠道。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

func (n *EmailNotifier) Name() string { return "email" }

// SendReport 发送报告通知邮件。配置缺失时静默跳过。
func (n *EmailNotifier) SendReport(ctx context.Context, msg *ReportMessage) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		if n.logger != nil {
			n.logger.Warn("email config missing, skip notification")
		}
		return nil
	}
	if strings.TrimSpace(n.cfg.AdminEmail) == "" {
		if n.logger != nil {
			n.logger.Warn("admin email empty, skip notification")
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.AdminEmail)
	m.SetHeader("Subject", "[SecretChek] New visit report")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>New SecretChek report</h2>
    <p><b>Agent:</b> %s (%s)</p>
    <p><b>Task:</b> #%d</p>
    <p><b>Shop:</b> %s</p>
    <p><b>Date:</b> %s</p>
    <p><b>Files:</b> %d</p>
    <p><b>Comment:</b></p>
    <p>%s</p>
  </div>
</body>
</html>`,
		orDash(msg.AgentName), orDash(msg.AgentPhone), msg.TaskID,
		orDash(msg.ShopName), orDash(msg.VisitDate), msg.FilesCount, orDash(msg.Comment))
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("email notification sent", slog.String("to", n.cfg.AdminEmail))
	}
	return nil
}
