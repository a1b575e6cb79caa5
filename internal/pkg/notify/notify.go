package notify

import (
	"context"
)

// ReportMessage 是转发到旁路通知渠道的报告摘要。
type ReportMessage struct {
	AgentName  string
	AgentPhone string
	TaskID     uint
	ShopName   string
	VisitDate  string
	Comment    string
	FilesCount int
}

// Notifier 定义通知接口。
//
// 通知是尽力而为的旁路：调用方在独立的 goroutine 中触发，
// 失败只记录，不影响主流程。
type Notifier interface {
	// Name 返回渠道名（用于日志和指标标签）。
	Name() string
	// SendReport 将报告摘要转发到通知渠道。
	SendReport(ctx context.Context, msg *ReportMessage) error
}
