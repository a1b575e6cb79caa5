package model

import "time"

// Agent 账号状态。
const (
	AgentStatusPending = "pending"
	AgentStatusActive  = "active"
	AgentStatusBlocked = "blocked"
)

// Agent 表示一名外勤探员（神秘顾客）。
type Agent struct {
	ID          uint       `gorm:"primaryKey" json:"id"`                               // 探员 ID
	Phone       string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"phone"` // 手机号（唯一）
	Password    string     `gorm:"not null" json:"-"`                                  // bcrypt 哈希
	FullName    string     `gorm:"type:varchar(64)" json:"full_name"`                  // 姓名
	City        string     `gorm:"type:varchar(64)" json:"city"`                       // 所在城市
	Status      string     `gorm:"type:varchar(16);default:pending" json:"status"`     // pending / active / blocked
	Rating      float64    `gorm:"default:0" json:"rating"`                            // 评分
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`                            // 最近登录时间
	CreatedAt   time.Time  `json:"created_at"`                                         // 注册时间

	Tasks []Task `gorm:"foreignKey:AgentID" json:"-"`
}
