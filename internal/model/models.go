package model

import (
	"time"
)

// VerificationCode 用途常量。
const (
	CodePurposeRegister = "register"
)

// Task 状态机：new → in_progress → reported。
const (
	TaskStatusNew        = "new"
	TaskStatusInProgress = "in_progress"
	TaskStatusReported   = "reported"
)

// VerificationCode 表示注册用的一次性短信验证码。
//
// 对于同一个 (phone, purpose)，校验时只认最新一条未使用且未过期的记录；
// 消费通过条件更新完成（used=0 → used=1），保证并发下只能成功一次。
type VerificationCode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Phone     string    `gorm:"type:varchar(32);index:idx_code_phone_purpose;not null" json:"phone"`   // 手机号
	Purpose   string    `gorm:"type:varchar(16);index:idx_code_phone_purpose;not null" json:"purpose"` // 用途，目前仅 register
	Code      string    `gorm:"type:varchar(8);not null" json:"-"`                                     // 4 位数字码
	Used      bool      `gorm:"default:false" json:"used"`                                             // 是否已消费
	ExpiresAt time.Time `json:"expires_at"`                                                            // 过期时间
	CreatedAt time.Time `json:"created_at"`                                                            // 签发时间
}

// Company 表示委托巡检的公司。
type Company struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"` // 公司名称
	Contact   string    `gorm:"type:varchar(128)" json:"contact"`       // 联系方式
	CreatedAt time.Time `json:"created_at"`

	Locations []Location `gorm:"foreignKey:CompanyID" json:"locations,omitempty"`
}

// Location 表示公司旗下需要巡检的门店/网点。
type Location struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CompanyID uint      `gorm:"not null;index" json:"company_id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"` // 门店名称
	Address   string    `gorm:"type:varchar(255)" json:"address"`       // 地址
	City      string    `gorm:"type:varchar(64)" json:"city"`           // 城市
	CreatedAt time.Time `json:"created_at"`
}

// Task 表示一个可认领的巡检任务。
//
// AgentID 为空表示任务尚未被认领。认领只能从 new 状态发生，
// 且必须通过条件更新完成；同一探员重复认领是幂等的。
type Task struct {
	ID        uint      `gorm:"primaryKey" json:"id"` // 任务 ID
	CreatedAt time.Time `json:"created_at"`           // 创建时间
	UpdatedAt time.Time `json:"updated_at"`

	CompanyID  uint  `gorm:"index" json:"company_id"`         // 所属公司
	LocationID uint  `gorm:"index" json:"location_id"`        // 巡检门店
	AgentID    *uint `gorm:"index" json:"agent_id,omitempty"` // 认领探员，NULL 表示未认领

	Title       string `gorm:"type:varchar(128);not null" json:"title"`    // 任务标题
	Description string `gorm:"type:text" json:"description"`               // 任务说明
	City        string `gorm:"type:varchar(64)" json:"city"`               // 执行城市
	Reward      int32  `gorm:"default:0" json:"reward"`                    // 酬劳（分）
	Status      string `gorm:"type:varchar(16);default:new" json:"status"` // new / in_progress / reported

	ClaimedAt *time.Time `json:"claimed_at,omitempty"` // 认领时间
}

// Report 表示探员提交的巡访报告，创建后不可修改。
type Report struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"` // 提交时间

	AgentID   uint      `gorm:"not null;index" json:"agent_id"`      // 提交人
	TaskID    *uint     `gorm:"index" json:"task_id,omitempty"`      // 关联任务（可为空，允许独立报告）
	ShopName  string    `gorm:"type:varchar(128)" json:"shop_name"`
	Comment   string    `gorm:"type:text" json:"comment"`
	VisitDate time.Time `json:"visit_date"` // 巡访日期

	Media []ReportMedia `gorm:"foreignKey:ReportID" json:"media,omitempty"`
}

// ReportMedia 表示报告附带的一份媒体文件，只记录对象存储中的引用。
type ReportMedia struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ReportID  uint      `gorm:"not null;index" json:"report_id"`
	FileName  string    `gorm:"type:varchar(255)" json:"file_name"`  // 原始文件名
	StoredKey string    `gorm:"type:varchar(255)" json:"stored_key"` // 对象存储中的路径
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}
