package domain

import (
	"fmt"
	"time"
)

// HarvestedMessage 表示一封已入库的转介邮件。以邮箱 UID 去重：
// 同一 UID 重复采集是幂等空操作。记录一旦产生不做物理删除，
// 对账阶段只会更新 ReferralID / Processed / ActionLog。
type HarvestedMessage struct {
	Audit
	EmailUID   string    `json:"emailUid" gorm:"type:varchar(256);uniqueIndex;not null"`
	Received   time.Time `json:"received"`
	FromEmail  string    `json:"fromEmail" gorm:"type:varchar(256)"`
	ToEmail    string    `json:"toEmail" gorm:"type:varchar(256)"`
	Subject    string    `json:"subject" gorm:"type:varchar(256)"`
	Body       string    `json:"body"`
	ReferralID *string   `json:"referralId,omitempty" gorm:"type:varchar(36)"`
	Processed  bool      `json:"processed" gorm:"default:false;index"`
	ActionLog  ActionLog `json:"actionLog" gorm:"serializer:json"`
}

// ActionLog 追加式的处理轨迹，每行带时间戳，是对账过程
// 首要的可观测产物：每一个决策分支都要落一行。
type ActionLog []string

// Append 追加一条带时间戳的动作记录并返回该行内容。
func (l *ActionLog) Append(format string, args ...any) string {
	line := fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	*l = append(*l, line)
	return line
}

// HarvestedAttachment 已入库邮件的一个附件。除 RecordID
// （附件落档为 Record 后回填一次）外创建即不可变。
type HarvestedAttachment struct {
	Audit
	HarvestedMessageID string  `json:"harvestedMessageId" gorm:"type:varchar(36);index;not null"`
	Name               string  `json:"name" gorm:"type:varchar(256)"`
	Payload            []byte  `json:"-"`
	RecordID           *string `json:"recordId,omitempty" gorm:"type:varchar(36)"`
}
