package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit 记录实体的创建/修改审计信息。所有落库实体都内嵌该结构，
// 操作者身份由调用方显式传入（不读取任何全局状态）。
type Audit struct {
	ID         string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Created    time.Time      `json:"created" gorm:"autoCreateTime"`
	Modified   time.Time      `json:"modified" gorm:"autoUpdateTime"`
	CreatorID  string         `json:"creatorId" gorm:"type:varchar(36)"`
	ModifierID string         `json:"modifierId" gorm:"type:varchar(36)"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// NewAudit 以指定操作者身份生成一条新的审计信息。
func NewAudit(actorID string) Audit {
	return Audit{
		ID:         uuid.NewString(),
		CreatorID:  actorID,
		ModifierID: actorID,
	}
}

// Live 实体未被软删除时返回 true（领域术语里的 "live/current"）。
func (a Audit) Live() bool {
	return !a.DeletedAt.Valid
}
