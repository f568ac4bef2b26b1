package storage

import (
	"errors"

	"github.com/dbca-wa/prs-harvester/internal/domain"
)

var (
	// ErrNotFound 目标记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 违反唯一性约束（如重复的邮箱 UID）。
	ErrDuplicate = errors.New("duplicate record")
)

// HarvestRepository 定义采集邮件及附件的存取操作。
type HarvestRepository interface {
	// SaveHarvestedMessage 按 EmailUID 幂等写入，已存在时返回 false 且不报错。
	SaveHarvestedMessage(m *domain.HarvestedMessage) (bool, error)
	GetHarvestedMessageByUID(uid string) (*domain.HarvestedMessage, error)
	// ListUnprocessedMessages 返回所有 processed=false 的邮件（不限时间）。
	ListUnprocessedMessages() ([]domain.HarvestedMessage, error)
	UpdateHarvestedMessage(m *domain.HarvestedMessage) error
	SaveAttachment(a *domain.HarvestedAttachment) error
	ListAttachments(messageID string) ([]domain.HarvestedAttachment, error)
	SetAttachmentRecord(attachmentID, recordID string) error
}

// ReferralRepository 定义转介及其下属实体的存取操作。
type ReferralRepository interface {
	// GetReferralByReference 在未删除的转介中按参考号查找，大小写不敏感。
	GetReferralByReference(reference string) (*domain.Referral, error)
	CreateReferral(r *domain.Referral) error
	AttachRegion(referralID, regionID string) error
	AttachTrigger(referralID, triggerID string) error
	CountTriggers(referralID string) (int, error)
	// RelateReferrals 双向建立两宗转介的关联；指向自身时静默拒绝，
	// 已存在的关联不重复创建。
	RelateReferrals(aID, bID string) error
	ListRelatedReferralIDs(referralID string) ([]string, error)
	CreateTask(t *domain.Task) error
	CreateRecord(r *domain.Record) error
	CreateLocation(l *domain.Location) error
	// ListLocationsWithPoly 返回带几何且属于其它转介的 live 地块。
	ListLocationsWithPoly(excludeReferralID string) ([]domain.Location, error)
}

// CatalogRepository 定义目录（查找表）的存取操作。
type CatalogRepository interface {
	SaveRegion(r *domain.Region) error
	ListRegions() ([]domain.Region, error)
	GetRegionByName(name string) (*domain.Region, error)
	SaveReferralType(t *domain.ReferralType) error
	// GetReferralTypeByPrefix 返回名称以 code 为前缀的类型，大小写不敏感。
	GetReferralTypeByPrefix(code string) (*domain.ReferralType, error)
	SaveDopTrigger(t *domain.DopTrigger) error
	GetDopTriggerByName(name string) (*domain.DopTrigger, error)
	GetDopTriggerByPrefix(token string) (*domain.DopTrigger, error)
	SaveLocalGovernment(l *domain.LocalGovernment) error
	GetLocalGovernmentByName(name string) (*domain.LocalGovernment, error)
	SaveAgency(a *domain.Agency) error
	GetAgencyBySlug(slug string) (*domain.Agency, error)
	SaveOrganisation(o *domain.Organisation) error
	GetOrganisationByName(name string) (*domain.Organisation, error)
	SaveTaskType(t *domain.TaskType) error
	GetTaskTypeByName(name string) (*domain.TaskType, error)
	SaveUser(u *domain.User) error
	GetUserByUsername(username string) (*domain.User, error)
	SaveRegionAssignee(ra *domain.RegionAssignee) error
	// GetRegionAssignee 返回某区域的默认受理人，未配置时返回 ErrNotFound。
	GetRegionAssignee(regionID string) (*domain.User, error)
}

// Store 聚合所有存储接口。
type Store interface {
	HarvestRepository
	ReferralRepository
	CatalogRepository
	Health() error
}
