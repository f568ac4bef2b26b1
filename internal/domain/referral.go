package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// Referral 表示一宗送交本机构征求意见的规划转介申请，是整个系统的核心实体。
// 同一 Reference（参考号，大小写不敏感）在未删除的转介中至多存在一条。
type Referral struct {
	Audit
	TypeID         string    `json:"typeId" gorm:"type:varchar(36);not null"`
	AgencyID       string    `json:"agencyId" gorm:"type:varchar(36)"`
	ReferringOrgID string    `json:"referringOrgId" gorm:"type:varchar(36);not null"`
	Reference      string    `json:"reference" gorm:"type:varchar(100);index"`
	Description    string    `json:"description"`
	ReferralDate   time.Time `json:"referralDate"`
	Address        string    `json:"address" gorm:"type:varchar(200)"`
	LGAID          *string   `json:"lgaId,omitempty" gorm:"type:varchar(36)"`

	// 多对多关系通过连接表维护，不在此结构上内联。
	Regions     []Region     `json:"regions,omitempty" gorm:"many2many:referral_regions"`
	DopTriggers []DopTrigger `json:"dopTriggers,omitempty" gorm:"many2many:referral_dop_triggers"`
}

// RelatedReferral 转介之间的关联关系连接表。关系是双向建立的，
// 指向自身的关联会被静默拒绝。
type RelatedReferral struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Created        time.Time `json:"created" gorm:"autoCreateTime"`
	FromReferralID string    `json:"fromReferralId" gorm:"type:varchar(36);index:idx_related_pair,unique"`
	ToReferralID   string    `json:"toReferralId" gorm:"type:varchar(36);index:idx_related_pair,unique"`
}

// Task 附在转介上的工作任务，是工作流的承载单元。
type Task struct {
	Audit
	TypeID         string     `json:"typeId" gorm:"type:varchar(36);not null"`
	ReferralID     string     `json:"referralId" gorm:"type:varchar(36);index;not null"`
	AssignedUserID string     `json:"assignedUserId" gorm:"type:varchar(36);not null"`
	Description    string     `json:"description"`
	State          string     `json:"state" gorm:"type:varchar(50)"`
	StartDate      *time.Time `json:"startDate,omitempty"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
}

// TaskStateInProgress 新建任务的初始状态。
const TaskStateInProgress = "In progress"

// Location 转介涉及的一处地块/地址，可携带多边形几何。
type Location struct {
	Audit
	ReferralID    string      `json:"referralId" gorm:"type:varchar(36);index;not null"`
	AddressNo     *int        `json:"addressNo,omitempty"`
	AddressSuffix string      `json:"addressSuffix" gorm:"type:varchar(10)"`
	RoadName      string      `json:"roadName" gorm:"type:varchar(100)"`
	RoadSuffix    string      `json:"roadSuffix" gorm:"type:varchar(100)"`
	Locality      string      `json:"locality" gorm:"type:varchar(100)"`
	Postcode      string      `json:"postcode" gorm:"type:varchar(6)"`
	LotNo         string      `json:"lotNo" gorm:"type:varchar(100)"`
	Poly          orb.Polygon `json:"poly,omitempty" gorm:"serializer:json"`
}

// HasPoly 地块是否带有多边形几何。
func (l *Location) HasPoly() bool {
	return l != nil && len(l.Poly) > 0
}

// Record 转介名下的一份电子档案（邮件正文或附件落档后的产物）。
type Record struct {
	Audit
	ReferralID string    `json:"referralId" gorm:"type:varchar(36);index;not null"`
	Name       string    `json:"name" gorm:"type:varchar(512)"`
	Filename   string    `json:"filename" gorm:"type:varchar(255)"`
	Blob       []byte    `json:"-"`
	OrderDate  time.Time `json:"orderDate"`
}
