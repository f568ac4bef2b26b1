package domain

import "github.com/paulmach/orb"

// Region 表示机构的行政区域，可携带多多边形边界。
// 没有边界（Geometry 为空）的区域不参与空间相交判定。
type Region struct {
	Audit
	Name     string           `json:"name" gorm:"type:varchar(200);uniqueIndex"`
	Geometry orb.MultiPolygon `json:"geometry,omitempty" gorm:"serializer:json"`
}

// HasGeometry 区域是否带有可用于相交判定的边界。
func (r *Region) HasGeometry() bool {
	return r != nil && len(r.Geometry) > 0
}

// ReferralType 转介类型目录（如 Subdivision、Development）。
type ReferralType struct {
	Audit
	Name string `json:"name" gorm:"type:varchar(200);uniqueIndex"`
}

// DopTrigger 规划政策触发点目录。未匹配任何规则的新转介
// 会挂上固定的哨兵条目（见 SentinelTrigger）。
type DopTrigger struct {
	Audit
	Name string `json:"name" gorm:"type:varchar(200);uniqueIndex"`
}

// SentinelTrigger 是"无触发点"哨兵标签的名称。
// 新建转介完成触发点推导后至少会带一个标签。
const SentinelTrigger = "No Parks and Wildlife trigger"

// LocalGovernment 地方政府目录，按名称精确匹配。
type LocalGovernment struct {
	Audit
	Name string `json:"name" gorm:"type:varchar(200);uniqueIndex"`
}

// Agency 接收转介的机构。
type Agency struct {
	Audit
	Name string `json:"name" gorm:"type:varchar(200)"`
	Slug string `json:"slug" gorm:"type:varchar(100);uniqueIndex"`
}

// Organisation 转介来源组织（referring organisation）。
type Organisation struct {
	Audit
	Name string `json:"name" gorm:"type:varchar(200);uniqueIndex"`
}

// TaskType 任务类型目录。TargetDays 为到期日缺省偏移（天）。
type TaskType struct {
	Audit
	Name       string `json:"name" gorm:"type:varchar(200);uniqueIndex"`
	TargetDays int    `json:"targetDays"`
}

// User 系统用户（任务受理人）。
type User struct {
	Audit
	Username string `json:"username" gorm:"type:varchar(100);uniqueIndex"`
	Email    string `json:"email" gorm:"type:varchar(255)"`
	Active   bool   `json:"active" gorm:"default:true"`
}

// RegionAssignee 定义某区域新生成转介的默认受理人。
type RegionAssignee struct {
	Audit
	RegionID string `json:"regionId" gorm:"type:varchar(36);uniqueIndex"`
	UserID   string `json:"userId" gorm:"type:varchar(36)"`
}
