package harvest

import (
	"errors"
	"fmt"

	"github.com/dbca-wa/prs-harvester/internal/config"
	"github.com/dbca-wa/prs-harvester/internal/domain"
	"github.com/dbca-wa/prs-harvester/internal/storage"
)

// seedActor 初始化目录数据时使用的操作者标识。
const seedActor = "system"

// EnsureDefaults 幂等地写入对账流程依赖的目录数据：受理机构、来文
// 组织、默认任务类型、固定触发点、回退区域，以及采集器与兜底受理人
// 两个用户。已存在的条目保持不动。
func EnsureDefaults(store storage.Store, cfg config.HarvestConfig) error {
	if _, err := store.GetAgencyBySlug(DefaultAgencySlug); errors.Is(err, storage.ErrNotFound) {
		if err := store.SaveAgency(&domain.Agency{
			Audit: domain.NewAudit(seedActor),
			Name:  "Department of Biodiversity, Conservation and Attractions",
			Slug:  DefaultAgencySlug,
		}); err != nil {
			return fmt.Errorf("seed agency: %w", err)
		}
	}

	if _, err := store.GetOrganisationByName(ReferringOrgName); errors.Is(err, storage.ErrNotFound) {
		if err := store.SaveOrganisation(&domain.Organisation{
			Audit: domain.NewAudit(seedActor),
			Name:  ReferringOrgName,
		}); err != nil {
			return fmt.Errorf("seed organisation: %w", err)
		}
	}

	if _, err := store.GetTaskTypeByName(AssessTaskType); errors.Is(err, storage.ErrNotFound) {
		if err := store.SaveTaskType(&domain.TaskType{
			Audit:      domain.NewAudit(seedActor),
			Name:       AssessTaskType,
			TargetDays: 35,
		}); err != nil {
			return fmt.Errorf("seed task type: %w", err)
		}
	}

	for _, name := range []string{domain.SentinelTrigger, triggerBushForever, triggerRegionalPark} {
		if _, err := store.GetDopTriggerByName(name); errors.Is(err, storage.ErrNotFound) {
			if err := store.SaveDopTrigger(&domain.DopTrigger{
				Audit: domain.NewAudit(seedActor),
				Name:  name,
			}); err != nil {
				return fmt.Errorf("seed trigger %q: %w", name, err)
			}
		}
	}

	if _, err := store.GetRegionByName(cfg.DefaultRegion); errors.Is(err, storage.ErrNotFound) {
		// 回退区域先以无边界形式占位，几何边界由目录维护流程补齐。
		if err := store.SaveRegion(&domain.Region{
			Audit: domain.NewAudit(seedActor),
			Name:  cfg.DefaultRegion,
		}); err != nil {
			return fmt.Errorf("seed region %q: %w", cfg.DefaultRegion, err)
		}
	}

	for _, username := range []string{cfg.ActingUsername, cfg.FallbackAssignee} {
		if username == "" {
			continue
		}
		if _, err := store.GetUserByUsername(username); errors.Is(err, storage.ErrNotFound) {
			if err := store.SaveUser(&domain.User{
				Audit:    domain.NewAudit(seedActor),
				Username: username,
				Active:   true,
			}); err != nil {
				return fmt.Errorf("seed user %q: %w", username, err)
			}
		}
	}

	return nil
}
