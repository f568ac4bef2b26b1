// Package regions 解决坐标/地籍几何到行政区域的归属判定。
package regions

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"

	"github.com/dbca-wa/prs-harvester/internal/domain"
	"github.com/dbca-wa/prs-harvester/internal/storage"
)

// Resolver 区域判定器。
type Resolver struct {
	store         storage.CatalogRepository
	defaultRegion string
	log           *zap.Logger
}

// NewResolver 创建区域判定器。defaultRegion 是归属模糊时回退的主区域名称。
func NewResolver(store storage.CatalogRepository, defaultRegion string, log *zap.Logger) *Resolver {
	return &Resolver{store: store, defaultRegion: defaultRegion, log: log}
}

// ResolveFromPoint 返回包含该点的全部区域。没有边界的区域直接跳过。
// 结果可能为空，也可能多于一个。
func (r *Resolver) ResolveFromPoint(lon, lat float64) ([]domain.Region, error) {
	all, err := r.store.ListRegions()
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	pt := orb.Point{lon, lat}
	var matches []domain.Region
	for _, region := range all {
		if !region.HasGeometry() {
			continue
		}
		if planar.MultiPolygonContains(region.Geometry, pt) {
			matches = append(matches, region)
		}
	}
	return matches, nil
}

// Choose 应用归属判定的收束规则：恰好一个候选时直接采用；
// 零个或多个候选时一律回退到配置的主区域。多候选时丢弃其余候选
// 是此处刻意保守的既有业务规则，转介与区域虽然建模为多对多，
// 采集管线始终只挂一个区域。
func (r *Resolver) Choose(candidates []domain.Region) (*domain.Region, error) {
	if len(candidates) == 1 {
		c := candidates[0]
		return &c, nil
	}
	if len(candidates) > 1 {
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name
		}
		r.log.Warn("ambiguous region intersection, falling back to default",
			zap.Strings("candidates", names), zap.String("default", r.defaultRegion))
	}
	region, err := r.store.GetRegionByName(r.defaultRegion)
	if err != nil {
		return nil, fmt.Errorf("default region %q: %w", r.defaultRegion, err)
	}
	return region, nil
}
