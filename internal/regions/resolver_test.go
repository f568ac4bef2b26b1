package regions

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dbca-wa/prs-harvester/internal/domain"
	"github.com/dbca-wa/prs-harvester/internal/storage/memory"
)

func square(minX, minY, maxX, maxY float64) orb.MultiPolygon {
	return orb.MultiPolygon{orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}}
}

func seedRegions(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.SaveRegion(&domain.Region{
		Audit:    domain.NewAudit("test"),
		Name:     "Swan",
		Geometry: square(115, -33, 117, -31),
	}))
	require.NoError(t, store.SaveRegion(&domain.Region{
		Audit:    domain.NewAudit("test"),
		Name:     "South West",
		Geometry: square(114, -35, 116, -33),
	}))
	// 无边界的区域不参与点判定。
	require.NoError(t, store.SaveRegion(&domain.Region{
		Audit: domain.NewAudit("test"),
		Name:  "Warren",
	}))
	return store
}

func TestResolver_ResolveFromPoint(t *testing.T) {
	store := seedRegions(t)
	r := NewResolver(store, "Swan", zap.NewNop())

	matches, err := r.ResolveFromPoint(116, -32)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Swan", matches[0].Name)

	// 没有任何区域覆盖的点。
	matches, err = r.ResolveFromPoint(150, -20)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestResolver_ChooseSingleCandidate(t *testing.T) {
	store := seedRegions(t)
	r := NewResolver(store, "Swan", zap.NewNop())

	sw, err := store.GetRegionByName("South West")
	require.NoError(t, err)

	chosen, err := r.Choose([]domain.Region{*sw})
	require.NoError(t, err)
	assert.Equal(t, "South West", chosen.Name)
}

func TestResolver_ChooseFallsBackOnZero(t *testing.T) {
	store := seedRegions(t)
	r := NewResolver(store, "Swan", zap.NewNop())

	chosen, err := r.Choose(nil)
	require.NoError(t, err)
	assert.Equal(t, "Swan", chosen.Name)
}

func TestResolver_ChooseFallsBackOnAmbiguity(t *testing.T) {
	store := seedRegions(t)
	r := NewResolver(store, "Swan", zap.NewNop())

	swan, err := store.GetRegionByName("Swan")
	require.NoError(t, err)
	sw, err := store.GetRegionByName("South West")
	require.NoError(t, err)

	// 多个候选时一律回退到主区域，哪怕主区域自己也在候选里。
	chosen, err := r.Choose([]domain.Region{*sw, *swan})
	require.NoError(t, err)
	assert.Equal(t, "Swan", chosen.Name)
}

func TestResolver_ChooseMissingDefaultRegion(t *testing.T) {
	store := memory.NewStore()
	r := NewResolver(store, "Nowhere", zap.NewNop())

	_, err := r.Choose(nil)
	require.Error(t, err)
}
