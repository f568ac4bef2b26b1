package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbca-wa/prs-harvester/internal/domain"
	"github.com/dbca-wa/prs-harvester/internal/storage/memory"
)

func TestEnsureDefaults(t *testing.T) {
	store := memory.NewStore()
	cfg := testHarvestConfig()

	require.NoError(t, EnsureDefaults(store, cfg))

	agency, err := store.GetAgencyBySlug(DefaultAgencySlug)
	require.NoError(t, err)
	assert.Equal(t, "Department of Biodiversity, Conservation and Attractions", agency.Name)

	_, err = store.GetOrganisationByName(ReferringOrgName)
	require.NoError(t, err)

	taskType, err := store.GetTaskTypeByName(AssessTaskType)
	require.NoError(t, err)
	assert.Equal(t, 35, taskType.TargetDays)

	for _, name := range []string{domain.SentinelTrigger, "Bush Forever site", "Regional Park"} {
		_, err := store.GetDopTriggerByName(name)
		require.NoError(t, err, name)
	}

	_, err = store.GetRegionByName("Swan")
	require.NoError(t, err)
	_, err = store.GetUserByUsername("harvester")
	require.NoError(t, err)
	_, err = store.GetUserByUsername("admin")
	require.NoError(t, err)
}

func TestEnsureDefaults_Idempotent(t *testing.T) {
	store := memory.NewStore()
	cfg := testHarvestConfig()

	require.NoError(t, EnsureDefaults(store, cfg))
	first, err := store.GetAgencyBySlug(DefaultAgencySlug)
	require.NoError(t, err)

	// 再跑一遍不会重建已有条目。
	require.NoError(t, EnsureDefaults(store, cfg))
	second, err := store.GetAgencyBySlug(DefaultAgencySlug)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
