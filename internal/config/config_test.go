package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "INBOX", cfg.Mailbox.Folder)
	assert.Equal(t, []string{"referrals@planning.wa.gov.au"}, cfg.Mailbox.AllowedSenders)
	assert.Equal(t, 50, cfg.Mailbox.FetchBatch)
	assert.Equal(t, 30*time.Second, cfg.Mailbox.Timeout)
	assert.Equal(t, "Swan", cfg.Harvest.DefaultRegion)
	assert.Equal(t, "admin", cfg.Harvest.FallbackAssignee)
	assert.Equal(t, "Australia/Perth", cfg.Harvest.Timezone)
	assert.Equal(t, "*/20 * * * *", cfg.Harvest.Schedule)
	assert.False(t, cfg.Harvest.PurgeEmail)
	assert.Equal(t, "harvester", cfg.Harvest.ActingUsername)
	assert.Contains(t, cfg.Harvest.BlockedAttachments, "ATT00001.gif")
	assert.Equal(t, "PRS-Alerts@dbca.wa.gov.au", cfg.Notify.From)
	assert.Equal(t, 2.0, cfg.Slip.RateRPS)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PRS_MAILBOX_HOST", "imap.example.com:993")
	t.Setenv("PRS_MAILBOX_ALLOWED_SENDERS", "A@example.com, b@example.com")
	t.Setenv("PRS_HARVEST_DEFAULT_REGION", "South West")
	t.Setenv("PRS_HARVEST_PURGE_EMAIL", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "imap.example.com:993", cfg.Mailbox.Host)
	// 地址统一转小写。
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Mailbox.AllowedSenders)
	assert.Equal(t, "South West", cfg.Harvest.DefaultRegion)
	assert.True(t, cfg.Harvest.PurgeEmail)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("PRS_HARVEST_TIMEZONE", "Not/AZone")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
}

func TestConfig_Location(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Australia/Perth", cfg.Location().String())
}
