package harvest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dbca-wa/prs-harvester/internal/config"
	"github.com/dbca-wa/prs-harvester/internal/domain"
	"github.com/dbca-wa/prs-harvester/internal/regions"
	"github.com/dbca-wa/prs-harvester/internal/slip"
	"github.com/dbca-wa/prs-harvester/internal/storage/memory"
)

// fakeParcels 可编程的地籍查询替身。
type fakeParcels struct {
	features []slip.Feature
	err      error
	pins     []string
}

func (f *fakeParcels) QueryParcel(ctx context.Context, pin string) ([]slip.Feature, error) {
	f.pins = append(f.pins, pin)
	if f.err != nil {
		return nil, f.err
	}
	return f.features, nil
}

func testHarvestConfig() config.HarvestConfig {
	return config.HarvestConfig{
		DefaultRegion:      "Swan",
		FallbackAssignee:   "admin",
		BlockedAttachments: []string{"image001.jpg"},
		Timezone:           "Australia/Perth",
		ActingUsername:     "harvester",
	}
}

// swanSquare 覆盖测试坐标 (116, -32) 的矩形边界。
var swanSquare = orb.Polygon{orb.Ring{
	{115, -33}, {117, -33}, {117, -31}, {115, -31}, {115, -33},
}}

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, EnsureDefaults(store, testHarvestConfig()))

	swan, err := store.GetRegionByName("Swan")
	require.NoError(t, err)
	swan.Geometry = orb.MultiPolygon{swanSquare}
	require.NoError(t, store.SaveRegion(swan))

	require.NoError(t, store.SaveReferralType(&domain.ReferralType{
		Audit: domain.NewAudit("test"),
		Name:  "Subdivision",
	}))

	assessor := &domain.User{
		Audit:    domain.NewAudit("test"),
		Username: "swan.assessor",
		Email:    "swan.assessor@dbca.wa.gov.au",
		Active:   true,
	}
	require.NoError(t, store.SaveUser(assessor))
	require.NoError(t, store.SaveRegionAssignee(&domain.RegionAssignee{
		RegionID: swan.ID,
		UserID:   assessor.ID,
	}))
	return store
}

func newTestReconciler(t *testing.T, store *memory.Store, parcels ParcelQuerier) *Reconciler {
	t.Helper()
	loc, err := time.LoadLocation("Australia/Perth")
	require.NoError(t, err)
	resolver := regions.NewResolver(store, "Swan", zap.NewNop())
	return NewReconciler(store, resolver, parcels, nil, metricsForTest(), testHarvestConfig(), loc, zap.NewNop())
}

func storeMessage(t *testing.T, store *memory.Store, uid, subject string, atts map[string][]byte) *domain.HarvestedMessage {
	t.Helper()
	msg := &domain.HarvestedMessage{
		Audit:     domain.NewAudit("test"),
		EmailUID:  uid,
		Received:  time.Date(2016, 9, 15, 10, 30, 0, 0, time.UTC),
		FromEmail: "referrals@planning.wa.gov.au",
		ToEmail:   "assessor@dbca.wa.gov.au",
		Subject:   subject,
		Body:      "Please find the referral attached.",
	}
	created, err := store.SaveHarvestedMessage(msg)
	require.NoError(t, err)
	require.True(t, created)
	for name, payload := range atts {
		require.NoError(t, store.SaveAttachment(&domain.HarvestedAttachment{
			Audit:              domain.NewAudit("test"),
			HarvestedMessageID: msg.ID,
			Name:               name,
			Payload:            payload,
		}))
	}
	return msg
}

func applicationXML(ref, appType, zone, dueDate, detail string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<APPLICATION>
  <WAPC_APPLICATION_NO>%s</WAPC_APPLICATION_NO>
  <APP_TYPE>%s</APP_TYPE>
  <DEVELOPMENT_DESCRIPTION>Proposed 12 lot subdivision</DEVELOPMENT_DESCRIPTION>
  <ADDRESS>10 Test Road ARMADALE WA 6112</ADDRESS>
  <LOCATION>Lot 9 on Plan 12345</LOCATION>
  <MRS_ZONE>%s</MRS_ZONE>
  <LOCAL_GOVERNMENT>City of Armadale</LOCAL_GOVERNMENT>
  <WAPC_DECISION_DUE_DATE>%s</WAPC_DECISION_DUE_DATE>
  <ADDRESS_DETAIL>%s</ADDRESS_DETAIL>
</APPLICATION>`, ref, appType, zone, dueDate, detail))
}

const swanAddressDetail = `
    <DOP_ADDRESS_TYPE>
      <STREET_NO>10</STREET_NO>
      <STREET_NAME>Test Road</STREET_NAME>
      <SUBURB>ARMADALE</SUBURB>
      <POSTCODE>6112</POSTCODE>
      <LOT_NO>9</LOT_NO>
      <LONGITUDE>116.0</LONGITUDE>
      <LATITUDE>-32.0</LATITUDE>
      <PIN>1234567</PIN>
    </DOP_ADDRESS_TYPE>`

func process(t *testing.T, r *Reconciler, msg *domain.HarvestedMessage) []string {
	t.Helper()
	actions, err := r.Process(context.Background(), msg, Options{
		ActorID:         "test-actor",
		CreateLocations: true,
	})
	require.NoError(t, err)
	return actions
}

func TestReconciler_NoAttachments(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)
	msg := storeMessage(t, store, "100", "Referral ABC123", nil)

	actions := process(t, r, msg)

	assert.True(t, msg.Processed)
	assert.Nil(t, msg.ReferralID)
	assert.Equal(t, 0, store.CountReferrals())
	require.Len(t, actions, 1)
	assert.Contains(t, actions[0], "no attachments")
}

func TestReconciler_OverdueNotice(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)
	msg := storeMessage(t, store, "101", "RE: WAPC eOverdue Referral Notice - ABC123",
		map[string][]byte{"notice.pdf": []byte("pdf")})

	actions := process(t, r, msg)

	assert.True(t, msg.Processed)
	assert.Equal(t, 0, store.CountReferrals())
	require.Len(t, actions, 1)
	assert.Contains(t, actions[0], "overdue")
}

func TestReconciler_SupplementMatched(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)

	referral := &domain.Referral{
		Audit:     domain.NewAudit("test"),
		Reference: "ABC123",
	}
	require.NoError(t, store.CreateReferral(referral))

	msg := storeMessage(t, store, "102", "ABC123 additional documents attached",
		map[string][]byte{"extra.pdf": []byte("pdf")})
	process(t, r, msg)

	assert.True(t, msg.Processed)
	require.NotNil(t, msg.ReferralID)
	assert.Equal(t, referral.ID, *msg.ReferralID)
	// 正文记录加附件记录。
	assert.Len(t, store.ListRecords(referral.ID), 2)
}

func TestReconciler_SupplementUnmatched(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)
	msg := storeMessage(t, store, "103", "XYZ999 additional information",
		map[string][]byte{"extra.pdf": []byte("pdf")})

	actions := process(t, r, msg)

	// 父转介还没到，保持未处理等下一轮。
	assert.False(t, msg.Processed)
	assert.Nil(t, msg.ReferralID)
	require.Len(t, actions, 1)
	assert.Contains(t, actions[0], "XYZ999")
}

func TestReconciler_DecisionLetterMatched(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)

	referral := &domain.Referral{
		Audit:     domain.NewAudit("test"),
		Reference: "ABC123",
	}
	require.NoError(t, store.CreateReferral(referral))

	msg := storeMessage(t, store, "104", "Decision letter for application ABC123",
		map[string][]byte{"decision.pdf": []byte("pdf")})
	process(t, r, msg)

	assert.True(t, msg.Processed)
	require.NotNil(t, msg.ReferralID)
	assert.Equal(t, referral.ID, *msg.ReferralID)
	assert.Len(t, store.ListRecords(referral.ID), 2)
}

func TestReconciler_DecisionLetterNoReference(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)
	msg := storeMessage(t, store, "105", "Decision letter enclosed",
		map[string][]byte{"decision.pdf": []byte("pdf")})

	process(t, r, msg)

	// 死胡同：标记已处理，不再重试。
	assert.True(t, msg.Processed)
	assert.Nil(t, msg.ReferralID)
}

func TestReconciler_DecisionLetterUnmatchedReference(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)
	msg := storeMessage(t, store, "106", "Decision letter for application NOPE42",
		map[string][]byte{"decision.pdf": []byte("pdf")})

	process(t, r, msg)

	assert.True(t, msg.Processed)
	assert.Nil(t, msg.ReferralID)
	assert.Equal(t, 0, store.CountReferrals())
}

func TestReconciler_StandardNoXMLAttachment(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)
	msg := storeMessage(t, store, "107", "Referral ABC123",
		map[string][]byte{"plan.pdf": []byte("pdf")})

	actions := process(t, r, msg)

	assert.True(t, msg.Processed)
	assert.Equal(t, 0, store.CountReferrals())
	require.Len(t, actions, 1)
	assert.Contains(t, actions[0], "no XML attachment")
}

func TestReconciler_StandardUnparsableXML(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)
	msg := storeMessage(t, store, "108", "Referral ABC123",
		map[string][]byte{"Application.xml": []byte("this is not xml")})

	process(t, r, msg)

	assert.True(t, msg.Processed)
	assert.Equal(t, 0, store.CountReferrals())
}

func TestReconciler_NewReferral(t *testing.T) {
	store := newTestStore(t)
	parcels := &fakeParcels{features: []slip.Feature{{Polygon: swanSquare}}}
	r := newTestReconciler(t, store, parcels)

	xml := applicationXML("ABC123", "Subdivision", "Bush Forever Site 342; Urban", "31/10/2016", swanAddressDetail)
	msg := storeMessage(t, store, "109", "Referral ABC123", map[string][]byte{
		"Application.xml": xml,
		"plan.pdf":        []byte("pdf"),
		"image001.jpg":    []byte("logo"),
	})
	process(t, r, msg)

	assert.True(t, msg.Processed)
	require.NotNil(t, msg.ReferralID)

	referral, err := store.GetReferralByReference("ABC123")
	require.NoError(t, err)
	assert.Equal(t, "Proposed 12 lot subdivision", referral.Description)
	assert.Equal(t, "10 Test Road ARMADALE WA 6112", referral.Address)
	assert.Equal(t, msg.Received, referral.ReferralDate)

	// 区域归属：坐标落在 Swan 的边界内。
	swan, err := store.GetRegionByName("Swan")
	require.NoError(t, err)
	assert.Equal(t, []string{swan.ID}, store.ListReferralRegionIDs(referral.ID))

	// 触发点：token 含 "Bush Forever Site" 命中具体规则。
	bush, err := store.GetDopTriggerByName("Bush Forever site")
	require.NoError(t, err)
	assert.Contains(t, store.ListReferralTriggerIDs(referral.ID), bush.ID)

	// 任务：Swan 的默认受理人，期限取自 XML。
	tasks := store.ListTasks(referral.ID)
	require.Len(t, tasks, 1)
	assessor, err := store.GetUserByUsername("swan.assessor")
	require.NoError(t, err)
	assert.Equal(t, assessor.ID, tasks[0].AssignedUserID)
	assert.Equal(t, domain.TaskStateInProgress, tasks[0].State)
	require.NotNil(t, tasks[0].DueDate)
	assert.Equal(t, 31, tasks[0].DueDate.Day())
	assert.Equal(t, time.October, tasks[0].DueDate.Month())

	// 记录：正文 + Application.xml + plan.pdf，黑名单附件被跳过。
	assert.Len(t, store.ListRecords(referral.ID), 3)

	assert.Equal(t, []string{"1234567"}, parcels.pins)
}

func TestReconciler_ExistingReferralReused(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)

	existing := &domain.Referral{
		Audit:     domain.NewAudit("test"),
		Reference: "ABC123",
	}
	require.NoError(t, store.CreateReferral(existing))

	xml := applicationXML("abc123", "Subdivision", "", "", "")
	msg := storeMessage(t, store, "110", "Referral ABC123",
		map[string][]byte{"Application.xml": xml})
	actions := process(t, r, msg)

	// 参考号大小写不敏感，不新建第二宗转介。
	assert.Equal(t, 1, store.CountReferrals())
	assert.True(t, msg.Processed)
	require.NotNil(t, msg.ReferralID)
	assert.Equal(t, existing.ID, *msg.ReferralID)
	assert.Contains(t, actions[0], "already in the database")
	// 复用路径不补建任务，但第二封邮件照常落档。
	assert.Empty(t, store.ListTasks(existing.ID))
	assert.Len(t, store.ListRecords(existing.ID), 2)
}

func TestReconciler_LongSubjectRecordNameTruncated(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)

	existing := &domain.Referral{
		Audit:     domain.NewAudit("test"),
		Reference: "ABC123",
	}
	require.NoError(t, store.CreateReferral(existing))

	// 超出记录名称列宽的主题不能让落档失败，否则邮件会无限重试。
	subject := "Referral ABC123 " + strings.Repeat("x", 600)
	xml := applicationXML("ABC123", "Subdivision", "", "", "")
	msg := storeMessage(t, store, "116", subject,
		map[string][]byte{"Application.xml": xml})
	process(t, r, msg)

	assert.True(t, msg.Processed)
	var bodyName string
	for _, rec := range store.ListRecords(existing.ID) {
		if rec.Filename == "emailed_referral.txt" {
			bodyName = rec.Name
			break
		}
	}
	require.NotEmpty(t, bodyName)
	assert.Equal(t, recordNameLimit, utf8.RuneCountInString(bodyName))
	assert.True(t, strings.HasPrefix(bodyName, "Emailed referral Referral ABC123"))
}

func TestReconciler_UnknownApplicationType(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)

	xml := applicationXML("ABC123", "Mystery", "", "", "")
	msg := storeMessage(t, store, "111", "Referral ABC123",
		map[string][]byte{"Application.xml": xml})
	actions := process(t, r, msg)

	assert.True(t, msg.Processed)
	assert.Nil(t, msg.ReferralID)
	assert.Equal(t, 0, store.CountReferrals())
	assert.Contains(t, actions[0], "unrecognised application type")
}

func TestReconciler_SentinelTriggerWhenNothingMatches(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)

	xml := applicationXML("DEF456", "Subdivision", "Urban Deferred", "", "")
	msg := storeMessage(t, store, "112", "Referral DEF456",
		map[string][]byte{"Application.xml": xml})
	actions := process(t, r, msg)

	referral, err := store.GetReferralByReference("DEF456")
	require.NoError(t, err)
	sentinel, err := store.GetDopTriggerByName(domain.SentinelTrigger)
	require.NoError(t, err)
	// 转介永远不会零触发点。
	assert.Equal(t, []string{sentinel.ID}, store.ListReferralTriggerIDs(referral.ID))
	// 每个未命中的 token 也留下一条动作记录。
	assert.Contains(t, joinActions(actions), `No DoP trigger matched token "Urban Deferred"`)
}

func TestReconciler_OverlappingLocationsRelated(t *testing.T) {
	store := newTestStore(t)
	parcels := &fakeParcels{features: []slip.Feature{{Polygon: orb.Polygon{orb.Ring{
		{115.9, -32.1}, {116.1, -32.1}, {116.1, -31.9}, {115.9, -31.9}, {115.9, -32.1},
	}}}}}
	r := newTestReconciler(t, store, parcels)

	neighbour := &domain.Referral{
		Audit:     domain.NewAudit("test"),
		Reference: "OLD001",
	}
	require.NoError(t, store.CreateReferral(neighbour))
	require.NoError(t, store.CreateLocation(&domain.Location{
		Audit:      domain.NewAudit("test"),
		ReferralID: neighbour.ID,
		Poly: orb.Polygon{orb.Ring{
			{116.0, -32.0}, {116.2, -32.0}, {116.2, -31.8}, {116.0, -31.8}, {116.0, -32.0},
		}},
	}))

	xml := applicationXML("NEW002", "Subdivision", "", "", swanAddressDetail)
	msg := storeMessage(t, store, "113", "Referral NEW002",
		map[string][]byte{"Application.xml": xml})
	process(t, r, msg)

	created, err := store.GetReferralByReference("NEW002")
	require.NoError(t, err)
	related, err := store.ListRelatedReferralIDs(created.ID)
	require.NoError(t, err)
	assert.Contains(t, related, neighbour.ID)
	// 关联是双向的。
	back, err := store.ListRelatedReferralIDs(neighbour.ID)
	require.NoError(t, err)
	assert.Contains(t, back, created.ID)
}

func TestReconciler_DueDateFallback(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, nil)

	taskType, err := store.GetTaskTypeByName(AssessTaskType)
	require.NoError(t, err)

	xml := applicationXML("GHI789", "Subdivision", "", "not a date", "")
	msg := storeMessage(t, store, "114", "Referral GHI789",
		map[string][]byte{"Application.xml": xml})
	process(t, r, msg)

	referral, err := store.GetReferralByReference("GHI789")
	require.NoError(t, err)
	tasks := store.ListTasks(referral.ID)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].StartDate)
	require.NotNil(t, tasks[0].DueDate)
	expected := tasks[0].StartDate.AddDate(0, 0, taskType.TargetDays)
	assert.Equal(t, expected, *tasks[0].DueDate)
}

func TestReconciler_ParcelFailureDoesNotBlockReferral(t *testing.T) {
	store := newTestStore(t)
	parcels := &fakeParcels{err: fmt.Errorf("service unavailable")}
	r := newTestReconciler(t, store, parcels)

	xml := applicationXML("JKL012", "Subdivision", "", "", swanAddressDetail)
	msg := storeMessage(t, store, "115", "Referral JKL012",
		map[string][]byte{"Application.xml": xml})
	actions := process(t, r, msg)

	// 地籍服务故障降级：转介照建，坐标路径仍给出区域。
	assert.True(t, msg.Processed)
	referral, err := store.GetReferralByReference("JKL012")
	require.NoError(t, err)
	swan, err := store.GetRegionByName("Swan")
	require.NoError(t, err)
	assert.Equal(t, []string{swan.ID}, store.ListReferralRegionIDs(referral.ID))
	assert.Contains(t, joinActions(actions), "cadastre lookup failed")
}

func joinActions(actions []string) string {
	out := ""
	for _, a := range actions {
		out += a + "\n"
	}
	return out
}
