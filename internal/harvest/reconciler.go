package harvest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dbca-wa/prs-harvester/internal/config"
	"github.com/dbca-wa/prs-harvester/internal/domain"
	"github.com/dbca-wa/prs-harvester/internal/monitoring"
	"github.com/dbca-wa/prs-harvester/internal/regions"
	"github.com/dbca-wa/prs-harvester/internal/slip"
	"github.com/dbca-wa/prs-harvester/internal/storage"
)

const (
	// overduePrefix 逾期提醒邮件的主题前缀（允许带 "Re:"）。
	overduePrefix = "WAPC EOVERDUE REFERRAL NOTICE"
	// decisionLetterMarker 决定函邮件的主题标记。
	decisionLetterMarker = "decision letter"
	// xmlAttachmentPrefix 标准转介必须携带的 XML 附件名前缀。
	xmlAttachmentPrefix = "application.xml"

	// DefaultAgencySlug 新转介的固定受理机构。
	DefaultAgencySlug = "dbca"
	// ReferringOrgName 新转介的固定来文组织。
	ReferringOrgName = "Western Australian Planning Commission"
	// AssessTaskType 新转介默认任务的类型名称。
	AssessTaskType = "Assess a referral"

	// dueDateFormat WAPC 决定期限字段的固定日期格式（日/月/年）。
	dueDateFormat = "2/01/2006"

	// recordNameLimit 记录名称列宽（varchar(512)），超长主题截断。
	recordNameLimit = 512

	triggerBushForever  = "Bush Forever site"
	triggerRegionalPark = "Regional Park"
)

// supplementPhrases 补充材料邮件的主题关键语。
var supplementPhrases = []string{"additional documents", "additional information"}

var decisionRefPattern = regexp.MustCompile(`(?i)application\s+(\S+)`)

// ParcelQuerier 地籍查询的窄接口，便于测试替换。
type ParcelQuerier interface {
	QueryParcel(ctx context.Context, pin string) ([]slip.Feature, error)
}

// Notifier 通知侧信道。所有实现都必须吞掉自身失败：
// 通知失败绝不能使采集失败。
type Notifier interface {
	TaskAssigned(ctx context.Context, to domain.User, referral *domain.Referral, task *domain.Task) error
	HarvestSummary(ctx context.Context, actions []string) error
}

// Options 单次对账调用的选项。
type Options struct {
	// ActorID 写库时使用的操作者身份，显式传入。
	ActorID string
	// AssigneeUsername 显式指定默认任务受理人；为空时按
	// 区域默认受理人、再按全局兜底用户解析。
	AssigneeUsername string
	// CreateLocations 为 false 时跳过地籍查询与地块创建（测试用）。
	CreateLocations bool
}

// Reconciler 对账决策核心：按优先级匹配互斥场景，首个命中者执行并短路。
type Reconciler struct {
	store    storage.Store
	resolver *regions.Resolver
	parcels  ParcelQuerier
	notifier Notifier
	metrics  *monitoring.Metrics
	cfg      config.HarvestConfig
	loc      *time.Location
	log      *zap.Logger

	scenarios []scenario
}

// scenario 一个 (谓词, 处理器) 对。match 只读判断，run 执行副作用。
type scenario struct {
	name  string
	match func(it *item) bool
	run   func(ctx context.Context, it *item) error
}

// item 对账过程中单封邮件的工作上下文。
type item struct {
	msg  *domain.HarvestedMessage
	atts []domain.HarvestedAttachment
	opts Options
}

// NewReconciler 创建对账器。parcels、notifier 允许为 nil（分别表示
// 不做地籍查询、不发通知）。
func NewReconciler(store storage.Store, resolver *regions.Resolver, parcels ParcelQuerier,
	notifier Notifier, metrics *monitoring.Metrics, cfg config.HarvestConfig,
	loc *time.Location, log *zap.Logger) *Reconciler {
	r := &Reconciler{
		store:    store,
		resolver: resolver,
		parcels:  parcels,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		loc:      loc,
		log:      log,
	}
	r.scenarios = []scenario{
		{name: "no attachments", match: r.matchNoAttachments, run: r.runNoAttachments},
		{name: "overdue notice", match: r.matchOverdue, run: r.runOverdue},
		{name: "supplement", match: r.matchSupplement, run: r.runSupplement},
		{name: "decision letter", match: r.matchDecisionLetter, run: r.runDecisionLetter},
		{name: "standard referral", match: func(*item) bool { return true }, run: r.runStandardReferral},
	}
	return r
}

// Process 对一封已入库未处理的邮件执行对账。返回本次调用追加的
// 动作记录。解析与查找失败都就地降级并写入动作轨迹，不向外传播
// 导致批次中断的错误；返回非 nil 错误仅代表存储层故障。
func (r *Reconciler) Process(ctx context.Context, msg *domain.HarvestedMessage, opts Options) ([]string, error) {
	atts, err := r.store.ListAttachments(msg.ID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	it := &item{msg: msg, atts: atts, opts: opts}
	before := len(msg.ActionLog)

	for _, sc := range r.scenarios {
		if !sc.match(it) {
			continue
		}
		r.log.Debug("scenario matched",
			zap.String("scenario", sc.name), zap.String("uid", msg.EmailUID))
		if err := sc.run(ctx, it); err != nil {
			return msg.ActionLog[before:], err
		}
		break
	}
	return msg.ActionLog[before:], nil
}

// save 把对账结果写回存储。
func (r *Reconciler) save(it *item) error {
	it.msg.ModifierID = it.opts.ActorID
	return r.store.UpdateHarvestedMessage(it.msg)
}

// ========== 场景 1：无附件 ==========

func (r *Reconciler) matchNoAttachments(it *item) bool {
	return len(it.atts) == 0
}

func (r *Reconciler) runNoAttachments(ctx context.Context, it *item) error {
	it.msg.ActionLog.Append("Skipped harvested referral %s (no attachments)", it.msg.EmailUID)
	it.msg.Processed = true
	return r.save(it)
}

// ========== 场景 2：逾期提醒 ==========

func (r *Reconciler) matchOverdue(it *item) bool {
	subject := strings.ToLower(strings.TrimSpace(it.msg.Subject))
	subject = strings.TrimSpace(strings.TrimPrefix(subject, "re:"))
	return strings.HasPrefix(subject, strings.ToLower(overduePrefix))
}

func (r *Reconciler) runOverdue(ctx context.Context, it *item) error {
	it.msg.ActionLog.Append("Skipped overdue referral notice %s", it.msg.EmailUID)
	it.msg.Processed = true
	return r.save(it)
}

// ========== 场景 3：补充材料 ==========

func (r *Reconciler) matchSupplement(it *item) bool {
	subject := strings.ToLower(it.msg.Subject)
	for _, phrase := range supplementPhrases {
		if strings.Contains(subject, phrase) {
			return true
		}
	}
	return false
}

// runSupplement 把补充材料挂到已有转介上。没有匹配的转介时只记日志、
// 保持未处理：补充材料缺了父转介没有意义，绝不据此新建转介。
func (r *Reconciler) runSupplement(ctx context.Context, it *item) error {
	fields := strings.Fields(strings.TrimSpace(it.msg.Subject))
	if len(fields) == 0 {
		it.msg.ActionLog.Append("Supplementary email %s has an empty subject, unable to match referral", it.msg.EmailUID)
		return r.save(it)
	}
	reference := fields[0]
	referral, err := r.store.GetReferralByReference(reference)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			it.msg.ActionLog.Append("Supplementary email %s: no referral matching reference %s, skipping for now", it.msg.EmailUID, reference)
			return r.save(it)
		}
		return err
	}
	it.msg.ActionLog.Append("Supplementary email %s matched existing referral %s (ref. %s)", it.msg.EmailUID, referral.ID, referral.Reference)
	if err := r.attachRecords(it, referral); err != nil {
		return err
	}
	it.msg.ReferralID = &referral.ID
	it.msg.Processed = true
	return r.save(it)
}

// ========== 场景 4：决定函 ==========

func (r *Reconciler) matchDecisionLetter(it *item) bool {
	return strings.Contains(strings.ToLower(it.msg.Subject), decisionLetterMarker)
}

// runDecisionLetter 决定函只挂接已有转介。提不出参考号或没有匹配的
// 转介时作为死胡同记录并标记已处理，不算错误。
func (r *Reconciler) runDecisionLetter(ctx context.Context, it *item) error {
	m := decisionRefPattern.FindStringSubmatch(it.msg.Subject)
	if m == nil {
		it.msg.ActionLog.Append("Decision letter %s: no reference found in subject", it.msg.EmailUID)
		it.msg.Processed = true
		return r.save(it)
	}
	reference := m[1]
	referral, err := r.store.GetReferralByReference(reference)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			it.msg.ActionLog.Append("Decision letter %s: no referral matching reference %s", it.msg.EmailUID, reference)
			it.msg.Processed = true
			return r.save(it)
		}
		return err
	}
	it.msg.ActionLog.Append("Decision letter %s matched existing referral %s (ref. %s)", it.msg.EmailUID, referral.ID, referral.Reference)
	if err := r.attachRecords(it, referral); err != nil {
		return err
	}
	it.msg.ReferralID = &referral.ID
	it.msg.Processed = true
	return r.save(it)
}

// ========== 场景 5：标准转介 ==========

func (r *Reconciler) runStandardReferral(ctx context.Context, it *item) error {
	xmlAtt := findApplicationXML(it.atts)
	if xmlAtt == nil {
		it.msg.ActionLog.Append("Skipped harvested referral %s (no XML attachment)", it.msg.EmailUID)
		it.msg.Processed = true
		return r.save(it)
	}

	app, err := ParseApplicationXML(xmlAtt.Payload)
	if err != nil {
		it.msg.ActionLog.Append("Harvested referral %s: unable to parse Application.xml (%s)", it.msg.EmailUID, err)
		it.msg.Processed = true
		return r.save(it)
	}

	referral, err := r.store.GetReferralByReference(app.ReferenceNo)
	switch {
	case err == nil:
		// 已存在同参考号的 live 转介：复用，跳过所有新建步骤。
		it.msg.ActionLog.Append("Referral ref. %s is already in the database, reusing it", referral.Reference)
	case errors.Is(err, storage.ErrNotFound):
		referral, err = r.createReferral(ctx, it, app)
		if err != nil {
			return err
		}
		if referral == nil {
			// 死胡同已在 createReferral 内记录并保存。
			return nil
		}
	default:
		return err
	}

	if err := r.attachRecords(it, referral); err != nil {
		return err
	}
	it.msg.ReferralID = &referral.ID
	it.msg.Processed = true
	return r.save(it)
}

// createReferral 执行新建转介的完整工作流：类型校验、落库、触发点、
// 地块与区域、关联检测、默认任务。
// 返回 (nil, nil) 表示遇到终结性校验失败，邮件已标记处理完毕。
func (r *Reconciler) createReferral(ctx context.Context, it *item, app *domain.ParsedApplication) (*domain.Referral, error) {
	// 申请类型必须在目录里。
	refType, err := r.store.GetReferralTypeByPrefix(app.AppType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			it.msg.ActionLog.Append("Harvested referral %s: unrecognised application type %q, skipping", it.msg.EmailUID, app.AppType)
			it.msg.Processed = true
			return nil, r.save(it)
		}
		return nil, err
	}

	org, err := r.store.GetOrganisationByName(ReferringOrgName)
	if err != nil {
		it.msg.ActionLog.Append("Harvested referral %s: referring organisation %q missing from catalog, skipping", it.msg.EmailUID, ReferringOrgName)
		it.msg.Processed = true
		return nil, r.save(it)
	}

	// 构建并落库新转介。缺失字段用空串，绝不为 null。
	referral := &domain.Referral{
		Audit:          domain.NewAudit(it.opts.ActorID),
		TypeID:         refType.ID,
		ReferringOrgID: org.ID,
		Reference:      app.ReferenceNo,
		Description:    app.Description,
		ReferralDate:   it.msg.Received,
		Address:        firstNonEmpty(app.Address, app.LocationText),
	}
	if agency, err := r.store.GetAgencyBySlug(DefaultAgencySlug); err == nil {
		referral.AgencyID = agency.ID
	}
	if app.LocalGovernment != "" {
		if lga, err := r.store.GetLocalGovernmentByName(app.LocalGovernment); err == nil {
			referral.LGAID = &lga.ID
		} else {
			it.msg.ActionLog.Append("Warning: local government %q not recognised, continuing without it", app.LocalGovernment)
		}
	}
	if err := r.store.CreateReferral(referral); err != nil {
		return nil, fmt.Errorf("create referral: %w", err)
	}
	r.metrics.ReferralsCreated.Inc()
	it.msg.ActionLog.Append("New referral created (ref. %s, type %s)", referral.Reference, refType.Name)

	// 触发点推导。
	if err := r.deriveTriggers(it, referral, app.ZoningTokens); err != nil {
		return nil, err
	}

	// 地块与区域归属。
	var chosenRegion *domain.Region
	if it.opts.CreateLocations {
		chosenRegion, err = r.buildLocations(ctx, it, referral, app)
		if err != nil {
			return nil, err
		}
	} else {
		chosenRegion, err = r.chooseRegion(it, referral, nil)
		if err != nil {
			return nil, err
		}
	}

	// 默认受理任务。
	if err := r.createAssessmentTask(ctx, it, referral, chosenRegion, app); err != nil {
		return nil, err
	}

	return referral, nil
}

// deriveTriggers 对分区/触发点 token 套用"先具体后泛化"的子串规则，
// 再退回目录的前缀匹配。完成后转介必定至少带一个触发点标签。
func (r *Reconciler) deriveTriggers(it *item, referral *domain.Referral, tokens []string) error {
	for _, token := range tokens {
		upper := strings.ToUpper(token)
		var trigger *domain.DopTrigger
		var err error
		switch {
		case strings.Contains(upper, "BUSH FOREVER SITE"):
			trigger, err = r.store.GetDopTriggerByName(triggerBushForever)
		case strings.Contains(upper, "REGIONAL PARK"):
			trigger, err = r.store.GetDopTriggerByName(triggerRegionalPark)
		default:
			trigger, err = r.store.GetDopTriggerByPrefix(token)
		}
		if err != nil {
			it.msg.ActionLog.Append("No DoP trigger matched token %q", token)
			continue
		}
		if err := r.store.AttachTrigger(referral.ID, trigger.ID); err != nil {
			return err
		}
		it.msg.ActionLog.Append("Attached DoP trigger %q (token %q)", trigger.Name, token)
	}

	n, err := r.store.CountTriggers(referral.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		sentinel, err := r.store.GetDopTriggerByName(domain.SentinelTrigger)
		if err != nil {
			it.msg.ActionLog.Append("Warning: sentinel trigger %q missing from catalog", domain.SentinelTrigger)
			return nil
		}
		if err := r.store.AttachTrigger(referral.ID, sentinel.ID); err != nil {
			return err
		}
		it.msg.ActionLog.Append("No DoP trigger matched, attached %q", sentinel.Name)
	}
	return nil
}

// buildLocations 为每条地址明细解析坐标/查询地籍、创建地块，
// 汇总候选区域后应用收束规则挂接唯一区域，并检测跨转介的地块重叠。
func (r *Reconciler) buildLocations(ctx context.Context, it *item, referral *domain.Referral, app *domain.ParsedApplication) (*domain.Region, error) {
	var candidates []domain.Region
	var created []domain.Location
	seen := map[string]bool{}

	addCandidates := func(found []domain.Region) bool {
		added := false
		for _, reg := range found {
			if !seen[reg.ID] {
				seen[reg.ID] = true
				candidates = append(candidates, reg)
			}
			added = true
		}
		return added
	}

	for _, detail := range app.AddressDetails {
		pointResolved := false
		lon, lonErr := strconv.ParseFloat(detail.Longitude, 64)
		lat, latErr := strconv.ParseFloat(detail.Latitude, 64)
		if lonErr == nil && latErr == nil {
			found, err := r.resolver.ResolveFromPoint(lon, lat)
			if err != nil {
				return nil, err
			}
			pointResolved = addCandidates(found)
		}

		if detail.PIN == "" || r.parcels == nil {
			continue
		}
		features, err := r.parcels.QueryParcel(ctx, detail.PIN)
		if err != nil {
			// 地籍服务超时/出错降级为"未取得几何"，不阻断转介创建。
			r.metrics.SlipQueries.WithLabelValues("error").Inc()
			it.msg.ActionLog.Append("Warning: cadastre lookup failed for PIN %s (%s)", detail.PIN, err)
			continue
		}
		r.metrics.SlipQueries.WithLabelValues("ok").Inc()
		for _, feat := range features {
			loc := &domain.Location{
				Audit:         domain.NewAudit(it.opts.ActorID),
				ReferralID:    referral.ID,
				AddressSuffix: detail.StreetSuffix,
				RoadName:      detail.StreetName,
				Locality:      detail.Suburb,
				Postcode:      detail.Postcode,
				LotNo:         detail.LotNo,
				Poly:          feat.Polygon,
			}
			// 门牌号防御性解析：失败就留空，绝不报错。
			if n, err := strconv.Atoi(strings.TrimSpace(detail.StreetNo)); err == nil {
				loc.AddressNo = &n
			}
			if err := r.store.CreateLocation(loc); err != nil {
				return nil, fmt.Errorf("create location: %w", err)
			}
			created = append(created, *loc)
			it.msg.ActionLog.Append("Created location for PIN %s on referral ref. %s", detail.PIN, referral.Reference)

			if !pointResolved && feat.Centroid != nil {
				found, err := r.resolver.ResolveFromPoint(feat.Centroid[0], feat.Centroid[1])
				if err != nil {
					return nil, err
				}
				addCandidates(found)
			}
		}
	}

	chosen, err := r.chooseRegion(it, referral, candidates)
	if err != nil {
		return nil, err
	}

	// 跨转介关联：新地块与其它转介的地块在空间上重叠时双向建链。
	if len(created) > 0 {
		others, err := r.store.ListLocationsWithPoly(referral.ID)
		if err != nil {
			return nil, err
		}
		linked := map[string]bool{}
		for _, mine := range created {
			for _, other := range others {
				if linked[other.ReferralID] {
					continue
				}
				if regions.PolygonsOverlap(mine.Poly, other.Poly) {
					if err := r.store.RelateReferrals(referral.ID, other.ReferralID); err != nil {
						return nil, err
					}
					linked[other.ReferralID] = true
					it.msg.ActionLog.Append("Related referral %s to %s (intersecting locations)", referral.ID, other.ReferralID)
				}
			}
		}
	}

	return chosen, nil
}

// chooseRegion 应用区域收束规则并把结果挂到转介上。
func (r *Reconciler) chooseRegion(it *item, referral *domain.Referral, candidates []domain.Region) (*domain.Region, error) {
	chosen, err := r.resolver.Choose(candidates)
	if err != nil {
		it.msg.ActionLog.Append("Warning: unable to resolve a region (%s), no region set", err)
		return nil, nil
	}
	if err := r.store.AttachRegion(referral.ID, chosen.ID); err != nil {
		return nil, err
	}
	it.msg.ActionLog.Append("Attached region %q to referral ref. %s", chosen.Name, referral.Reference)
	return chosen, nil
}

// createAssessmentTask 为新转介创建固定类型的受理任务。
// 受理人解析顺序：显式指定 → 区域默认受理人 → 全局兜底用户。
func (r *Reconciler) createAssessmentTask(ctx context.Context, it *item, referral *domain.Referral, region *domain.Region, app *domain.ParsedApplication) error {
	taskType, err := r.store.GetTaskTypeByName(AssessTaskType)
	if err != nil {
		it.msg.ActionLog.Append("Warning: task type %q missing from catalog, no task created", AssessTaskType)
		return nil
	}

	assignee := r.resolveAssignee(it, region)
	if assignee == nil {
		it.msg.ActionLog.Append("Warning: no assignee could be resolved, no task created")
		return nil
	}

	today := time.Now().In(r.loc)
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, r.loc)
	due, err := time.ParseInLocation(dueDateFormat, app.DueDate, r.loc)
	if err != nil {
		// 期限缺失或不可解析：今天 + 任务类型的目标天数。
		due = start.AddDate(0, 0, taskType.TargetDays)
	}

	task := &domain.Task{
		Audit:          domain.NewAudit(it.opts.ActorID),
		TypeID:         taskType.ID,
		ReferralID:     referral.ID,
		AssignedUserID: assignee.ID,
		Description:    referral.Description,
		State:          domain.TaskStateInProgress,
		StartDate:      &start,
		DueDate:        &due,
	}
	if err := r.store.CreateTask(task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	r.metrics.TasksCreated.Inc()
	it.msg.ActionLog.Append("Created task %q for %s, due %s", taskType.Name, assignee.Username, due.Format("2006-01-02"))

	if r.notifier != nil {
		// 通知是发后不理的副作用，失败只记日志。
		if err := r.notifier.TaskAssigned(ctx, *assignee, referral, task); err != nil {
			r.log.Warn("task assignment notification failed",
				zap.String("user", assignee.Username), zap.Error(err))
		}
	}
	return nil
}

// resolveAssignee 解析任务受理人，全部失败时返回 nil。
func (r *Reconciler) resolveAssignee(it *item, region *domain.Region) *domain.User {
	if it.opts.AssigneeUsername != "" {
		if u, err := r.store.GetUserByUsername(it.opts.AssigneeUsername); err == nil {
			return u
		}
		it.msg.ActionLog.Append("Warning: explicit assignee %q not found", it.opts.AssigneeUsername)
	}
	if region != nil {
		if u, err := r.store.GetRegionAssignee(region.ID); err == nil {
			return u
		}
	}
	if u, err := r.store.GetUserByUsername(r.cfg.FallbackAssignee); err == nil {
		return u
	}
	return nil
}

// attachRecords 把邮件正文与未被屏蔽的附件各落档为一份 Record
// （所有解析到转介的分支最后都会执行）。
func (r *Reconciler) attachRecords(it *item, referral *domain.Referral) error {
	body := &domain.Record{
		Audit:      domain.NewAudit(it.opts.ActorID),
		ReferralID: referral.ID,
		Name:       truncateName(fmt.Sprintf("Emailed referral %s", it.msg.Subject)),
		Filename:   "emailed_referral.txt",
		Blob:       []byte(it.msg.Body),
		OrderDate:  it.msg.Received,
	}
	if err := r.store.CreateRecord(body); err != nil {
		return fmt.Errorf("create body record: %w", err)
	}
	r.metrics.RecordsCreated.Inc()
	it.msg.ActionLog.Append("Created record of emailed referral on referral ref. %s", referral.Reference)

	for _, att := range it.atts {
		if r.isBlocked(att.Name) {
			it.msg.ActionLog.Append("Skipped blocked attachment %s", att.Name)
			continue
		}
		rec := &domain.Record{
			Audit:      domain.NewAudit(it.opts.ActorID),
			ReferralID: referral.ID,
			Name:       truncateName(att.Name),
			Filename:   att.Name,
			Blob:       att.Payload,
			OrderDate:  it.msg.Received,
		}
		if err := r.store.CreateRecord(rec); err != nil {
			return fmt.Errorf("create attachment record: %w", err)
		}
		r.metrics.RecordsCreated.Inc()
		if err := r.store.SetAttachmentRecord(att.ID, rec.ID); err != nil {
			return err
		}
		it.msg.ActionLog.Append("Created record of attachment %s", att.Name)
	}
	return nil
}

// truncateName 把记录名称截断到列宽以内（按 rune 计数）。
func truncateName(s string) string {
	if utf8.RuneCountInString(s) <= recordNameLimit {
		return s
	}
	return string([]rune(s)[:recordNameLimit])
}

// isBlocked 附件文件名是否在黑名单内（大小写不敏感）。
func (r *Reconciler) isBlocked(name string) bool {
	for _, blocked := range r.cfg.BlockedAttachments {
		if strings.EqualFold(name, blocked) {
			return true
		}
	}
	return false
}

// findApplicationXML 返回名称以 application.xml 开头的附件（大小写不敏感）。
func findApplicationXML(atts []domain.HarvestedAttachment) *domain.HarvestedAttachment {
	for i := range atts {
		if strings.HasPrefix(strings.ToLower(atts[i].Name), xmlAttachmentPrefix) {
			return &atts[i]
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
