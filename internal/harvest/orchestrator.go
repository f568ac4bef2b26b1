package harvest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dbca-wa/prs-harvester/internal/config"
	"github.com/dbca-wa/prs-harvester/internal/domain"
	"github.com/dbca-wa/prs-harvester/internal/mailbox"
	"github.com/dbca-wa/prs-harvester/internal/monitoring"
	"github.com/dbca-wa/prs-harvester/internal/storage"
	redisstore "github.com/dbca-wa/prs-harvester/internal/storage/redis"
)

// Orchestrator 串联采集的两个阶段：Ingest 把邮箱里的未读邮件幂等
// 入库，Reconcile 对未处理的入库邮件执行场景对账。两个阶段相互独立，
// 任一阶段失败都不影响已完成的工作。
type Orchestrator struct {
	client     *mailbox.Client
	decoder    *mailbox.Decoder
	store      storage.Store
	seen       *redisstore.SeenCache
	reconciler *Reconciler
	notifier   Notifier
	metrics    *monitoring.Metrics
	mailCfg    config.MailboxConfig
	cfg        config.HarvestConfig
	log        *zap.Logger
}

// NewOrchestrator 创建采集编排器。seen 与 notifier 允许为 nil。
func NewOrchestrator(client *mailbox.Client, decoder *mailbox.Decoder, store storage.Store,
	seen *redisstore.SeenCache, reconciler *Reconciler, notifier Notifier,
	metrics *monitoring.Metrics, mailCfg config.MailboxConfig, cfg config.HarvestConfig,
	log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		client:     client,
		decoder:    decoder,
		store:      store,
		seen:       seen,
		reconciler: reconciler,
		notifier:   notifier,
		metrics:    metrics,
		mailCfg:    mailCfg,
		cfg:        cfg,
		log:        log,
	}
}

// Ingest 执行一轮邮箱采集：按发件人白名单搜索未读邮件、抓取、解码、
// 幂等入库。单封邮件的失败只记日志并跳过，不中断批次。返回新入库的
// 邮件数。
func (o *Orchestrator) Ingest(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		o.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	if o.client == nil {
		return 0, fmt.Errorf("mailbox client not configured")
	}
	session, err := o.client.Connect()
	if err != nil {
		o.metrics.MailboxErrors.Inc()
		return 0, fmt.Errorf("connect mailbox: %w", err)
	}
	defer session.Close(o.cfg.PurgeEmail)

	ingested := 0
	for _, sender := range o.mailCfg.AllowedSenders {
		uids, err := session.SearchUnseen(sender)
		if err != nil {
			o.metrics.MailboxErrors.Inc()
			o.log.Error("mailbox search failed",
				zap.String("sender", sender), zap.Error(err))
			continue
		}
		uids = capNewest(uids, o.mailCfg.FetchBatch)
		for _, uid := range uids {
			select {
			case <-ctx.Done():
				return ingested, ctx.Err()
			default:
			}
			if o.ingestOne(ctx, session, uid) {
				ingested++
			}
		}
	}

	o.log.Info("ingest pass complete", zap.Int("ingested", ingested))
	return ingested, nil
}

// capNewest 单次运行设上限：UID 升序排列，保留队尾最新的 batch 封，
// 更老的积压留给下一轮。batch 为 0 表示不设限。
func capNewest(uids []uint32, batch int) []uint32 {
	if batch > 0 && len(uids) > batch {
		return uids[len(uids)-batch:]
	}
	return uids
}

// ingestOne 采集单封邮件，返回是否新入库。
func (o *Orchestrator) ingestOne(ctx context.Context, session *mailbox.Session, uid uint32) bool {
	uidStr := strconv.FormatUint(uint64(uid), 10)

	// Redis 快路径：见过的 UID 直接跳过，省去整封抓取。
	// 数据库的 UID 唯一约束仍是最终裁决，缓存失效只多一次抓取。
	if o.seen != nil {
		fresh, err := o.seen.IsNew(ctx, uidStr)
		if err != nil {
			o.log.Warn("seen cache unavailable, falling through", zap.Error(err))
		} else if !fresh {
			o.metrics.MessagesSkipped.WithLabelValues("seen").Inc()
			return false
		}
	}

	raw, err := session.Fetch(uid)
	if err != nil {
		o.metrics.MailboxErrors.Inc()
		o.log.Error("fetch failed", zap.String("uid", uidStr), zap.Error(err))
		o.forgetSeen(ctx, uidStr)
		return false
	}
	o.metrics.MessagesFetched.Inc()

	inbound, err := o.decoder.Decode(uidStr, raw)
	if err != nil {
		// 结构不合格的邮件是预期内的噪音，记录后跳过。
		reason := "decode"
		switch {
		case errors.Is(err, mailbox.ErrNotMultipart):
			reason = "not_multipart"
		case errors.Is(err, mailbox.ErrNoRecognizedRecipient):
			reason = "unrecognized_recipient"
		case errors.Is(err, mailbox.ErrBadDate):
			reason = "bad_date"
		}
		o.metrics.MessagesSkipped.WithLabelValues(reason).Inc()
		o.log.Warn("skipped undecodable message",
			zap.String("uid", uidStr), zap.String("reason", reason), zap.Error(err))
		return false
	}

	actor := o.actorID()
	msg := &domain.HarvestedMessage{
		Audit:     domain.NewAudit(actor),
		EmailUID:  inbound.UID,
		Received:  inbound.Received,
		FromEmail: inbound.From,
		ToEmail:   inbound.To,
		Subject:   inbound.Subject,
		Body:      inbound.Body,
	}
	created, err := o.store.SaveHarvestedMessage(msg)
	if err != nil {
		o.log.Error("persist failed", zap.String("uid", uidStr), zap.Error(err))
		o.forgetSeen(ctx, uidStr)
		return false
	}
	if !created {
		o.metrics.MessagesSkipped.WithLabelValues("duplicate").Inc()
		o.log.Debug("message already ingested", zap.String("uid", uidStr))
		o.finishMessage(session, uid, uidStr)
		return false
	}

	for _, att := range inbound.Attachments {
		a := &domain.HarvestedAttachment{
			Audit:              domain.NewAudit(actor),
			HarvestedMessageID: msg.ID,
			Name:               att.Name,
			Payload:            att.Payload,
		}
		if err := o.store.SaveAttachment(a); err != nil {
			o.log.Error("persist attachment failed",
				zap.String("uid", uidStr), zap.String("name", att.Name), zap.Error(err))
		}
	}

	o.metrics.MessagesIngested.Inc()
	o.log.Info("message ingested",
		zap.String("uid", uidStr), zap.String("subject", inbound.Subject),
		zap.Int("attachments", len(inbound.Attachments)))
	o.finishMessage(session, uid, uidStr)
	return true
}

// finishMessage 入库成功后收尾邮箱侧状态：标记已读，按配置追加
// 删除标记。失败只记日志，至多一次重复抓取由幂等入库兜住。
func (o *Orchestrator) finishMessage(session *mailbox.Session, uid uint32, uidStr string) {
	if err := session.MarkRead(uid); err != nil {
		o.log.Warn("mark read failed", zap.String("uid", uidStr), zap.Error(err))
	}
	if o.cfg.PurgeEmail {
		if err := session.MarkForDeletion(uid); err != nil {
			o.log.Warn("mark for deletion failed", zap.String("uid", uidStr), zap.Error(err))
		}
	}
}

// forgetSeen 回滚快路径标记，让这封邮件下一轮可以重试。
func (o *Orchestrator) forgetSeen(ctx context.Context, uid string) {
	if o.seen == nil {
		return
	}
	if err := o.seen.Forget(ctx, uid); err != nil {
		o.log.Warn("seen cache rollback failed", zap.String("uid", uid), zap.Error(err))
	}
}

// Reconcile 对全部未处理的入库邮件执行场景对账。assigneeUsername
// 为空时走默认的受理人解析链。返回本轮累计的动作记录。
func (o *Orchestrator) Reconcile(ctx context.Context, assigneeUsername string) ([]string, error) {
	start := time.Now()
	defer func() {
		o.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	msgs, err := o.store.ListUnprocessedMessages()
	if err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}

	opts := Options{
		ActorID:          o.actorID(),
		AssigneeUsername: assigneeUsername,
		CreateLocations:  true,
	}

	var summary []string
	for i := range msgs {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}
		msg := &msgs[i]
		actions, err := o.reconciler.Process(ctx, msg, opts)
		summary = append(summary, actions...)
		if err != nil {
			o.metrics.ReconcileErrors.Inc()
			line := fmt.Sprintf("Message %s (%s) failed to import; notify the custodian to investigate: %s",
				msg.EmailUID, msg.Subject, err)
			summary = append(summary, line)
			o.log.Error("reconcile failed",
				zap.String("uid", msg.EmailUID), zap.Error(err))
			continue
		}
		if msg.Processed {
			o.metrics.MessagesReconciled.WithLabelValues(outcomeLabel(msg)).Inc()
		}
	}

	o.log.Info("reconcile pass complete",
		zap.Int("examined", len(msgs)), zap.Int("actions", len(summary)))
	return summary, nil
}

// Run 执行一轮完整采集（先 Ingest 后 Reconcile），最后发送运维汇总。
// Ingest 的连接失败不阻止对账：信箱暂时不可达时仍要消化积压。
func (o *Orchestrator) Run(ctx context.Context) error {
	if _, err := o.Ingest(ctx); err != nil {
		o.log.Error("ingest pass failed", zap.Error(err))
	}

	summary, err := o.Reconcile(ctx, "")
	if err != nil {
		return err
	}

	if o.notifier != nil {
		if err := o.notifier.HarvestSummary(ctx, summary); err != nil {
			o.metrics.NotificationsSent.WithLabelValues("error").Inc()
			o.log.Warn("summary notification failed", zap.Error(err))
		} else if len(summary) > 0 {
			o.metrics.NotificationsSent.WithLabelValues("ok").Inc()
		}
	}
	return nil
}

// actorID 解析采集器写库身份对应的用户 ID。
func (o *Orchestrator) actorID() string {
	u, err := o.store.GetUserByUsername(o.cfg.ActingUsername)
	if err != nil {
		o.log.Warn("acting user missing, writes will carry the raw username",
			zap.String("username", o.cfg.ActingUsername))
		return o.cfg.ActingUsername
	}
	return u.ID
}

// outcomeLabel 把对账结果折算成指标标签。
func outcomeLabel(msg *domain.HarvestedMessage) string {
	if msg.ReferralID != nil {
		return "referral"
	}
	return "skipped"
}
