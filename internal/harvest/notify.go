package harvest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/dbca-wa/prs-harvester/internal/config"
	"github.com/dbca-wa/prs-harvester/internal/domain"
)

// SMTPNotifier 基于 SMTP 的通知实现。所有发送失败只返回给调用方
// 记日志，不会让采集流程失败。
type SMTPNotifier struct {
	cfg        config.NotifyConfig
	recipients []string
	log        *zap.Logger
}

// NewSMTPNotifier 创建 SMTP 通知器。recipients 是批次汇总邮件的收件人。
func NewSMTPNotifier(cfg config.NotifyConfig, recipients []string, log *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, recipients: recipients, log: log}
}

// TaskAssigned 向受理人发送新任务提醒。
func (n *SMTPNotifier) TaskAssigned(ctx context.Context, to domain.User, referral *domain.Referral, task *domain.Task) error {
	if to.Email == "" {
		return fmt.Errorf("user %s has no email address", to.Username)
	}
	subject := fmt.Sprintf("PRS task assignment: referral ref. %s", referral.Reference)
	var b strings.Builder
	fmt.Fprintf(&b, "A new task has been assigned to you.\r\n\r\n")
	fmt.Fprintf(&b, "Referral reference: %s\r\n", referral.Reference)
	fmt.Fprintf(&b, "Address: %s\r\n", referral.Address)
	fmt.Fprintf(&b, "Description: %s\r\n", referral.Description)
	if task.DueDate != nil {
		fmt.Fprintf(&b, "Due date: %s\r\n", task.DueDate.Format("2 January 2006"))
	}
	fmt.Fprintf(&b, "\r\nThis is an automated message, please do not reply.\r\n")
	return n.send([]string{to.Email}, subject, b.String())
}

// HarvestSummary 向运维收件人发送一轮采集的动作汇总。
// 没有配置收件人或没有任何动作时静默跳过。
func (n *SMTPNotifier) HarvestSummary(ctx context.Context, actions []string) error {
	if len(n.recipients) == 0 || len(actions) == 0 {
		return nil
	}
	subject := fmt.Sprintf("PRS harvest summary %s", time.Now().Format("2006-01-02 15:04"))
	var b strings.Builder
	fmt.Fprintf(&b, "This is an automated message to summarise harvest actions:\r\n\r\n")
	for _, action := range actions {
		fmt.Fprintf(&b, "%s\r\n", action)
	}
	return n.send(n.recipients, subject, b.String())
}

// send 组装 RFC 5322 报文并通过 SMTP 提交。
func (n *SMTPNotifier) send(to []string, subject, body string) error {
	if n.cfg.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&msg, "\r\n%s", body)

	var auth sasl.Client
	if n.cfg.Username != "" {
		auth = sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)
	}
	if err := smtp.SendMail(n.cfg.Host, auth, n.cfg.From, to, strings.NewReader(msg.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	n.log.Info("notification sent",
		zap.Strings("to", to), zap.String("subject", subject))
	return nil
}
