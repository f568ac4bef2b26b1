// Package mailbox 负责从 IMAP 收件箱抓取转介邮件并解码为标准化结构。
package mailbox

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/dbca-wa/prs-harvester/internal/config"
)

// ErrConnection IMAP 连接或认证失败。调用方应记录日志并中止本次运行，
// 不应让它中断已经入库的采集结果。
var ErrConnection = errors.New("mailbox connection failed")

// conn 是 go-imap 客户端在本包内用到的操作子集，便于测试替换。
type conn interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Expunge(ch chan uint32) error
	Logout() error
}

// Client 按配置建立 IMAP 会话。每次 Connect 返回一个作用域明确的
// Session：取得会话、执行有限的操作序列、释放，而不是在每次调用
// 里隐式登录登出。
type Client struct {
	cfg  config.MailboxConfig
	log  *zap.Logger
	dial func(addr string) (conn, error)
}

// NewClient 创建 IMAP 客户端。
func NewClient(cfg config.MailboxConfig, log *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		log: log,
		dial: func(addr string) (conn, error) {
			dialer := &net.Dialer{Timeout: cfg.Timeout}
			c, err := client.DialWithDialerTLS(dialer, addr, nil)
			if err != nil {
				return nil, err
			}
			c.Timeout = cfg.Timeout
			return c, nil
		},
	}
}

// Session 一次已认证并选中邮箱目录的 IMAP 会话。
// 状态机：Disconnected → Connected → MailboxSelected → [search/fetch] → Closed。
type Session struct {
	conn conn
	log  *zap.Logger
}

// Connect 建立认证会话并选中配置的邮箱目录。
func (c *Client) Connect() (*Session, error) {
	cn, err := c.dial(c.cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, c.cfg.Host, err)
	}
	if err := cn.Login(c.cfg.User, c.cfg.Password); err != nil {
		_ = cn.Logout()
		return nil, fmt.Errorf("%w: login: %v", ErrConnection, err)
	}
	if _, err := cn.Select(c.cfg.Folder, false); err != nil {
		_ = cn.Logout()
		return nil, fmt.Errorf("%w: select %s: %v", ErrConnection, c.cfg.Folder, err)
	}
	return &Session{conn: cn, log: c.log}, nil
}

// SearchUnseen 返回指定发件人的未读邮件 UID，升序排列。
// 无匹配时返回空切片而不是错误。
func (s *Session) SearchUnseen(fromAddress string) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Set("From", fromAddress)
	uids, err := s.conn.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen from %s: %w", fromAddress, err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// Fetch 抓取一封完整邮件的原始字节。使用 BODY.PEEK，不改变已读状态：
// 在显式 MarkRead 之前，同一封邮件必须保持可被重复投递。
func (s *Session) Fetch(uid uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	ch := make(chan *imap.Message, 1)
	if err := s.conn.UidFetch(seqset, items, ch); err != nil {
		return nil, fmt.Errorf("fetch uid %d: %w", uid, err)
	}
	msg := <-ch
	if msg == nil {
		return nil, fmt.Errorf("fetch uid %d: no message returned", uid)
	}
	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("fetch uid %d: empty body section", uid)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("fetch uid %d: read body: %w", uid, err)
	}
	return raw, nil
}

// MarkRead 给邮件打上 Seen 标记。批次收尾动作，失败只记日志。
func (s *Session) MarkRead(uid uint32) error {
	return s.storeFlag(uid, imap.SeenFlag)
}

// MarkForDeletion 给邮件打上 Deleted 标记，待 Close(expunge) 时清除。
func (s *Session) MarkForDeletion(uid uint32) error {
	return s.storeFlag(uid, imap.DeletedFlag)
}

func (s *Session) storeFlag(uid uint32, flag string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.conn.UidStore(seqset, item, []interface{}{flag}, nil); err != nil {
		return fmt.Errorf("store %s on uid %d: %w", flag, uid, err)
	}
	return nil
}

// Close 结束会话。expunge 为 true 时先清除已标记删除的邮件。
// 收尾失败不影响已经得到的采集结果，只记录日志。
func (s *Session) Close(expunge bool) {
	if expunge {
		if err := s.conn.Expunge(nil); err != nil {
			s.log.Warn("mailbox expunge failed", zap.Error(err))
		}
	}
	if err := s.conn.Logout(); err != nil {
		s.log.Warn("mailbox logout failed", zap.Error(err))
	}
}
