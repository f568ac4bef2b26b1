package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 状态/健康检查 HTTP 端点的监听配置。
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig IMAP 收件箱的连接与过滤配置。
type MailboxConfig struct {
	Host           string        // IMAP 服务器地址（host:port，TLS）
	User           string        // 登录用户名
	Password       string        // 登录密码
	Folder         string        // 选取的邮箱目录，默认 "INBOX"
	AllowedSenders []string      // 允许采集的发件人地址白名单
	AssessorEmails []string      // 收件人（受理邮箱）白名单，To/CC 必须命中其一
	FetchBatch     int           // 单次运行最多抓取的未读邮件数
	Timeout        time.Duration // 连接/命令超时
}

// SlipConfig Landgate SLIP 地籍查询服务配置。
type SlipConfig struct {
	URL      string        // Esri REST FeatureServer URL
	Username string        // Basic 认证用户名
	Password string        // Basic 认证密码
	Timeout  time.Duration // 单次查询超时
	RateRPS  float64       // 查询限速（每秒请求数）
}

// HarvestConfig 采集/对账管线的业务配置。
type HarvestConfig struct {
	DefaultRegion      string   // 区域判定回退用的主区域名称
	FallbackAssignee   string   // 全局兜底受理人用户名
	BlockedAttachments []string // 不落档为 Record 的附件文件名黑名单
	Timezone           string   // 部署时区，默认 Australia/Perth
	SummaryRecipients  []string // 批次结束汇总邮件的收件人
	Schedule           string   // harvestd 的 cron 表达式
	PurgeEmail         bool     // 采集成功后是否标记已读并标记删除
	ActingUsername     string   // 采集器写库时使用的操作者身份
}

// NotifyConfig 外发通知邮件（SMTP）配置。
type NotifyConfig struct {
	Host     string // SMTP 服务器地址（host:port）
	Username string
	Password string
	From     string // 发件人地址
}

// LogConfig 日志系统配置。
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色输出与详细堆栈
}

// DatabaseConfig PostgreSQL 连接配置。DSN 为空时使用内存存储（开发模式）。
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig Redis 去重缓存配置。Address 为空时禁用快路径。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// Config 是系统核心配置的根结构体。
type Config struct {
	Server   ServerConfig
	Mailbox  MailboxConfig
	Slip     SlipConfig
	Harvest  HarvestConfig
	Notify   NotifyConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置。
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: PRS_，例如 PRS_MAILBOX_HOST、PRS_SLIP_URL。
func Load() (*Config, error) {
	// .env 文件是可选的，加载失败静默忽略。
	loadEnvFile()

	viper.SetEnvPrefix("prs")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mailbox.host", "")
	viper.SetDefault("mailbox.user", "")
	viper.SetDefault("mailbox.password", "")
	viper.SetDefault("mailbox.folder", "INBOX")
	viper.SetDefault("mailbox.allowed_senders", "referrals@planning.wa.gov.au")
	viper.SetDefault("mailbox.assessor_emails", "")
	viper.SetDefault("mailbox.fetch_batch", 50)
	viper.SetDefault("mailbox.timeout", "30s")
	viper.SetDefault("slip.url", "")
	viper.SetDefault("slip.username", "")
	viper.SetDefault("slip.password", "")
	viper.SetDefault("slip.timeout", "20s")
	viper.SetDefault("slip.rate_rps", 2.0)
	viper.SetDefault("harvest.default_region", "Swan")
	viper.SetDefault("harvest.fallback_assignee", "admin")
	viper.SetDefault("harvest.blocked_attachments", "ATT00001.gif,image001.jpg,image001.png")
	viper.SetDefault("harvest.timezone", "Australia/Perth")
	viper.SetDefault("harvest.summary_recipients", "")
	viper.SetDefault("harvest.schedule", "*/20 * * * *")
	viper.SetDefault("harvest.purge_email", false)
	viper.SetDefault("harvest.acting_username", "harvester")
	viper.SetDefault("notify.host", "")
	viper.SetDefault("notify.username", "")
	viper.SetDefault("notify.password", "")
	viper.SetDefault("notify.from", "PRS-Alerts@dbca.wa.gov.au")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	mailboxTimeout, err := time.ParseDuration(viper.GetString("mailbox.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.timeout: %w", err)
	}
	slipTimeout, err := time.ParseDuration(viper.GetString("slip.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid slip.timeout: %w", err)
	}
	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	// 校验时区是否可加载，避免运行到解码阶段才失败。
	tz := viper.GetString("harvest.timezone")
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid harvest.timezone %q: %w", tz, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			Host:           viper.GetString("mailbox.host"),
			User:           viper.GetString("mailbox.user"),
			Password:       viper.GetString("mailbox.password"),
			Folder:         viper.GetString("mailbox.folder"),
			AllowedSenders: parseAddresses(viper.GetString("mailbox.allowed_senders")),
			AssessorEmails: parseAddresses(viper.GetString("mailbox.assessor_emails")),
			FetchBatch:     viper.GetInt("mailbox.fetch_batch"),
			Timeout:        mailboxTimeout,
		},
		Slip: SlipConfig{
			URL:      viper.GetString("slip.url"),
			Username: viper.GetString("slip.username"),
			Password: viper.GetString("slip.password"),
			Timeout:  slipTimeout,
			RateRPS:  viper.GetFloat64("slip.rate_rps"),
		},
		Harvest: HarvestConfig{
			DefaultRegion:      viper.GetString("harvest.default_region"),
			FallbackAssignee:   viper.GetString("harvest.fallback_assignee"),
			BlockedAttachments: parseList(viper.GetString("harvest.blocked_attachments")),
			Timezone:           tz,
			SummaryRecipients:  parseAddresses(viper.GetString("harvest.summary_recipients")),
			Schedule:           viper.GetString("harvest.schedule"),
			PurgeEmail:         viper.GetBool("harvest.purge_email"),
			ActingUsername:     viper.GetString("harvest.acting_username"),
		},
		Notify: NotifyConfig{
			Host:     viper.GetString("notify.host"),
			Username: viper.GetString("notify.username"),
			Password: viper.GetString("notify.password"),
			From:     viper.GetString("notify.from"),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// Location 返回已校验过的部署时区。
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Harvest.Timezone)
	if err != nil {
		// Load 阶段已校验过，此处不应失败。
		return time.UTC
	}
	return loc
}

// parseAddresses 将逗号分隔的邮件地址解析为小写地址切片。
func parseAddresses(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为去除空白的切片。
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载当前目录或父目录的 .env 文件。
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
