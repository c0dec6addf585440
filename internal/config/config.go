package config

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSeparator   = " | "
	DefaultCommand     = "topic"
	DefaultDSN         = "file:data/sqlite.db?mode=rwc&_journal_mode=WAL&_fk=1"
	DefaultPendingTTL  = 600
	DefaultSyncTimeout = 10
	DefaultPurgeCron   = "@every 1m"
)

type Sock5Proxy struct {
	Host   string `yaml:"Host"`
	Port   int32  `yaml:"Port"`
	Enable bool   `yaml:"Enable"`
}

type TelegramApp struct {
	ApiId    int32  `yaml:"ApiId"`
	ApiHash  string `yaml:"ApiHash"`
	BotToken string `yaml:"BotToken"` // 为空时以用户账号登录（无内联按钮）
}

type Database struct {
	DSN string `yaml:"DSN"` // sqlite3 连接串，必须包含 _fk=1
}

type Topic struct {
	Enabled             bool   `yaml:"Enabled"`
	Command             string `yaml:"Command"`             // 命令名，不含斜杠
	Separator           string `yaml:"Separator"`           // 主题与子主题之间的分隔符
	RequireConfirmation bool   `yaml:"RequireConfirmation"` // 带文本的命令是否先预览再确认
	PendingTTL          int    `yaml:"PendingTTL"`          // 待确认操作的有效期（秒）
	SyncTimeout         int    `yaml:"SyncTimeout"`         // 修改群标题的超时时间（秒）
	ReconcileCron       string `yaml:"ReconcileCron"`       // 标题巡检 cron 表达式，为空则不巡检
	PurgeCron           string `yaml:"PurgeCron"`           // 过期待确认操作清理 cron 表达式
}

type LLM struct {
	Enable    bool   `yaml:"Enable"`
	BaseURL   string `yaml:"BaseURL"` // 兼容 OpenAI API 的端点
	APIKey    string `yaml:"APIKey"`
	Model     string `yaml:"Model"`
	MaxTokens int    `yaml:"MaxTokens"` // 模型上下文窗口大小
	MaxLength int    `yaml:"MaxLength"` // 建议子主题的最大字符数
}

type Log struct {
	Dir        string `yaml:"Dir"`
	Level      string `yaml:"Level"` // 文件日志级别：debug/info/warn/error
	MaxSize    int    `yaml:"MaxSize"`
	MaxBackups int    `yaml:"MaxBackups"`
	MaxAge     int    `yaml:"MaxAge"`
}

type Config struct {
	Log         Log         `yaml:"Log"`
	Sock5Proxy  Sock5Proxy  `yaml:"Sock5Proxy"`
	TelegramApp TelegramApp `yaml:"TelegramApp"`
	Database    Database    `yaml:"Database"`
	Topic       Topic       `yaml:"Topic"`
	LLM         LLM         `yaml:"LLM"`
}

// Default 返回填充了默认值的配置
func Default() Config {
	return Config{
		Log:      Log{Dir: "logs", Level: "info"},
		Database: Database{DSN: DefaultDSN},
		Topic: Topic{
			Enabled:             true,
			Command:             DefaultCommand,
			Separator:           DefaultSeparator,
			RequireConfirmation: true,
			PendingTTL:          DefaultPendingTTL,
			SyncTimeout:         DefaultSyncTimeout,
			PurgeCron:           DefaultPurgeCron,
		},
		LLM: LLM{MaxLength: 48},
	}
}

func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load 解析 YAML 配置，未出现的字段保留默认值
func Load(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	// 验证配置
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	// 验证 TelegramApp
	if c.TelegramApp.ApiId == 0 {
		return fmt.Errorf("TelegramApp.ApiId 不能为空")
	}
	if c.TelegramApp.ApiHash == "" {
		return fmt.Errorf("TelegramApp.ApiHash 不能为空")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("Database.DSN 不能为空")
	}

	// 验证 Topic
	if c.Topic.Command == "" {
		return fmt.Errorf("Topic.Command 不能为空")
	}
	if c.Topic.Separator == "" {
		return fmt.Errorf("Topic.Separator 不能为空")
	}
	if c.Topic.PendingTTL <= 0 {
		return fmt.Errorf("Topic.PendingTTL 必须大于 0")
	}
	if c.Topic.SyncTimeout <= 0 {
		return fmt.Errorf("Topic.SyncTimeout 必须大于 0")
	}
	if c.Topic.PurgeCron == "" {
		return fmt.Errorf("Topic.PurgeCron 不能为空")
	}
	if _, err := cron.ParseStandard(c.Topic.PurgeCron); err != nil {
		return fmt.Errorf("Topic.PurgeCron 无效: %w", err)
	}
	if c.Topic.ReconcileCron != "" {
		if _, err := cron.ParseStandard(c.Topic.ReconcileCron); err != nil {
			return fmt.Errorf("Topic.ReconcileCron 无效: %w", err)
		}
	}

	// 验证 LLM（仅启用时）
	if c.LLM.Enable {
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM.APIKey 不能为空")
		}
		if c.LLM.BaseURL == "" {
			return fmt.Errorf("LLM.BaseURL 不能为空")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("LLM.Model 不能为空")
		}
		if c.LLM.MaxTokens <= 0 {
			return fmt.Errorf("LLM.MaxTokens 必须大于 0")
		}
		if c.LLM.MaxLength <= 0 {
			return fmt.Errorf("LLM.MaxLength 必须大于 0")
		}
	}

	return nil
}
