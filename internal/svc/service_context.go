package svc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/fachebot/chat-topic-bot/internal/config"
	"github.com/fachebot/chat-topic-bot/internal/llm"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/fachebot/chat-topic-bot/internal/model"

	"golang.org/x/net/proxy"
)

type ServiceContext struct {
	Config             *config.Config
	DbDriver           *sql.Driver
	TransportProxy     *http.Transport
	TopicModel         *model.TopicModel
	PendingActionModel *model.PendingActionModel
	LLMClient          *llm.Client // 未启用 LLM 时为 nil
}

func NewServiceContext(c *config.Config) *ServiceContext {
	// 创建数据库连接并迁移表结构
	drv, err := model.Open(context.Background(), dialect.SQLite, c.Database.DSN)
	if err != nil {
		logger.Fatalf("打开数据库失败, %v", err)
	}

	// 创建SOCKS5代理
	var transportProxy *http.Transport
	if c.Sock5Proxy.Enable {
		socks5Proxy := fmt.Sprintf("%s:%d", c.Sock5Proxy.Host, c.Sock5Proxy.Port)
		dialer, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			logger.Fatalf("创建SOCKS5代理失败, %v", err)
		}

		transportProxy = &http.Transport{
			Dial:            dialer.Dial,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	svcCtx := &ServiceContext{
		Config:             c,
		DbDriver:           drv,
		TransportProxy:     transportProxy,
		TopicModel:         model.NewTopicModel(drv),
		PendingActionModel: model.NewPendingActionModel(drv),
	}

	if c.LLM.Enable {
		var httpClient *http.Client
		if transportProxy != nil {
			httpClient = &http.Client{Transport: transportProxy, Timeout: 3 * time.Minute}
		}
		svcCtx.LLMClient = llm.NewClient(&c.LLM, httpClient)
	}
	return svcCtx
}

func (svcCtx *ServiceContext) Close() {
	if err := svcCtx.DbDriver.Close(); err != nil {
		logger.Errorf("关闭数据库失败, %v", err)
	}
}
