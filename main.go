//go:build linux
// +build linux

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fachebot/chat-topic-bot/internal/command"
	"github.com/fachebot/chat-topic-bot/internal/config"
	"github.com/fachebot/chat-topic-bot/internal/handler"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/fachebot/chat-topic-bot/internal/notify"
	"github.com/fachebot/chat-topic-bot/internal/scheduler"
	"github.com/fachebot/chat-topic-bot/internal/suggester"
	"github.com/fachebot/chat-topic-bot/internal/svc"
	"github.com/fachebot/chat-topic-bot/internal/teleapp"
	"github.com/fachebot/chat-topic-bot/internal/topic"

	"github.com/zelenin/go-tdlib/client"
)

var configFile = flag.String("f", "etc/config.yaml", "the config file")

func main() {
	flag.Parse()

	// 读取配置文件
	c, err := config.LoadFromFile(*configFile)
	if err != nil {
		logger.Fatalf("读取配置文件失败, %s", err)
	}

	// 初始化日志
	err = logger.Setup(logger.Options{
		Dir:        c.Log.Dir,
		Level:      c.Log.Level,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
	})
	if err != nil {
		logger.Fatalf("初始化日志失败, %s", err)
	}

	// 创建数据目录
	if _, err := os.Stat("data"); os.IsNotExist(err) {
		err := os.Mkdir("data", 0755)
		if err != nil {
			logger.Fatalf("创建数据目录失败, %s", err)
		}
	}

	// 创建服务上下文
	svcCtx := svc.NewServiceContext(c)

	// 运行Telegram App
	options := make([]client.Option, 0)
	if c.Sock5Proxy.Enable {
		options = append(options, client.WithProxy(&client.AddProxyRequest{
			Server: c.Sock5Proxy.Host,
			Port:   c.Sock5Proxy.Port,
			Enable: c.Sock5Proxy.Enable,
			Type:   &client.ProxyTypeSocks5{},
		}))
	}

	// 创建TeleApp
	app := teleapp.NewApp(svcCtx, "data")
	user, err := app.Login(options...)
	if err != nil {
		logger.Fatalf("[TeleApp] 登录失败, %s", err)
	}
	logger.Infof("[TeleApp] 账号 <%s %s>(%d) 登录成功, 机器人: %v", user.FirstName, user.LastName, user.Id, app.IsBot())
	if !app.IsBot() {
		logger.Warnf("[TeleApp] 以用户账号登录，内联按钮与确认功能不可用")
	}

	// 创建主题状态机与命令处理器
	titles := topic.NewTitleSync(app, time.Duration(c.Topic.SyncTimeout)*time.Second)
	machine := topic.NewMachine(svcCtx.TopicModel, titles, app, c.Topic.Separator)
	parser := command.NewParser(c.Topic.Command, app.Username())
	notifier := notify.NewNotifier(app.Client())

	h := handler.NewHandler(handler.Options{
		Enabled:             c.Topic.Enabled,
		RequireConfirmation: c.Topic.RequireConfirmation,
		Buttons:             app.IsBot(),
		PendingTTL:          time.Duration(c.Topic.PendingTTL) * time.Second,
	}, machine, parser, app, svcCtx.PendingActionModel, notifier)
	if svcCtx.LLMClient != nil {
		h.WithSuggester(suggester.NewSuggester(svcCtx.LLMClient, c.LLM.MaxLength))
	}

	app.Run(h)

	// 创建并启动调度器
	schedulerInstance := scheduler.NewScheduler(
		svcCtx.PendingActionModel,
		svcCtx.TopicModel,
		h,
		&c.Topic,
	)
	if err := schedulerInstance.Start(); err != nil {
		logger.Fatalf("[Scheduler] 启动调度器失败: %s", err)
	}

	// 等待程序退出
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	// 优雅关闭
	logger.Infof("正在关闭服务...")
	schedulerInstance.Stop()
	err = app.Close()
	if err != nil {
		logger.Infof("[TeleApp] 关闭失败, %v", err)
	}
	svcCtx.Close()
	logger.Infof("服务已停止")
}
