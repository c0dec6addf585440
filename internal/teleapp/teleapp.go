package teleapp

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fachebot/chat-topic-bot/internal/handler"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/fachebot/chat-topic-bot/internal/svc"
	"github.com/fachebot/chat-topic-bot/internal/topic"

	"github.com/zelenin/go-tdlib/client"
)

// Dispatcher 处理转换后的更新
type Dispatcher interface {
	IsCommand(text string) bool
	OnMessage(ctx context.Context, msg *handler.Message)
	OnCallback(ctx context.Context, cb *handler.Callback)
	OnTitleChanged(ctx context.Context, change *handler.TitleChange)
	OnRemoved(ctx context.Context, chatID int64)
}

type TeleApp struct {
	svcCtx     *svc.ServiceContext
	user       *client.User
	tdClient   *client.Client
	listener   *client.Listener
	parameters *client.SetTdlibParametersRequest
	usersMu    sync.RWMutex
	usersCache map[int64]*client.User
	ctx        context.Context
	cancel     context.CancelFunc
	ctxMu      sync.Mutex
	wg         sync.WaitGroup
}

func NewApp(svcCtx *svc.ServiceContext, dataDir string) *TeleApp {
	_, err := client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{
		NewVerbosityLevel: 1,
	})
	if err != nil {
		logger.Fatalf("[TeleApp] 设置日志级别错误, %s", err)
	}

	c := svcCtx.Config.TelegramApp
	parameters := &client.SetTdlibParametersRequest{
		UseTestDc:           false,
		DatabaseDirectory:   filepath.Join(dataDir, ".tdlib", "database"),
		FilesDirectory:      filepath.Join(dataDir, ".tdlib", "files"),
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  true,
		UseSecretChats:      false,
		ApiId:               c.ApiId,
		ApiHash:             c.ApiHash,
		SystemLanguageCode:  "en",
		DeviceModel:         "Server",
		SystemVersion:       "1.0.0",
		ApplicationVersion:  "1.0.0",
	}

	app := &TeleApp{
		svcCtx:     svcCtx,
		parameters: parameters,
		usersCache: make(map[int64]*client.User),
	}
	return app
}

// Login 配置了 BotToken 时以机器人登录，否则以用户账号交互式登录
func (app *TeleApp) Login(options ...client.Option) (*client.User, error) {
	if app.user != nil {
		return app.user, nil
	}

	var authorizer client.AuthorizationStateHandler
	if token := app.svcCtx.Config.TelegramApp.BotToken; token != "" {
		authorizer = newBotAuthorizer(app.parameters, token)
	} else {
		clientAuthorizer := client.ClientAuthorizer(app.parameters)
		go client.CliInteractor(clientAuthorizer)
		authorizer = clientAuthorizer
	}

	tdlibClient, err := client.NewClient(authorizer, options...)
	if err != nil {
		return nil, err
	}

	me, err := tdlibClient.GetMe()
	if err != nil {
		return nil, err
	}

	app.user = me
	app.tdClient = tdlibClient

	// 机器人账号不能获取聊天列表
	if !app.IsBot() {
		chats, err := app.tdClient.GetChats(&client.GetChatsRequest{Limit: 100})
		if err != nil {
			logger.Warnf("[TeleApp] 获取聊天列表失败: %v", err)
		} else {
			for _, chatId := range chats.ChatIds {
				chat, err := app.tdClient.GetChat(&client.GetChatRequest{ChatId: chatId})
				if err != nil {
					logger.Warnf("[TeleApp] 获取聊天信息失败, id: %d, %v", chatId, err)
					continue
				}
				logger.Infof("[TeleApp] 聊天列表: %s[%d]", chat.Title, chat.Id)
			}
		}
	}

	app.ctxMu.Lock()
	app.ctx, app.cancel = context.WithCancel(context.Background())
	app.ctxMu.Unlock()

	return me, nil
}

// Run 开始处理更新，需在 Login 之后调用
func (app *TeleApp) Run(d Dispatcher) {
	app.listener = app.tdClient.GetListener()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.getUpdates(app.listener, d)
	}()
}

func (app *TeleApp) Client() *client.Client {
	return app.tdClient
}

// IsBot 是否以机器人账号登录（支持内联按钮）
func (app *TeleApp) IsBot() bool {
	if app.user == nil {
		return false
	}
	_, ok := app.user.Type.(*client.UserTypeBot)
	return ok
}

// Username 当前账号的用户名，没有时返回空字符串
func (app *TeleApp) Username() string {
	if app.user == nil || app.user.Usernames == nil || len(app.user.Usernames.ActiveUsernames) == 0 {
		return ""
	}
	return app.user.Usernames.ActiveUsernames[0]
}

func (app *TeleApp) Close() error {
	if app.tdClient == nil {
		return nil
	}

	app.ctxMu.Lock()
	if app.cancel != nil {
		app.cancel()
	}
	app.ctxMu.Unlock()

	if app.listener != nil {
		app.listener.Close()
	}
	app.wg.Wait()

	_, err := app.tdClient.Close()
	return err
}

func (app *TeleApp) getUser(userId int64) (*client.User, error) {
	// 先尝试读锁读取缓存
	app.usersMu.RLock()
	user, ok := app.usersCache[userId]
	app.usersMu.RUnlock()
	if ok {
		return user, nil
	}

	// 缓存未命中，获取数据
	user, err := app.tdClient.GetUser(&client.GetUserRequest{UserId: userId})
	if err != nil {
		return nil, err
	}

	// 写锁更新缓存
	app.usersMu.Lock()
	app.usersCache[userId] = user
	app.usersMu.Unlock()
	return user, nil
}

// actor 将用户转换为操作者，优先使用 @用户名
func (app *TeleApp) actor(userId int64) topic.Actor {
	actor := topic.Actor{ID: userId}
	user, err := app.getUser(userId)
	if err != nil {
		logger.Warnf("[TeleApp] 获取用户信息失败, id: %d, %v", userId, err)
		return actor
	}
	actor.Name = displayName(user)
	if user.Usernames != nil && len(user.Usernames.ActiveUsernames) > 0 {
		actor.Name = "@" + user.Usernames.ActiveUsernames[0]
	}
	return actor
}

func displayName(user *client.User) string {
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	return name
}

func (app *TeleApp) getUpdates(listener *client.Listener, d Dispatcher) {
	app.ctxMu.Lock()
	ctx := app.ctx
	app.ctxMu.Unlock()

	for listener.IsActive() {
		select {
		case <-ctx.Done():
			logger.Infof("[TeleApp] 更新循环已取消，退出")
			return
		case update, ok := <-listener.Updates:
			if !ok {
				return
			}
			switch u := update.(type) {
			case *client.UpdateNewMessage:
				app.onNewMessage(ctx, u.Message, d)
			case *client.UpdateNewCallbackQuery:
				app.onCallbackQuery(ctx, u, d)
			case *client.UpdateChatMember:
				app.onChatMember(ctx, u, d)
			}
		}
	}
}

func (app *TeleApp) onNewMessage(ctx context.Context, message *client.Message, d Dispatcher) {
	switch content := message.Content.(type) {
	case *client.MessageText:
		if content.Text == nil || content.Text.Text == "" || !d.IsCommand(content.Text.Text) {
			return
		}

		sender, ok := message.SenderId.(*client.MessageSenderUser)
		if !ok {
			return
		}

		logger.Debugf("[TeleApp] 接收命令: [%d] %d -> %s", message.ChatId, sender.UserId, content.Text.Text)
		d.OnMessage(ctx, &handler.Message{
			ChatID:    message.ChatId,
			MessageID: message.Id,
			Sender:    app.actor(sender.UserId),
			Text:      content.Text.Text,
			Reply:     app.repliedQuote(message),
		})

	case *client.MessageChatChangeTitle:
		own := app.isSelf(message)
		logger.Debugf("[TeleApp] 群标题已修改: [%d] %s, 本账号: %v", message.ChatId, content.Title, own)
		d.OnTitleChanged(ctx, &handler.TitleChange{
			ChatID: message.ChatId,
			Title:  content.Title,
			Own:    own,
		})

	case *client.MessageChatDeleteMember:
		if app.user != nil && content.UserId == app.user.Id {
			logger.Infof("[TeleApp] 已被移出群 %d", message.ChatId)
			d.OnRemoved(ctx, message.ChatId)
		}
	}
}

// isSelf 消息是否由本账号发出
func (app *TeleApp) isSelf(message *client.Message) bool {
	if message.IsOutgoing {
		return true
	}
	sender, ok := message.SenderId.(*client.MessageSenderUser)
	return ok && app.user != nil && sender.UserId == app.user.Id
}

// repliedQuote 读取被回复的文本消息，没有时返回 nil
func (app *TeleApp) repliedQuote(message *client.Message) *handler.Quote {
	replied, err := app.tdClient.GetRepliedMessage(&client.GetRepliedMessageRequest{
		ChatId:    message.ChatId,
		MessageId: message.Id,
	})
	if err != nil {
		return nil
	}

	text, ok := replied.Content.(*client.MessageText)
	if !ok || text.Text == nil || text.Text.Text == "" {
		return nil
	}

	quote := &handler.Quote{Text: text.Text.Text}
	if sender, ok := replied.SenderId.(*client.MessageSenderUser); ok {
		quote.SenderID = sender.UserId
		quote.SenderName = app.actor(sender.UserId).Name
	}
	return quote
}

func (app *TeleApp) onCallbackQuery(ctx context.Context, u *client.UpdateNewCallbackQuery, d Dispatcher) {
	payload, ok := u.Payload.(*client.CallbackQueryPayloadData)
	if !ok {
		return
	}

	d.OnCallback(ctx, &handler.Callback{
		QueryID:   int64(u.Id),
		ChatID:    u.ChatId,
		MessageID: u.MessageId,
		Sender:    app.actor(u.SenderUserId),
		Data:      string(payload.Data),
	})
}

// onChatMember 机器人被移出或封禁时删除该群的主题
func (app *TeleApp) onChatMember(ctx context.Context, u *client.UpdateChatMember, d Dispatcher) {
	if app.user == nil || u.NewChatMember == nil {
		return
	}
	member, ok := u.NewChatMember.MemberId.(*client.MessageSenderUser)
	if !ok || member.UserId != app.user.Id {
		return
	}

	switch u.NewChatMember.Status.(type) {
	case *client.ChatMemberStatusLeft, *client.ChatMemberStatusBanned:
		logger.Infof("[TeleApp] 已被移出群 %d", u.ChatId)
		d.OnRemoved(ctx, u.ChatId)
	}
}
