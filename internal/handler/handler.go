package handler

import (
	"context"
	"errors"
	"time"

	"github.com/fachebot/chat-topic-bot/internal/command"
	"github.com/fachebot/chat-topic-bot/internal/keyboard"
	"github.com/fachebot/chat-topic-bot/internal/llm"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/fachebot/chat-topic-bot/internal/model"
	"github.com/fachebot/chat-topic-bot/internal/suggester"
	"github.com/fachebot/chat-topic-bot/internal/topic"
)

// permissionChecker 判断用户能否修改群信息（便于测试注入 mock）
type permissionChecker interface {
	CanChangeInfo(ctx context.Context, chatID, userID int64) (bool, error)
}

// pendingStore 待确认操作存储（便于测试注入 mock）
type pendingStore interface {
	Create(ctx context.Context, a *model.PendingAction) error
	Take(ctx context.Context, id string, chatID int64, now time.Time) (*model.PendingAction, error)
	Delete(ctx context.Context, id string, chatID int64) error
}

// messenger 发送与编辑消息，文本均为 HTML（便于测试注入 mock）
type messenger interface {
	SendText(ctx context.Context, chatID, replyTo int64, html string) error
	SendMarkup(ctx context.Context, chatID, replyTo int64, html string, markup keyboard.Markup) error
	EditText(ctx context.Context, chatID, messageID int64, html string, markup keyboard.Markup) error
	AnswerCallback(ctx context.Context, queryID int64, text string) error
}

// subtopicSuggester 由 LLM 建议子主题（便于测试注入 mock）
type subtopicSuggester interface {
	Suggest(ctx context.Context, t *model.Topic, messages []llm.ChatMessage) (string, error)
}

// Options 处理器选项
type Options struct {
	Enabled             bool
	RequireConfirmation bool          // 带文本的操作先预览再确认（仅 Buttons 时有效）
	Buttons             bool          // 是否支持内联按钮（机器人账号）
	PendingTTL          time.Duration // 待确认操作的有效期
}

// Quote 被回复的消息
type Quote struct {
	SenderID   int64
	SenderName string
	Text       string
}

// Message 群内收到的文本消息
type Message struct {
	ChatID    int64
	MessageID int64
	Sender    topic.Actor
	Text      string
	Reply     *Quote
}

// TitleChange 群标题修改的服务消息
type TitleChange struct {
	ChatID int64
	Title  string
	Own    bool // 由本账号修改，可能晚于之后的命令到达
}

// Callback 内联按钮回调
type Callback struct {
	QueryID   int64
	ChatID    int64
	MessageID int64
	Sender    topic.Actor
	Data      string
}

var (
	errPermission = topic.PermissionDenied("You need the permission to change the chat info.")
)

type Handler struct {
	opts      Options
	machine   *topic.Machine
	parser    *command.Parser
	factory   *keyboard.Factory
	perms     permissionChecker
	pending   pendingStore
	messenger messenger
	suggester subtopicSuggester
	now       func() time.Time
}

func NewHandler(opts Options, machine *topic.Machine, parser *command.Parser, perms permissionChecker, pending pendingStore, messenger messenger) *Handler {
	return &Handler{
		opts:      opts,
		machine:   machine,
		parser:    parser,
		factory:   keyboard.NewFactory(parser.Name()),
		perms:     perms,
		pending:   pending,
		messenger: messenger,
		now:       time.Now,
	}
}

// WithSuggester 启用 --suggest
func (h *Handler) WithSuggester(s subtopicSuggester) *Handler {
	h.suggester = s
	return h
}

// IsCommand 消息是否为本命令，用于决定是否需要加载被回复的消息
func (h *Handler) IsCommand(text string) bool {
	return h.opts.Enabled && h.parser.Match(text)
}

// OnMessage 处理群消息
func (h *Handler) OnMessage(ctx context.Context, msg *Message) {
	if !h.opts.Enabled {
		return
	}

	cmd, err := h.parser.Parse(msg.Text)
	if err != nil {
		if errors.Is(err, command.ErrNotCommand) {
			return
		}
		h.reply(ctx, msg, failText(err.Error()))
		return
	}

	logger.Debugf("[Handler] 收到命令, chat: %d, 用户: %s(%d), %s", msg.ChatID, msg.Sender.Name, msg.Sender.ID, msg.Text)

	switch cmd.Op {
	case command.OpHelp:
		h.reply(ctx, msg, "<pre>"+escapeHTML(h.parser.Usage())+"</pre>")
	case command.OpShow:
		h.show(ctx, msg)
	case command.OpAction:
		if reason, ok := h.allowed(ctx, msg.ChatID, msg.Sender); !ok {
			h.reply(ctx, msg, failText(reason))
			return
		}
		h.runCommand(ctx, msg, cmd)
	case command.OpSuggest:
		if reason, ok := h.allowed(ctx, msg.ChatID, msg.Sender); !ok {
			h.reply(ctx, msg, failText(reason))
			return
		}
		h.suggest(ctx, msg)
	}
}

// OnTitleChanged 群标题被他人修改时恢复为主题标题
func (h *Handler) OnTitleChanged(ctx context.Context, change *TitleChange) {
	if !h.opts.Enabled || change.Own {
		return
	}

	changed, err := h.machine.Reassert(ctx, change.ChatID, change.Title)
	h.restored(ctx, change.ChatID, changed, err)
}

// Reconcile 巡检群标题，与主题不一致时恢复
func (h *Handler) Reconcile(ctx context.Context, chatID int64) {
	if !h.opts.Enabled {
		return
	}

	changed, err := h.machine.Reconcile(ctx, chatID)
	h.restored(ctx, chatID, changed, err)
}

func (h *Handler) restored(ctx context.Context, chatID int64, changed bool, err error) {
	if err != nil {
		logger.Warnf("[Handler] 恢复群标题失败, chat: %d, %v", chatID, err)
		return
	}
	if changed {
		text := "⚠️ The chat title is managed by the bot. Use /" + escapeHTML(h.parser.Name()) + " to change it."
		if err := h.messenger.SendText(ctx, chatID, 0, text); err != nil {
			logger.Warnf("[Handler] 发送消息失败, chat: %d, %v", chatID, err)
		}
	}
}

// OnRemoved 机器人被移出群
func (h *Handler) OnRemoved(ctx context.Context, chatID int64) {
	if _, err := h.machine.Forget(ctx, chatID); err != nil {
		logger.Errorf("[Handler] 删除主题失败, chat: %d, %v", chatID, err)
	}
}

func (h *Handler) runCommand(ctx context.Context, msg *Message, cmd *command.Command) {
	action := topic.Action{Kind: cmd.Kind, Text: cmd.Text, Index: cmd.Index}
	if action.Text == "" && msg.Reply != nil && (action.Kind.NeedsText() || action.Kind == topic.KindInit) {
		action.Text = msg.Reply.Text
	}

	if h.needsConfirmation(action.Kind) {
		text, markup, err := h.confirmation(ctx, msg.ChatID, msg.Sender, action)
		if err != nil {
			h.reply(ctx, msg, errorText(err))
			return
		}
		h.replyMarkup(ctx, msg, text, markup)
		return
	}

	res, err := h.machine.Apply(ctx, msg.ChatID, msg.Sender, action)
	if err != nil {
		h.reply(ctx, msg, errorText(err))
		return
	}
	h.reply(ctx, msg, successText(res.Message))
}

func (h *Handler) needsConfirmation(kind topic.Kind) bool {
	if !h.opts.Buttons {
		return false
	}
	return kind == topic.KindUnset || (h.opts.RequireConfirmation && kind.NeedsText())
}

// confirmation 预览操作并保存为待确认操作，返回提示文本与确认按钮
func (h *Handler) confirmation(ctx context.Context, chatID int64, actor topic.Actor, action topic.Action) (string, keyboard.Markup, error) {
	preview, err := h.machine.Preview(ctx, chatID, actor, action)
	if err != nil {
		return "", nil, err
	}

	now := h.now()
	pending := &model.PendingAction{
		ChatID:    chatID,
		Action:    action.Kind.String(),
		Text:      action.Text,
		Index:     action.Index,
		UserID:    actor.ID,
		Username:  actor.Name,
		CreatedAt: now,
		ExpiresAt: now.Add(h.opts.PendingTTL),
	}
	if err := h.pending.Create(ctx, pending); err != nil {
		logger.Errorf("[Handler] 保存待确认操作失败, chat: %d, %v", chatID, err)
		return "", nil, topic.PersistenceFailure("Failed to prepare the confirmation, please try again later.", err)
	}

	return confirmText(action.Kind, preview), h.confirmMarkup(pending.ID), nil
}

func (h *Handler) show(ctx context.Context, msg *Message) {
	t, err := h.machine.Topic(ctx, msg.ChatID)
	if err != nil && !model.IsNotFound(err) {
		logger.Errorf("[Handler] 查询主题失败, chat: %d, %v", msg.ChatID, err)
		h.reply(ctx, msg, failText("Failed to load the topic, please try again later."))
		return
	}

	text, markup := h.view(t)
	h.replyMarkup(ctx, msg, text, markup)
}

func (h *Handler) suggest(ctx context.Context, msg *Message) {
	if h.suggester == nil {
		h.reply(ctx, msg, failText("Subtopic suggestions are not enabled."))
		return
	}
	if msg.Reply == nil || msg.Reply.Text == "" {
		h.reply(ctx, msg, failText("Reply to a text message to get a suggestion."))
		return
	}

	t, err := h.machine.Topic(ctx, msg.ChatID)
	if err != nil {
		if model.IsNotFound(err) {
			h.reply(ctx, msg, failText("Topic management is not initialized in this chat. Use --init first."))
			return
		}
		logger.Errorf("[Handler] 查询主题失败, chat: %d, %v", msg.ChatID, err)
		h.reply(ctx, msg, failText("Failed to load the topic, please try again later."))
		return
	}

	messages := []llm.ChatMessage{{SenderID: msg.Reply.SenderID, SenderName: msg.Reply.SenderName, Text: msg.Reply.Text}}
	subtopic, err := h.suggester.Suggest(ctx, t, messages)
	if err != nil {
		if !errors.Is(err, suggester.ErrNoSuggestion) {
			logger.Warnf("[Handler] 生成子主题建议失败, chat: %d, %v", msg.ChatID, err)
		}
		h.reply(ctx, msg, failText("No suggestion is available for this message."))
		return
	}

	if !h.opts.Buttons {
		h.reply(ctx, msg, "💡 Suggested subtopic: <b>"+escapeHTML(subtopic)+"</b>\nUse /"+
			escapeHTML(h.parser.Name())+" --push "+escapeHTML(subtopic)+" to add it.")
		return
	}

	text, markup, err := h.confirmation(ctx, msg.ChatID, msg.Sender, topic.Action{Kind: topic.KindPush, Text: subtopic})
	if err != nil {
		h.reply(ctx, msg, errorText(err))
		return
	}
	h.replyMarkup(ctx, msg, "💡 Suggested subtopic: <b>"+escapeHTML(subtopic)+"</b>\n"+text, markup)
}

// allowed 检查修改群信息的权限，无权限时返回展示给用户的原因
func (h *Handler) allowed(ctx context.Context, chatID int64, actor topic.Actor) (string, bool) {
	ok, err := h.perms.CanChangeInfo(ctx, chatID, actor.ID)
	if err != nil {
		logger.Warnf("[Handler] 查询成员权限失败, chat: %d, user: %d, %v", chatID, actor.ID, err)
		return "Failed to check your permissions, please try again later.", false
	}
	if !ok {
		logger.Debugf("[Handler] 用户无权修改群信息, chat: %d, user: %s(%d)", chatID, actor.Name, actor.ID)
		return topic.Reason(errPermission), false
	}
	return "", true
}

func (h *Handler) reply(ctx context.Context, msg *Message, html string) {
	if err := h.messenger.SendText(ctx, msg.ChatID, msg.MessageID, html); err != nil {
		logger.Warnf("[Handler] 发送消息失败, chat: %d, %v", msg.ChatID, err)
	}
}

func (h *Handler) replyMarkup(ctx context.Context, msg *Message, html string, markup keyboard.Markup) {
	if err := h.messenger.SendMarkup(ctx, msg.ChatID, msg.MessageID, html, markup); err != nil {
		logger.Warnf("[Handler] 发送消息失败, chat: %d, %v", msg.ChatID, err)
	}
}
