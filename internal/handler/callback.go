package handler

import (
	"context"
	"errors"

	"github.com/fachebot/chat-topic-bot/internal/keyboard"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/fachebot/chat-topic-bot/internal/model"
	"github.com/fachebot/chat-topic-bot/internal/topic"
)

// 按钮动作，init/pop/shift/unset/fix 与 topic.Kind 同名
const (
	actionApply  = "apply"
	actionCancel = "cancel"
)

// OnCallback 处理内联按钮回调
func (h *Handler) OnCallback(ctx context.Context, cb *Callback) {
	if !h.opts.Enabled {
		return
	}

	data, err := h.factory.Parse(cb.Data)
	if err != nil {
		if errors.Is(err, keyboard.ErrForeign) {
			return
		}
		h.answer(ctx, cb, "Invalid button.")
		return
	}

	logger.Debugf("[Handler] 收到按钮回调, chat: %d, 用户: %s(%d), %s", cb.ChatID, cb.Sender.Name, cb.Sender.ID, cb.Data)

	if reason, ok := h.allowed(ctx, cb.ChatID, cb.Sender); !ok {
		h.answer(ctx, cb, reason)
		return
	}

	switch data.Action {
	case actionApply:
		h.applyPending(ctx, cb, data.Data)
	case actionCancel:
		h.cancelPending(ctx, cb, data.Data)
	case topic.KindRemove.String():
		index, id, err := keyboard.ParseRemoveData(data.Data)
		if err != nil {
			h.answer(ctx, cb, "Invalid button.")
			return
		}
		h.applyButton(ctx, cb, topic.Action{Kind: topic.KindRemove, Index: index, ExpectID: id})
	default:
		kind, err := topic.ParseKind(data.Action)
		if err != nil || kind.NeedsText() {
			h.answer(ctx, cb, "Invalid button.")
			return
		}
		if kind == topic.KindUnset {
			h.confirmButton(ctx, cb, topic.Action{Kind: kind})
			return
		}
		h.applyButton(ctx, cb, topic.Action{Kind: kind})
	}
}

// applyButton 执行视图上的按钮，成功后刷新视图
func (h *Handler) applyButton(ctx context.Context, cb *Callback, action topic.Action) {
	res, err := h.machine.Apply(ctx, cb.ChatID, cb.Sender, action)
	if err != nil {
		h.answer(ctx, cb, "❌ "+topic.Reason(err))
		if topic.KindOf(err) == topic.KindPrecondition {
			h.refresh(ctx, cb)
		}
		return
	}

	h.answer(ctx, cb, "✅ "+res.Message)
	text, markup := h.view(res.Topic)
	h.edit(ctx, cb, text, markup)
}

// confirmButton 将视图替换为确认提示
func (h *Handler) confirmButton(ctx context.Context, cb *Callback, action topic.Action) {
	text, markup, err := h.confirmation(ctx, cb.ChatID, cb.Sender, action)
	if err != nil {
		h.answer(ctx, cb, "❌ "+topic.Reason(err))
		return
	}
	h.answer(ctx, cb, "")
	h.edit(ctx, cb, text, markup)
}

func (h *Handler) applyPending(ctx context.Context, cb *Callback, id string) {
	pending, err := h.pending.Take(ctx, id, cb.ChatID, h.now())
	if err != nil {
		if !model.IsNotFound(err) {
			logger.Errorf("[Handler] 读取待确认操作失败, chat: %d, id: %s, %v", cb.ChatID, id, err)
			h.answer(ctx, cb, "Failed to load the confirmation, please try again later.")
			return
		}
		h.answer(ctx, cb, "This confirmation has expired.")
		h.edit(ctx, cb, failText("This confirmation has expired."), nil)
		return
	}

	kind, err := topic.ParseKind(pending.Action)
	if err != nil {
		logger.Warnf("[Handler] 未知的待确认操作, id: %s, %v", id, err)
		h.answer(ctx, cb, "Invalid button.")
		return
	}

	// 文本的作者记为发起操作的用户
	actor := topic.Actor{ID: pending.UserID, Name: pending.Username}
	action := topic.Action{Kind: kind, Text: pending.Text, Index: pending.Index}
	res, err := h.machine.Apply(ctx, cb.ChatID, actor, action)
	if err != nil {
		h.answer(ctx, cb, "❌ "+topic.Reason(err))
		h.edit(ctx, cb, errorText(err), nil)
		return
	}

	h.answer(ctx, cb, "✅ "+res.Message)
	h.edit(ctx, cb, successText(res.Message), nil)
}

func (h *Handler) cancelPending(ctx context.Context, cb *Callback, id string) {
	if err := h.pending.Delete(ctx, id, cb.ChatID); err != nil {
		logger.Errorf("[Handler] 删除待确认操作失败, chat: %d, id: %s, %v", cb.ChatID, id, err)
	}
	h.answer(ctx, cb, "Cancelled.")
	h.edit(ctx, cb, "Cancelled.", nil)
}

// refresh 用当前主题重绘视图
func (h *Handler) refresh(ctx context.Context, cb *Callback) {
	t, err := h.machine.Topic(ctx, cb.ChatID)
	if err != nil && !model.IsNotFound(err) {
		logger.Warnf("[Handler] 查询主题失败, chat: %d, %v", cb.ChatID, err)
		return
	}
	text, markup := h.view(t)
	h.edit(ctx, cb, text, markup)
}

func (h *Handler) answer(ctx context.Context, cb *Callback, text string) {
	if err := h.messenger.AnswerCallback(ctx, cb.QueryID, text); err != nil {
		logger.Warnf("[Handler] 回复按钮回调失败, chat: %d, %v", cb.ChatID, err)
	}
}

func (h *Handler) edit(ctx context.Context, cb *Callback, html string, markup keyboard.Markup) {
	if err := h.messenger.EditText(ctx, cb.ChatID, cb.MessageID, html, markup); err != nil {
		logger.Warnf("[Handler] 编辑消息失败, chat: %d, message: %d, %v", cb.ChatID, cb.MessageID, err)
	}
}
