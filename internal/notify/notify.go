package notify

import (
	"context"
	"fmt"

	"github.com/fachebot/chat-topic-bot/internal/keyboard"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/zelenin/go-tdlib/client"
)

// Notifier 通过 TDLib 发送、编辑消息以及回复按钮回调
type Notifier struct {
	tdClient *client.Client
}

func NewNotifier(tdClient *client.Client) *Notifier {
	return &Notifier{tdClient: tdClient}
}

// SendText 发送 HTML 消息，replyTo 为 0 时不引用消息
func (n *Notifier) SendText(ctx context.Context, chatID, replyTo int64, html string) error {
	return n.SendMarkup(ctx, chatID, replyTo, html, nil)
}

// SendMarkup 发送带内联按钮的 HTML 消息
func (n *Notifier) SendMarkup(ctx context.Context, chatID, replyTo int64, html string, markup keyboard.Markup) error {
	if html == "" {
		return nil
	}

	req := &client.SendMessageRequest{
		ChatId: chatID,
		InputMessageContent: &client.InputMessageText{
			Text: n.parseHTMLText(html),
		},
		ReplyMarkup: inlineKeyboard(markup),
	}
	if replyTo != 0 {
		req.ReplyTo = &client.InputMessageReplyToMessage{MessageId: replyTo}
	}

	if _, err := n.tdClient.SendMessage(req); err != nil {
		return fmt.Errorf("发送消息到群组 %d 失败: %w", chatID, err)
	}
	logger.Debugf("[Notify] 已发送消息到群组 %d", chatID)
	return nil
}

// EditText 修改消息文本与按钮，markup 为空时移除按钮
func (n *Notifier) EditText(ctx context.Context, chatID, messageID int64, html string, markup keyboard.Markup) error {
	_, err := n.tdClient.EditMessageText(&client.EditMessageTextRequest{
		ChatId:    chatID,
		MessageId: messageID,
		InputMessageContent: &client.InputMessageText{
			Text: n.parseHTMLText(html),
		},
		ReplyMarkup: inlineKeyboard(markup),
	})
	if err != nil {
		return fmt.Errorf("编辑消息 %d 失败: %w", messageID, err)
	}
	return nil
}

// AnswerCallback 回复按钮回调，text 以提示框展示
func (n *Notifier) AnswerCallback(ctx context.Context, queryID int64, text string) error {
	_, err := n.tdClient.AnswerCallbackQuery(&client.AnswerCallbackQueryRequest{
		CallbackQueryId: client.JsonInt64(queryID),
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("回复按钮回调失败: %w", err)
	}
	return nil
}

// inlineKeyboard 将按钮转换为 TDLib 的内联键盘，无按钮时返回 nil
func inlineKeyboard(markup keyboard.Markup) client.ReplyMarkup {
	if markup.Empty() {
		return nil
	}

	rows := make([][]*client.InlineKeyboardButton, 0, len(markup))
	for _, row := range markup {
		buttons := make([]*client.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, &client.InlineKeyboardButton{
				Text: btn.Label,
				Type: &client.InlineKeyboardButtonTypeCallback{Data: []byte(btn.Data)},
			})
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
	}
	return &client.ReplyMarkupInlineKeyboard{Rows: rows}
}

// parseHTMLText 使用 TDLib 的 HTML 解析能力，将 HTML 文本转换为带实体的 FormattedText。
// 支持的 HTML 标签：<b>粗体</b>、<pre>预格式化</pre>
func (n *Notifier) parseHTMLText(text string) *client.FormattedText {
	if text == "" {
		return &client.FormattedText{Text: text}
	}

	formatted, err := client.ParseTextEntities(&client.ParseTextEntitiesRequest{
		Text:      text,
		ParseMode: &client.TextParseModeHTML{},
	})
	if err != nil {
		logger.Warnf("[Notify] 解析 HTML 文本失败，回退为纯文本发送: %v", err)
		return &client.FormattedText{Text: text}
	}
	return formatted
}
