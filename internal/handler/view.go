package handler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fachebot/chat-topic-bot/internal/keyboard"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/fachebot/chat-topic-bot/internal/model"
	"github.com/fachebot/chat-topic-bot/internal/topic"
)

// maxButtonLabel 删除按钮上子主题文本的最大字符数
const maxButtonLabel = 24

// escapeHTML 对文本进行 HTML 转义，防止注入及破坏标签
// 转义：& < > "
func escapeHTML(text string) string {
	result := strings.ReplaceAll(text, "&", "&amp;")
	result = strings.ReplaceAll(result, "<", "&lt;")
	result = strings.ReplaceAll(result, ">", "&gt;")
	result = strings.ReplaceAll(result, "\"", "&quot;")
	return result
}

func successText(text string) string {
	return "✅ " + escapeHTML(text)
}

func failText(text string) string {
	return "❌ " + escapeHTML(text)
}

func errorText(err error) string {
	return failText(topic.Reason(err))
}

func confirmText(kind topic.Kind, preview string) string {
	if kind == topic.KindUnset {
		return "Stop managing the title of this chat and forget all subtopics?"
	}
	return "The chat title will become:\n<b>" + escapeHTML(preview) + "</b>\n\nApply this change?"
}

// view 主题视图：标题、子主题列表以及操作按钮
func (h *Handler) view(t *model.Topic) (string, keyboard.Markup) {
	if t == nil {
		text := "Topic management is not initialized in this chat.\nUse /" + escapeHTML(h.parser.Name()) + " --init [text] to start."
		if !h.opts.Buttons {
			return text, nil
		}
		return text, h.rows([]keyboard.Button{h.button("🚀 Initialize", topic.KindInit.String(), "")})
	}

	var sb strings.Builder
	sb.WriteString("📌 <b>" + escapeHTML(h.machine.Render(t)) + "</b>\n")
	sb.WriteString("\nTopic: " + escapeHTML(t.Text) + "\n")
	if len(t.Subtopics) == 0 {
		sb.WriteString("No subtopics.\n")
	}
	for i, s := range t.Subtopics {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, escapeHTML(s.Text)))
	}
	if !h.opts.Buttons {
		return sb.String(), nil
	}

	var rows [][]keyboard.Button
	if len(t.Subtopics) > 0 {
		rows = append(rows, []keyboard.Button{
			h.button("⬅️ Shift", topic.KindShift.String(), ""),
			h.button("Pop ➡️", topic.KindPop.String(), ""),
		})
	}
	for i, s := range t.Subtopics {
		label := fmt.Sprintf("✖ %d. %s", i+1, shorten(s.Text, maxButtonLabel))
		rows = append(rows, []keyboard.Button{h.button(label, topic.KindRemove.String(), keyboard.RemoveData(i, s.ID))})
	}
	rows = append(rows, []keyboard.Button{
		h.button("🔄 Fix title", topic.KindFix.String(), ""),
		h.button("🗑 Unset", topic.KindUnset.String(), ""),
	})
	return sb.String(), h.rows(rows...)
}

func (h *Handler) confirmMarkup(id string) keyboard.Markup {
	return h.rows([]keyboard.Button{
		h.button("✅ Apply", actionApply, id),
		h.button("❌ Cancel", actionCancel, id),
	})
}

// button 生成按钮，回调数据超长时返回空按钮，由 rows 过滤
func (h *Handler) button(label, action, data string) keyboard.Button {
	btn, err := h.factory.Button(label, action, data)
	if err != nil {
		logger.Warnf("[Handler] 生成按钮失败, %v", err)
		return keyboard.Button{}
	}
	return btn
}

func (h *Handler) rows(rows ...[]keyboard.Button) keyboard.Markup {
	markup := make(keyboard.Markup, 0, len(rows))
	for _, row := range rows {
		kept := make([]keyboard.Button, 0, len(row))
		for _, btn := range row {
			if btn.Data != "" {
				kept = append(kept, btn)
			}
		}
		if len(kept) > 0 {
			markup = append(markup, kept)
		}
	}
	return markup
}

func shorten(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max-1]) + "…"
}
