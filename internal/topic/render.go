package topic

import (
	"strings"
	"unicode/utf8"

	"github.com/fachebot/chat-topic-bot/internal/model"
)

// MaxTitleLength Telegram 群标题的最大长度（字符）
const MaxTitleLength = 128

// Render 拼接标题：无子主题时为 text，否则为 text + sep + 子主题按 sep 连接
func Render(text, separator string, subtopics []string) string {
	if len(subtopics) == 0 {
		return text
	}
	return text + separator + strings.Join(subtopics, separator)
}

// RenderTopic 渲染主题，记录中的分隔符为空时使用 defaultSeparator
func RenderTopic(t *model.Topic, defaultSeparator string) string {
	separator := t.Separator
	if separator == "" {
		separator = defaultSeparator
	}
	return Render(t.Text, separator, t.SubtopicTexts())
}

func titleTooLong(title string) bool {
	return utf8.RuneCountInString(title) > MaxTitleLength
}
