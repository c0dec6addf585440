package suggester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fachebot/chat-topic-bot/internal/llm"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/fachebot/chat-topic-bot/internal/model"
)

// ErrNoSuggestion LLM 没有给出可用的子主题
var ErrNoSuggestion = errors.New("suggester: no suggestion")

// llmSuggester 调用 LLM 生成子主题（便于测试注入 mock）
type llmSuggester interface {
	SuggestSubtopic(ctx context.Context, topicText string, subtopics []string, messages []llm.ChatMessage) (string, error)
}

// suggestionJSON 用于解析 LLM 返回的 JSON
type suggestionJSON struct {
	Subtopic string `json:"subtopic"`
}

type Suggester struct {
	llmClient llmSuggester
	maxLength int
}

func NewSuggester(llmClient *llm.Client, maxLength int) *Suggester {
	return &Suggester{
		llmClient: llmClient,
		maxLength: maxLength,
	}
}

// Suggest 根据群聊消息为主题建议一个子主题
func (s *Suggester) Suggest(ctx context.Context, t *model.Topic, messages []llm.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoSuggestion
	}

	logger.Infof("[Suggester] 开始生成子主题建议, chat: %d, 消息数: %d", t.ChatID, len(messages))

	jsonStr, err := s.llmClient.SuggestSubtopic(ctx, t.Text, t.SubtopicTexts(), messages)
	if err != nil {
		return "", fmt.Errorf("LLM 生成子主题失败: %w", err)
	}
	if jsonStr == "" {
		return "", ErrNoSuggestion
	}

	var result suggestionJSON
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		logger.Debugf("[Suggester] 解析 LLM 返回的 JSON 失败: %s", jsonStr)
		return "", fmt.Errorf("解析 LLM 返回的 JSON 失败: %w", err)
	}

	subtopic := truncate(clean(result.Subtopic), s.maxLength)
	if subtopic == "" {
		return "", ErrNoSuggestion
	}

	for _, existing := range t.SubtopicTexts() {
		if strings.EqualFold(existing, subtopic) {
			logger.Debugf("[Suggester] 建议的子主题已存在: %s", subtopic)
			return "", ErrNoSuggestion
		}
	}

	logger.Infof("[Suggester] 建议的子主题: %s", subtopic)
	return subtopic, nil
}

// clean 合并空白，去掉首尾的引号和结尾标点
func clean(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = strings.Trim(text, "\"'“”‘’「」《》")
	text = strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsPunct(r) && r != ')' && r != '）'
	})
	return strings.TrimSpace(text)
}

// truncate 按字符截断，超出部分以 … 结尾
func truncate(text string, maxLength int) string {
	if maxLength <= 0 || utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxLength-1])) + "…"
}
