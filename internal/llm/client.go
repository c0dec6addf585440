package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fachebot/chat-topic-bot/internal/config"
	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/sashabaranov/go-openai"
)

// openAIClientInterface 定义 OpenAI 客户端接口，便于测试
type openAIClientInterface interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Client struct {
	config         *config.LLM
	openaiClient   openAIClientInterface
	maxInputTokens int
}

// NewClient httpClient 为 nil 时使用默认客户端
func NewClient(cfg *config.LLM, httpClient *http.Client) *Client {
	openaiConfig := openai.DefaultConfig(cfg.APIKey)
	openaiConfig.BaseURL = cfg.BaseURL
	if httpClient != nil {
		openaiConfig.HTTPClient = httpClient
	}

	maxInputTokens := cfg.MaxTokens - 1000 // 预留 1000 tokens 给 system prompt 和输出
	if maxInputTokens <= 0 {
		maxInputTokens = cfg.MaxTokens / 2
	}

	return &Client{
		config:         cfg,
		openaiClient:   openai.NewClientWithConfig(openaiConfig),
		maxInputTokens: maxInputTokens,
	}
}

// estimateTokens 估算文本的 token 数量
func estimateTokens(text string) int {
	// 简单估算：中文约 1.5 token/字，英文约 1.3 token/词
	chineseChars := 0
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			chineseChars++
		}
	}
	englishWords := len(strings.Fields(text))

	tokens := int(float64(chineseChars)*1.5 + float64(englishWords)*1.3)
	if tokens < len(text)/4 {
		// 如果估算值太小，使用字节数的 1/4 作为下限
		tokens = len(text) / 4
	}
	return tokens
}

// ChatMessage 群聊单条消息
type ChatMessage struct {
	SenderID   int64
	SenderName string
	Text       string
}

func formatMessage(m ChatMessage) string {
	return fmt.Sprintf("[%s|%d] %s", m.SenderName, m.SenderID, m.Text)
}

// messagesToPromptText 将消息数组转为 prompt 文本，格式为每行 "[发送者名|sender_id] 消息内容"
func messagesToPromptText(msgs []ChatMessage) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = formatMessage(m)
	}
	return strings.Join(lines, "\n")
}

// recentMessages 从后往前保留不超过 token 预算的消息，至少保留最后一条
func recentMessages(msgs []ChatMessage, maxTokens int) []ChatMessage {
	if len(msgs) == 0 {
		return nil
	}

	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		tokens := estimateTokens(formatMessage(msgs[i]))
		if total+tokens > maxTokens && start < len(msgs) {
			break
		}
		total += tokens
		start = i
	}
	return msgs[start:]
}

// SuggestSubtopic 根据当前主题与群聊消息建议一个子主题
// 返回 LLM 输出的 JSON 字符串 {"subtopic": "..."}，由调用方负责解析
func (c *Client) SuggestSubtopic(ctx context.Context, topicText string, subtopics []string, messages []ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	selected := recentMessages(messages, c.maxInputTokens)
	if len(selected) < len(messages) {
		logger.Infof("[LLM] 消息过长，仅使用最近的 %d/%d 条消息", len(selected), len(messages))
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	systemPrompt := fmt.Sprintf(`你是一个群聊标题助手。群标题由主题和若干子主题组成，请根据用户提供的群聊内容，
为群标题建议一个新的子主题。要求：
1. 简短，不超过 %d 个字符，不要包含标点结尾
2. 与已有子主题不重复
3. 使用群聊内容的语言

只输出 JSON：{"subtopic": "子主题"}，不要其他内容。`, c.config.MaxLength)

	var userPrompt strings.Builder
	userPrompt.WriteString("主题：" + topicText + "\n")
	if len(subtopics) > 0 {
		userPrompt.WriteString("已有子主题：" + strings.Join(subtopics, "；") + "\n")
	}
	userPrompt.WriteString("\n群聊内容：\n" + messagesToPromptText(selected) + "\n\n请输出 JSON。")

	req := openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt.String()},
		},
		Temperature: 0.3,
		MaxTokens:   200,
	}

	resp, err := c.openaiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("调用 LLM API 失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM API 返回空结果")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	return content, nil
}
