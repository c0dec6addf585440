package topic

import (
	"context"
	"time"

	"github.com/fachebot/chat-topic-bot/internal/logger"
)

// titleSetter 修改远端群标题（便于测试注入 mock）
type titleSetter interface {
	SetChatTitle(ctx context.Context, chatID int64, title string) error
}

// TitleSync 将渲染后的标题推送到群，超时视同拒绝
type TitleSync struct {
	setter  titleSetter
	timeout time.Duration
}

func NewTitleSync(setter titleSetter, timeout time.Duration) *TitleSync {
	return &TitleSync{setter: setter, timeout: timeout}
}

// Apply 修改群标题，失败时返回 KindRemoteRejection
func (s *TitleSync) Apply(ctx context.Context, chatID int64, title string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.setter.SetChatTitle(ctx, chatID, title); err != nil {
		logger.Warnf("[TitleSync] 修改群标题失败, chat: %d, title: %s, %v", chatID, title, err)
		return &Error{Kind: KindRemoteRejection, Reason: err.Error(), Err: err}
	}

	logger.Debugf("[TitleSync] 群标题已更新, chat: %d, title: %s", chatID, title)
	return nil
}
