package teleapp

import (
	"context"
	"fmt"

	"github.com/fachebot/chat-topic-bot/internal/topic"
	"github.com/zelenin/go-tdlib/client"
)

// SetChatTitle 修改群标题。TDLib 请求不支持取消，超时后结果被丢弃
func (app *TeleApp) SetChatTitle(ctx context.Context, chatID int64, title string) error {
	done := make(chan error, 1)
	go func() {
		_, err := app.tdClient.SetChatTitle(&client.SetChatTitleRequest{
			ChatId: chatID,
			Title:  title,
		})
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetChatInfo 查询群标题以及是否为私聊
func (app *TeleApp) GetChatInfo(ctx context.Context, chatID int64) (*topic.ChatInfo, error) {
	chat, err := app.tdClient.GetChat(&client.GetChatRequest{ChatId: chatID})
	if err != nil {
		return nil, err
	}
	return &topic.ChatInfo{Title: chat.Title, Private: isPrivate(chat)}, nil
}

// CanChangeInfo 判断用户能否修改群信息：群主可以；管理员看权限；
// 普通成员看群的默认权限；私聊放行，由主题状态机拒绝
func (app *TeleApp) CanChangeInfo(ctx context.Context, chatID, userID int64) (bool, error) {
	chat, err := app.tdClient.GetChat(&client.GetChatRequest{ChatId: chatID})
	if err != nil {
		return false, fmt.Errorf("获取聊天信息失败: %w", err)
	}
	if isPrivate(chat) {
		return true, nil
	}

	member, err := app.tdClient.GetChatMember(&client.GetChatMemberRequest{
		ChatId:   chatID,
		MemberId: &client.MessageSenderUser{UserId: userID},
	})
	if err != nil {
		return false, fmt.Errorf("获取成员信息失败: %w", err)
	}

	switch status := member.Status.(type) {
	case *client.ChatMemberStatusCreator:
		return true, nil
	case *client.ChatMemberStatusAdministrator:
		return status.Rights != nil && status.Rights.CanChangeInfo, nil
	case *client.ChatMemberStatusMember:
		return chat.Permissions != nil && chat.Permissions.CanChangeInfo, nil
	case *client.ChatMemberStatusRestricted:
		return status.Permissions != nil && status.Permissions.CanChangeInfo, nil
	}
	return false, nil
}

func isPrivate(chat *client.Chat) bool {
	switch chat.Type.(type) {
	case *client.ChatTypePrivate, *client.ChatTypeSecret:
		return true
	}
	return false
}
