package teleapp

import (
	"fmt"

	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/zelenin/go-tdlib/client"
)

// botAuthorizer 使用机器人令牌登录，无需交互
type botAuthorizer struct {
	parameters *client.SetTdlibParametersRequest
	token      string
}

func newBotAuthorizer(parameters *client.SetTdlibParametersRequest, token string) *botAuthorizer {
	return &botAuthorizer{parameters: parameters, token: token}
}

func (a *botAuthorizer) Handle(c *client.Client, state client.AuthorizationState) error {
	switch state.AuthorizationStateType() {
	case client.TypeAuthorizationStateWaitTdlibParameters:
		_, err := c.SetTdlibParameters(a.parameters)
		return err

	case client.TypeAuthorizationStateWaitPhoneNumber:
		logger.Infof("[TeleApp] 使用机器人令牌登录")
		_, err := c.CheckAuthenticationBotToken(&client.CheckAuthenticationBotTokenRequest{
			Token: a.token,
		})
		return err

	case client.TypeAuthorizationStateReady:
		return nil

	case client.TypeAuthorizationStateLoggingOut, client.TypeAuthorizationStateClosing, client.TypeAuthorizationStateClosed:
		return fmt.Errorf("机器人登录已中止: %s", state.AuthorizationStateType())
	}

	return fmt.Errorf("不支持的登录状态: %s", state.AuthorizationStateType())
}

func (a *botAuthorizer) Close() {}
