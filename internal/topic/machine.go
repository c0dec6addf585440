package topic

import (
	"context"
	"strings"
	"time"

	"github.com/fachebot/chat-topic-bot/internal/logger"
	"github.com/fachebot/chat-topic-bot/internal/model"
)

// topicStore 主题持久化（便于测试注入 mock）
type topicStore interface {
	FindByChatID(ctx context.Context, chatID int64) (*model.Topic, error)
	Save(ctx context.Context, t *model.Topic) error
	DeleteSubtopics(ctx context.Context, subtopics []*model.Subtopic) error
	DeleteByChatID(ctx context.Context, chatID int64) (int, error)
}

// ChatInfo 群的基本信息
type ChatInfo struct {
	Title   string
	Private bool
}

// chatGetter 查询群信息（便于测试注入 mock）
type chatGetter interface {
	GetChatInfo(ctx context.Context, chatID int64) (*ChatInfo, error)
}

// Result 操作成功的结果
type Result struct {
	Kind    Kind
	Topic   *model.Topic // 取消主题管理后为 nil
	Title   string       // 操作后的完整标题
	Synced  bool         // 是否调用了修改群标题
	Message string       // 展示给用户的结果
}

// Machine 主题状态机：每个群同一时间只执行一个操作，
// 顺序为 渲染 -> 修改群标题 -> 保存主题 -> 删除脱离的子主题
type Machine struct {
	store     topicStore
	titles    *TitleSync
	chats     chatGetter
	separator string
	locks     *chatLocks
	now       func() time.Time
}

func NewMachine(store topicStore, titles *TitleSync, chats chatGetter, separator string) *Machine {
	return &Machine{
		store:     store,
		titles:    titles,
		chats:     chats,
		separator: separator,
		locks:     newChatLocks(),
		now:       time.Now,
	}
}

// plan 一次操作的计算结果，不含任何副作用
type plan struct {
	current *model.Topic
	next    *model.Topic
	removed []*model.Subtopic
	title   string
	sync    bool
	persist bool
}

// Render 渲染主题的完整标题
func (m *Machine) Render(t *model.Topic) string {
	return RenderTopic(t, m.separator)
}

// Topic 查询群主题，不存在时返回 model.ErrNotFound
func (m *Machine) Topic(ctx context.Context, chatID int64) (*model.Topic, error) {
	return m.store.FindByChatID(ctx, chatID)
}

// Preview 计算操作后的标题但不执行，取消主题管理时返回空字符串
func (m *Machine) Preview(ctx context.Context, chatID int64, actor Actor, action Action) (string, error) {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	p, err := m.plan(ctx, chatID, actor, action)
	if err != nil {
		return "", err
	}
	return p.title, nil
}

// Apply 执行一次操作。修改群标题失败时不写入任何数据
func (m *Machine) Apply(ctx context.Context, chatID int64, actor Actor, action Action) (*Result, error) {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	p, err := m.plan(ctx, chatID, actor, action)
	if err != nil {
		logger.Debugf("[Topic] 操作被拒绝, chat: %d, action: %s, %v", chatID, action.Kind, err)
		return nil, err
	}

	if action.Kind == KindUnset {
		if _, err := m.store.DeleteByChatID(ctx, chatID); err != nil {
			logger.Errorf("[Topic] 删除主题失败, chat: %d, %v", chatID, err)
			return nil, persistenceError("Failed to remove the topic, please try again later.", err)
		}
		logger.Infof("[Topic] 主题已删除, chat: %d, 操作者: %s(%d)", chatID, actor.Name, actor.ID)
		return &Result{Kind: action.Kind, Message: "Topic management disabled for this chat."}, nil
	}

	if p.sync {
		if err := m.titles.Apply(ctx, chatID, p.title); err != nil {
			return nil, err
		}
	}

	if p.persist {
		if err := m.store.Save(ctx, p.next); err != nil {
			if action.Kind == KindInit && model.IsConstraintError(err) {
				return nil, preconditionf("Already initialized.")
			}
			logger.Errorf("[Topic] 保存主题失败, chat: %d, action: %s, %v", chatID, action.Kind, err)
			return nil, persistenceError("The title was changed but the topic could not be saved.", err)
		}
		if len(p.removed) > 0 {
			if err := m.store.DeleteSubtopics(ctx, p.removed); err != nil {
				logger.Errorf("[Topic] 删除子主题失败, chat: %d, action: %s, %v", chatID, action.Kind, err)
				return nil, persistenceError("The topic was saved but removed subtopics could not be deleted.", err)
			}
		}
	}

	logger.Infof("[Topic] %s 成功, chat: %d, 操作者: %s(%d), 标题: %s", action.Kind, chatID, actor.Name, actor.ID, p.title)
	return &Result{
		Kind:    action.Kind,
		Topic:   p.next,
		Title:   p.title,
		Synced:  p.sync,
		Message: resultMessage(action.Kind, p.title, p.sync),
	}, nil
}

// Reassert 群标题被他人修改时恢复为主题的标题，返回是否执行了恢复
func (m *Machine) Reassert(ctx context.Context, chatID int64, observed string) (bool, error) {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	current, err := m.store.FindByChatID(ctx, chatID)
	if err != nil {
		if model.IsNotFound(err) {
			return false, nil
		}
		return false, persistenceError("Failed to load the topic.", err)
	}
	return m.restore(ctx, chatID, current, observed)
}

// Reconcile 查询群当前标题，与主题不一致时恢复。查询与恢复在同一把锁内完成
func (m *Machine) Reconcile(ctx context.Context, chatID int64) (bool, error) {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	current, err := m.store.FindByChatID(ctx, chatID)
	if err != nil {
		if model.IsNotFound(err) {
			return false, nil
		}
		return false, persistenceError("Failed to load the topic.", err)
	}

	chat, err := m.chats.GetChatInfo(ctx, chatID)
	if err != nil {
		return false, &Error{Kind: KindRemoteRejection, Reason: err.Error(), Err: err}
	}
	return m.restore(ctx, chatID, current, chat.Title)
}

func (m *Machine) restore(ctx context.Context, chatID int64, current *model.Topic, observed string) (bool, error) {
	title := m.Render(current)
	if observed == title {
		return false, nil
	}

	logger.Infof("[Topic] 群标题被修改, chat: %d, %q -> 恢复为 %q", chatID, observed, title)
	if err := m.titles.Apply(ctx, chatID, title); err != nil {
		return false, err
	}
	return true, nil
}

// Forget 机器人被移出群时删除主题及全部子主题，不修改群标题
func (m *Machine) Forget(ctx context.Context, chatID int64) (bool, error) {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	n, err := m.store.DeleteByChatID(ctx, chatID)
	if err != nil {
		return false, persistenceError("Failed to remove the topic.", err)
	}
	if n > 0 {
		logger.Infof("[Topic] 已移出群，主题已删除, chat: %d", chatID)
	}
	return n > 0, nil
}

func (m *Machine) plan(ctx context.Context, chatID int64, actor Actor, action Action) (*plan, error) {
	current, err := m.store.FindByChatID(ctx, chatID)
	if err != nil {
		if !model.IsNotFound(err) {
			return nil, persistenceError("Failed to load the topic.", err)
		}
		current = nil
	}

	if action.Kind != KindInit && current == nil {
		return nil, preconditionf("Topic management is not initialized in this chat. Use --init first.")
	}

	text := strings.TrimSpace(action.Text)
	if action.Kind.NeedsText() && text == "" {
		return nil, preconditionf("Use --%s with a text or when replying to a text message.", action.Kind)
	}

	now := m.now()
	p := &plan{current: current, persist: true}

	var next *model.Topic
	if current != nil {
		next = current.Clone()
		next.DateModified = now
	}

	switch action.Kind {
	case KindInit:
		if current != nil {
			return nil, preconditionf("Already initialized.")
		}
		chat, err := m.chats.GetChatInfo(ctx, chatID)
		if err != nil {
			return nil, &Error{Kind: KindRemoteRejection, Reason: err.Error(), Err: err}
		}
		if chat.Private {
			return nil, preconditionf("This command does not work in private chats.")
		}
		if text == "" {
			text = chat.Title
		}
		if text == "" {
			return nil, preconditionf("Use --init with a text or when replying to a text message.")
		}
		next = &model.Topic{
			ChatID:       chatID,
			Text:         text,
			Separator:    m.separator,
			UserID:       actor.ID,
			Username:     actor.Name,
			DateAdded:    now,
			DateModified: now,
		}
		p.next = next
		p.title = m.Render(next)
		if titleTooLong(p.title) {
			return nil, preconditionf("The title may not be longer than %d characters.", MaxTitleLength)
		}
		// 当前群标题已一致时不调用远端
		p.sync = chat.Title != p.title
		return p, nil

	case KindSet:
		next.Text = text
		next.UserID = actor.ID
		next.Username = actor.Name

	case KindUnset:
		p.removed = next.Subtopics
		p.persist = false
		return p, nil

	case KindPush:
		next.Subtopics = append(next.Subtopics, newSubtopic(chatID, text, actor, now))

	case KindUnshift:
		next.Subtopics = append([]*model.Subtopic{newSubtopic(chatID, text, actor, now)}, next.Subtopics...)

	case KindPop:
		n := len(next.Subtopics)
		if n == 0 {
			return nil, preconditionf("There are no subtopics to pop.")
		}
		p.removed = []*model.Subtopic{next.Subtopics[n-1]}
		next.Subtopics = next.Subtopics[:n-1]

	case KindShift:
		if len(next.Subtopics) == 0 {
			return nil, preconditionf("There are no subtopics to shift.")
		}
		p.removed = []*model.Subtopic{next.Subtopics[0]}
		next.Subtopics = next.Subtopics[1:]

	case KindRemove:
		n := len(next.Subtopics)
		if n == 0 {
			return nil, preconditionf("There are no subtopics to remove.")
		}
		if action.Index < 0 || action.Index >= n {
			return nil, preconditionf("Subtopic #%d does not exist, choose a number between 1 and %d.", action.Index+1, n)
		}
		target := next.Subtopics[action.Index]
		if action.ExpectID != 0 && target.ID != action.ExpectID {
			return nil, preconditionf("The subtopic list has changed, please try again.")
		}
		p.removed = []*model.Subtopic{target}
		next.Subtopics = append(next.Subtopics[:action.Index:action.Index], next.Subtopics[action.Index+1:]...)

	case KindClear:
		if len(next.Subtopics) == 0 {
			return nil, preconditionf("There are no subtopics to remove.")
		}
		p.removed = next.Subtopics
		next.Subtopics = nil

	case KindFix:
		p.next = current
		p.title = m.Render(current)
		p.persist = false
		// 群标题已一致时平台会拒绝相同的标题
		chat, err := m.chats.GetChatInfo(ctx, chatID)
		p.sync = err != nil || chat.Title != p.title
		return p, nil

	default:
		return nil, preconditionf("Unsupported action %s.", action.Kind)
	}

	p.next = next
	p.title = m.Render(next)
	if titleTooLong(p.title) {
		return nil, preconditionf("The title may not be longer than %d characters.", MaxTitleLength)
	}
	p.sync = p.title != m.Render(current)
	return p, nil
}

func newSubtopic(chatID int64, text string, actor Actor, now time.Time) *model.Subtopic {
	return &model.Subtopic{
		ChatID:       chatID,
		Text:         text,
		UserID:       actor.ID,
		Username:     actor.Name,
		DateAdded:    now,
		DateModified: now,
	}
}

func resultMessage(kind Kind, title string, synced bool) string {
	switch kind {
	case KindInit:
		return "Topic initialized: " + title
	case KindFix:
		if !synced {
			return "Title is already " + title
		}
		return "Title restored to " + title
	default:
		return "Topic set to " + title
	}
}
