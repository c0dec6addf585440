package topic

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fachebot/chat-topic-bot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChat int64 = -1001

// events 记录副作用的发生顺序
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(name string) {
	e.mu.Lock()
	e.log = append(e.log, name)
	e.mu.Unlock()
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

// fakeStore 内存中的 topicStore
type fakeStore struct {
	mu        sync.Mutex
	events    *events
	topics    map[int64]*model.Topic
	deleted   []int
	nextID    int
	saves     int
	saveErr   error
	deleteErr error
}

func newFakeStore(ev *events) *fakeStore {
	return &fakeStore{events: ev, topics: make(map[int64]*model.Topic)}
}

func (s *fakeStore) FindByChatID(ctx context.Context, chatID int64) (*model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[chatID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *fakeStore) Save(ctx context.Context, t *model.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.add("save")
	if s.saveErr != nil {
		return s.saveErr
	}
	for _, sub := range t.Subtopics {
		if sub.ID == 0 {
			s.nextID++
			sub.ID = s.nextID
		}
	}
	if t.ID == 0 {
		s.nextID++
		t.ID = s.nextID
	}
	s.saves++
	s.topics[t.ChatID] = t.Clone()
	return nil
}

func (s *fakeStore) DeleteSubtopics(ctx context.Context, subtopics []*model.Subtopic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.add("delete")
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for _, sub := range subtopics {
		s.deleted = append(s.deleted, sub.ID)
	}
	return nil
}

func (s *fakeStore) DeleteByChatID(ctx context.Context, chatID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.add("delete-topic")
	if _, ok := s.topics[chatID]; !ok {
		return 0, nil
	}
	delete(s.topics, chatID)
	return 1, nil
}

func (s *fakeStore) snapshot(chatID int64) *model.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.topics[chatID]; ok {
		return t.Clone()
	}
	return nil
}

// fakeChat 模拟群标题与群信息
type fakeChat struct {
	mu      sync.Mutex
	events  *events
	titles  map[int64]string
	private map[int64]bool
	calls   int
	err     error
	block   bool
}

func newFakeChat(ev *events) *fakeChat {
	return &fakeChat{events: ev, titles: make(map[int64]string), private: make(map[int64]bool)}
}

func (c *fakeChat) SetChatTitle(ctx context.Context, chatID int64, title string) error {
	c.mu.Lock()
	c.calls++
	block, err := c.block, c.err
	c.mu.Unlock()

	c.events.add("sync")
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.titles[chatID] = title
	c.mu.Unlock()
	return nil
}

func (c *fakeChat) GetChatInfo(ctx context.Context, chatID int64) (*ChatInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &ChatInfo{Title: c.titles[chatID], Private: c.private[chatID]}, nil
}

func (c *fakeChat) title(chatID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.titles[chatID]
}

func (c *fakeChat) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fixture struct {
	machine *Machine
	store   *fakeStore
	chat    *fakeChat
	events  *events
}

var alice = Actor{ID: 7, Name: "alice"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ev := &events{}
	store := newFakeStore(ev)
	chat := newFakeChat(ev)
	m := NewMachine(store, NewTitleSync(chat, time.Second), chat, " | ")
	return &fixture{machine: m, store: store, chat: chat, events: ev}
}

// initWith 初始化主题并依次 push 子主题
func (f *fixture) initWith(t *testing.T, text string, subtopics ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.machine.Apply(ctx, testChat, alice, Action{Kind: KindInit, Text: text})
	require.NoError(t, err)
	for _, s := range subtopics {
		_, err := f.machine.Apply(ctx, testChat, alice, Action{Kind: KindPush, Text: s})
		require.NoError(t, err)
	}
	f.events.log = nil
}

func TestInit_TitleAlreadyMatches(t *testing.T) {
	f := newFixture(t)
	f.chat.titles[testChat] = "Weekly Sync"

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindInit, Text: "Weekly Sync"})
	require.NoError(t, err)

	assert.False(t, res.Synced)
	assert.Equal(t, 0, f.chat.callCount())
	stored := f.store.snapshot(testChat)
	require.NotNil(t, stored)
	assert.Equal(t, "Weekly Sync", stored.Text)
	assert.Empty(t, stored.Subtopics)
	assert.Equal(t, " | ", stored.Separator)
	assert.Equal(t, int64(7), stored.UserID)
}

func TestInit_UsesChatTitleWhenNoText(t *testing.T) {
	f := newFixture(t)
	f.chat.titles[testChat] = "Book Club"

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindInit})
	require.NoError(t, err)
	assert.Equal(t, "Book Club", res.Title)
	assert.Equal(t, 0, f.chat.callCount())
}

func TestInit_SetsRemoteTitle(t *testing.T) {
	f := newFixture(t)
	f.chat.titles[testChat] = "Old title"

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindInit, Text: "Weekly Sync"})
	require.NoError(t, err)
	assert.True(t, res.Synced)
	assert.Equal(t, "Weekly Sync", f.chat.title(testChat))
	assert.Equal(t, []string{"sync", "save"}, f.events.list())
}

func TestInit_RemoteRejected(t *testing.T) {
	f := newFixture(t)
	f.chat.titles[testChat] = "Old title"
	f.chat.err = errors.New("CHAT_ADMIN_REQUIRED")

	_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindInit, Text: "Weekly Sync"})
	require.Error(t, err)
	assert.Equal(t, KindRemoteRejection, KindOf(err))
	assert.Equal(t, "CHAT_ADMIN_REQUIRED", Reason(err))
	assert.Nil(t, f.store.snapshot(testChat))
}

func TestInit_PrivateChat(t *testing.T) {
	f := newFixture(t)
	f.chat.private[testChat] = true

	_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindInit, Text: "x"})
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Nil(t, f.store.snapshot(testChat))
}

func TestInit_Twice(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "Weekly Sync")

	_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindInit, Text: "Another"})
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Equal(t, "Weekly Sync", f.store.snapshot(testChat).Text)
}

func TestOperationsRequireInit(t *testing.T) {
	kinds := []Kind{KindSet, KindUnset, KindPush, KindPop, KindShift, KindUnshift, KindRemove, KindClear, KindFix}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			f := newFixture(t)
			_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: kind, Text: "x"})
			assert.Equal(t, KindPrecondition, KindOf(err))
			assert.Equal(t, 0, f.chat.callCount())
		})
	}
}

func TestPushRendersFullTitle(t *testing.T) {
	f := newFixture(t)
	f.chat.titles[testChat] = "Weekly Sync"
	f.initWith(t, "Weekly Sync", "Budget", "Hiring")

	assert.Equal(t, "Weekly Sync | Budget | Hiring", f.chat.title(testChat))
	stored := f.store.snapshot(testChat)
	assert.Equal(t, []string{"Budget", "Hiring"}, stored.SubtopicTexts())
	for _, s := range stored.Subtopics {
		assert.NotZero(t, s.ID)
		assert.Equal(t, testChat, s.ChatID)
	}
}

func TestRemoveByIndex(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "Weekly Sync", "Budget", "Hiring")
	removedID := f.store.snapshot(testChat).Subtopics[0].ID

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindRemove, Index: 0})
	require.NoError(t, err)

	assert.Equal(t, "Weekly Sync | Hiring", res.Title)
	assert.Equal(t, "Weekly Sync | Hiring", f.chat.title(testChat))
	assert.Equal(t, []string{"Hiring"}, f.store.snapshot(testChat).SubtopicTexts())
	assert.Equal(t, []int{removedID}, f.store.deleted)
	assert.Equal(t, []string{"sync", "save", "delete"}, f.events.list())
}

func TestRemoveShiftsLaterElements(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a", "b", "c", "d")

	_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindRemove, Index: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, f.store.snapshot(testChat).SubtopicTexts())
}

func TestRemoveOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a", "b")
	before := f.store.snapshot(testChat)

	for _, idx := range []int{-1, 2, 10} {
		_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindRemove, Index: idx})
		assert.Equal(t, KindPrecondition, KindOf(err), "index %d", idx)
	}
	assert.Equal(t, before, f.store.snapshot(testChat))
	assert.Empty(t, f.events.list())
}

func TestRemoveStaleButton(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a", "b")
	stored := f.store.snapshot(testChat)

	_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindRemove, Index: 0, ExpectID: stored.Subtopics[1].ID})
	assert.Equal(t, KindPrecondition, KindOf(err))

	_, err = f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindRemove, Index: 0, ExpectID: stored.Subtopics[0].ID})
	assert.NoError(t, err)
}

func TestPopOnEmpty(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "Weekly Sync")
	before := f.store.snapshot(testChat)

	for _, kind := range []Kind{KindPop, KindShift, KindClear} {
		_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: kind})
		assert.Equal(t, KindPrecondition, KindOf(err), kind.String())
	}
	assert.Equal(t, before, f.store.snapshot(testChat))
	assert.Empty(t, f.events.list())
}

func TestPushPopInverse(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a", "b")
	before := f.store.snapshot(testChat).SubtopicTexts()

	_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindPush, Text: "c"})
	require.NoError(t, err)
	_, err = f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindPop})
	require.NoError(t, err)

	assert.Equal(t, before, f.store.snapshot(testChat).SubtopicTexts())
	assert.Equal(t, "T | a | b", f.chat.title(testChat))
}

func TestUnshiftShiftInverse(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a", "b")
	before := f.store.snapshot(testChat).SubtopicTexts()

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindUnshift, Text: "z"})
	require.NoError(t, err)
	assert.Equal(t, "T | z | a | b", res.Title)

	_, err = f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindShift})
	require.NoError(t, err)
	assert.Equal(t, before, f.store.snapshot(testChat).SubtopicTexts())
}

func TestPopPersistsTopicBeforeDelete(t *testing.T) {
	for _, kind := range []Kind{KindPop, KindShift, KindClear} {
		t.Run(kind.String(), func(t *testing.T) {
			f := newFixture(t)
			f.initWith(t, "T", "a", "b")

			_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: kind})
			require.NoError(t, err)
			assert.Equal(t, []string{"sync", "save", "delete"}, f.events.list())
		})
	}
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a", "b")

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindClear})
	require.NoError(t, err)
	assert.Equal(t, "T", res.Title)
	assert.Equal(t, "T", f.chat.title(testChat))
	assert.Empty(t, f.store.snapshot(testChat).Subtopics)
	assert.Len(t, f.store.deleted, 2)
}

func TestSetRejectedKeepsText(t *testing.T) {
	f := newFixture(t)
	f.chat.titles[testChat] = "Weekly Sync"
	f.initWith(t, "Weekly Sync")
	saves := f.store.saves
	f.chat.err = errors.New("not enough rights to change chat title")

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindSet, Text: "Q3 Planning"})
	assert.Nil(t, res)
	assert.Equal(t, KindRemoteRejection, KindOf(err))
	assert.Contains(t, Reason(err), "not enough rights")

	assert.Equal(t, "Weekly Sync", f.store.snapshot(testChat).Text)
	assert.Equal(t, saves, f.store.saves)
	assert.Equal(t, "Weekly Sync", f.chat.title(testChat))
}

func TestSetUpdatesAttribution(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "Weekly Sync", "Budget")

	bob := Actor{ID: 9, Name: "bob"}
	res, err := f.machine.Apply(context.Background(), testChat, bob, Action{Kind: KindSet, Text: "  Q3 Planning  "})
	require.NoError(t, err)
	assert.Equal(t, "Q3 Planning | Budget", res.Title)

	stored := f.store.snapshot(testChat)
	assert.Equal(t, "Q3 Planning", stored.Text)
	assert.Equal(t, int64(9), stored.UserID)
	assert.Equal(t, "bob", stored.Username)
}

func TestRejectionLeavesStoreUntouched(t *testing.T) {
	actions := []Action{
		{Kind: KindSet, Text: "New"},
		{Kind: KindPush, Text: "c"},
		{Kind: KindUnshift, Text: "z"},
		{Kind: KindPop},
		{Kind: KindShift},
		{Kind: KindRemove, Index: 1},
		{Kind: KindClear},
		{Kind: KindFix},
	}
	for _, action := range actions {
		t.Run(action.Kind.String(), func(t *testing.T) {
			f := newFixture(t)
			f.initWith(t, "T", "a", "b")
			before := f.store.snapshot(testChat)
			if action.Kind == KindFix {
				// 群标题一致时 fix 不调用远端
				f.chat.titles[testChat] = "drifted"
			}
			title := f.chat.title(testChat)
			f.chat.err = errors.New("FLOOD_WAIT")

			_, err := f.machine.Apply(context.Background(), testChat, alice, action)
			assert.Equal(t, KindRemoteRejection, KindOf(err))
			assert.Equal(t, before, f.store.snapshot(testChat))
			assert.Empty(t, f.store.deleted)
			assert.Equal(t, []string{"sync"}, f.events.list())
			assert.Equal(t, title, f.chat.title(testChat))
		})
	}
}

func TestSyncTimeoutIsRejection(t *testing.T) {
	ev := &events{}
	store := newFakeStore(ev)
	chat := newFakeChat(ev)
	m := NewMachine(store, NewTitleSync(chat, 20*time.Millisecond), chat, " | ")
	chat.titles[testChat] = "T"
	_, err := m.Apply(context.Background(), testChat, alice, Action{Kind: KindInit, Text: "T"})
	require.NoError(t, err)

	chat.block = true
	_, err = m.Apply(context.Background(), testChat, alice, Action{Kind: KindPush, Text: "a"})
	assert.Equal(t, KindRemoteRejection, KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, store.snapshot(testChat).Subtopics)
}

func TestPersistenceFailureReported(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T")
	f.store.saveErr = errors.New("disk I/O error")

	_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindPush, Text: "a"})
	assert.Equal(t, KindPersistence, KindOf(err))
	// 远端已修改，这是接受的不一致窗口
	assert.Equal(t, "T | a", f.chat.title(testChat))
}

func TestOrphanDeleteFailureReported(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a")
	f.store.deleteErr = errors.New("locked")

	_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindPop})
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Empty(t, f.store.snapshot(testChat).Subtopics)
}

func TestUnset(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a", "b")

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindUnset})
	require.NoError(t, err)
	assert.Nil(t, res.Topic)
	assert.Nil(t, f.store.snapshot(testChat))
	assert.Equal(t, []string{"delete-topic"}, f.events.list())

	// 取消后可以重新初始化
	_, err = f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindInit, Text: "T"})
	assert.NoError(t, err)
}

func TestFix(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a")
	saves := f.store.saves
	f.chat.titles[testChat] = "vandalized"

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindFix})
	require.NoError(t, err)
	assert.Equal(t, "T | a", res.Title)
	assert.Equal(t, "T | a", f.chat.title(testChat))
	assert.Equal(t, saves, f.store.saves)
	assert.Equal(t, []string{"sync"}, f.events.list())
}

func TestFix_AlreadyInSync(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a")
	calls := f.chat.callCount()

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindFix})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Equal(t, "Title is already T | a", res.Message)
	assert.Equal(t, calls, f.chat.callCount())
}

func TestSameTitleSkipsRemoteCall(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a")
	calls := f.chat.callCount()

	res, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindSet, Text: "T"})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.Equal(t, calls, f.chat.callCount())
}

func TestTitleTooLong(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T")

	_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindPush, Text: strings.Repeat("x", MaxTitleLength)})
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Empty(t, f.events.list())
}

func TestNeedsText(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T")

	for _, kind := range []Kind{KindSet, KindPush, KindUnshift} {
		_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: kind, Text: "   "})
		assert.Equal(t, KindPrecondition, KindOf(err), kind.String())
	}
}

func TestReassert(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a")
	ctx := context.Background()

	// 自己修改标题产生的通知
	changed, err := f.machine.Reassert(ctx, testChat, "T | a")
	require.NoError(t, err)
	assert.False(t, changed)

	f.chat.titles[testChat] = "hijacked"
	changed, err = f.machine.Reassert(ctx, testChat, "hijacked")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "T | a", f.chat.title(testChat))

	changed, err = f.machine.Reassert(ctx, -42, "whatever")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a")
	ctx := context.Background()
	calls := f.chat.callCount()

	changed, err := f.machine.Reconcile(ctx, testChat)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, calls, f.chat.callCount())

	f.chat.titles[testChat] = "hijacked"
	changed, err = f.machine.Reconcile(ctx, testChat)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "T | a", f.chat.title(testChat))

	changed, err = f.machine.Reconcile(ctx, -42)
	require.NoError(t, err)
	assert.False(t, changed)
}

// 巡检与并发操作互斥，巡检读到的总是操作完成后的群标题
func TestReconcileSerializedWithApply(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.machine.Apply(ctx, testChat, alice, Action{Kind: KindPush, Text: "s" + strconv.Itoa(i)})
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			changed, err := f.machine.Reconcile(ctx, testChat)
			assert.NoError(t, err)
			assert.False(t, changed)
		}()
	}
	wg.Wait()
	assert.Equal(t, f.machine.Render(f.store.snapshot(testChat)), f.chat.title(testChat))
}

func TestForget(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "Weekly Sync", "Budget", "Hiring")
	calls := f.chat.callCount()

	removed, err := f.machine.Forget(context.Background(), testChat)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, calls, f.chat.callCount())

	_, err = f.machine.Topic(context.Background(), testChat)
	assert.True(t, model.IsNotFound(err))

	removed, err = f.machine.Forget(context.Background(), testChat)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T", "a")
	calls := f.chat.callCount()

	title, err := f.machine.Preview(context.Background(), testChat, alice, Action{Kind: KindPush, Text: "b"})
	require.NoError(t, err)
	assert.Equal(t, "T | a | b", title)
	assert.Equal(t, calls, f.chat.callCount())
	assert.Equal(t, []string{"a"}, f.store.snapshot(testChat).SubtopicTexts())
	assert.Empty(t, f.events.list())
}

func TestConcurrentPushesSerialized(t *testing.T) {
	f := newFixture(t)
	f.initWith(t, "T")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.machine.Apply(context.Background(), testChat, alice, Action{Kind: KindPush, Text: string(rune('a' + i))})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored := f.store.snapshot(testChat)
	assert.Len(t, stored.Subtopics, n)
	assert.Equal(t, f.machine.Render(stored), f.chat.title(testChat))
	assert.Equal(t, 0, f.machine.locks.size())
}
