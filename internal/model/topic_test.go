package model

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.Driver {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=rwc&_fk=1", filepath.Join(t.TempDir(), "test.db"))
	drv, err := Open(context.Background(), dialect.SQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	return drv
}

func newSubtopic(chatID int64, text string) *Subtopic {
	return &Subtopic{ChatID: chatID, Text: text, UserID: 7, Username: "alice"}
}

func TestTopicModel_FindByChatID_NotFound(t *testing.T) {
	m := NewTopicModel(openTestDB(t))

	topic, err := m.FindByChatID(context.Background(), -100)
	assert.Nil(t, topic)
	assert.True(t, IsNotFound(err))
}

func TestTopicModel_SaveCascadeAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewTopicModel(openTestDB(t))

	topic := &Topic{ChatID: -100, Text: "Weekly Sync", Separator: " | ", UserID: 7, Username: "alice"}
	require.NoError(t, m.Save(ctx, topic))
	assert.NotZero(t, topic.ID)

	topic.Subtopics = append(topic.Subtopics, newSubtopic(-100, "Budget"), newSubtopic(-100, "Hiring"))
	require.NoError(t, m.Save(ctx, topic))
	for _, s := range topic.Subtopics {
		assert.NotZero(t, s.ID)
	}

	// 前插：顺序由主题记录决定，而不是子主题 ID
	topic.Subtopics = append([]*Subtopic{newSubtopic(-100, "Intro")}, topic.Subtopics...)
	require.NoError(t, m.Save(ctx, topic))

	loaded, err := m.FindByChatID(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, topic.ID, loaded.ID)
	assert.Equal(t, "Weekly Sync", loaded.Text)
	assert.Equal(t, " | ", loaded.Separator)
	assert.Equal(t, "alice", loaded.Username)
	assert.Equal(t, []string{"Intro", "Budget", "Hiring"}, loaded.SubtopicTexts())
}

func TestTopicModel_UniqueChatID(t *testing.T) {
	ctx := context.Background()
	m := NewTopicModel(openTestDB(t))

	require.NoError(t, m.Save(ctx, &Topic{ChatID: -100, Text: "a", Separator: " | "}))
	err := m.Save(ctx, &Topic{ChatID: -100, Text: "b", Separator: " | "})
	require.Error(t, err)
	assert.True(t, IsConstraintError(err))
}

func TestTopicModel_DeleteSubtopicsAfterSave(t *testing.T) {
	ctx := context.Background()
	m := NewTopicModel(openTestDB(t))

	topic := &Topic{ChatID: -100, Text: "Weekly Sync", Separator: " | "}
	topic.Subtopics = []*Subtopic{newSubtopic(-100, "Budget"), newSubtopic(-100, "Hiring")}
	require.NoError(t, m.Save(ctx, topic))

	removed := topic.Subtopics[0]
	topic.Subtopics = topic.Subtopics[1:]
	require.NoError(t, m.Save(ctx, topic))
	require.NoError(t, m.DeleteSubtopics(ctx, []*Subtopic{removed}))
	assert.NotNil(t, removed.DateDeleted)

	loaded, err := m.FindByChatID(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hiring"}, loaded.SubtopicTexts())
}

func TestTopicModel_OrphanNotVisible(t *testing.T) {
	ctx := context.Background()
	m := NewTopicModel(openTestDB(t))

	topic := &Topic{ChatID: -100, Text: "Weekly Sync", Separator: " | "}
	topic.Subtopics = []*Subtopic{newSubtopic(-100, "Budget")}
	require.NoError(t, m.Save(ctx, topic))

	// 主题已不再引用，即使子主题行还在也不可见
	topic.Subtopics = nil
	require.NoError(t, m.Save(ctx, topic))

	loaded, err := m.FindByChatID(ctx, -100)
	require.NoError(t, err)
	assert.Empty(t, loaded.Subtopics)
}

func TestTopicModel_DeleteByChatID(t *testing.T) {
	ctx := context.Background()
	m := NewTopicModel(openTestDB(t))

	topic := &Topic{ChatID: -100, Text: "Weekly Sync", Separator: " | "}
	topic.Subtopics = []*Subtopic{newSubtopic(-100, "Budget"), newSubtopic(-100, "Hiring")}
	require.NoError(t, m.Save(ctx, topic))
	require.NoError(t, m.Save(ctx, &Topic{ChatID: -200, Text: "Other", Separator: " | "}))

	n, err := m.DeleteByChatID(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.FindByChatID(ctx, -100)
	assert.True(t, IsNotFound(err))

	chatIDs, err := m.ChatIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{-200}, chatIDs)

	// 重新初始化不受唯一索引影响
	require.NoError(t, m.Save(ctx, &Topic{ChatID: -100, Text: "Again", Separator: " | "}))
}

func TestTopicClone(t *testing.T) {
	orig := &Topic{ChatID: 1, Text: "a", Subtopics: []*Subtopic{{ID: 1, Text: "x"}}}
	c := orig.Clone()
	c.Text = "b"
	c.Subtopics[0].Text = "y"
	c.Subtopics = append(c.Subtopics, &Subtopic{Text: "z"})

	assert.Equal(t, "a", orig.Text)
	assert.Equal(t, []string{"x"}, orig.SubtopicTexts())
}

func TestPendingActionModel_TakeOnce(t *testing.T) {
	ctx := context.Background()
	m := NewPendingActionModel(openTestDB(t))
	now := time.Now()

	a := &PendingAction{ChatID: -100, Action: "push", Text: "Budget", UserID: 7, Username: "alice", ExpiresAt: now.Add(10 * time.Minute)}
	require.NoError(t, m.Create(ctx, a))
	assert.Len(t, a.ID, 36)

	// 其他群不能取走
	_, err := m.Take(ctx, a.ID, -200, now)
	assert.True(t, IsNotFound(err))

	got, err := m.Take(ctx, a.ID, -100, now)
	require.NoError(t, err)
	assert.Equal(t, "push", got.Action)
	assert.Equal(t, "Budget", got.Text)
	assert.Equal(t, "alice", got.Username)

	_, err = m.Take(ctx, a.ID, -100, now)
	assert.True(t, IsNotFound(err))
}

func TestPendingActionModel_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewPendingActionModel(openTestDB(t))
	now := time.Now()

	expired := &PendingAction{ChatID: -100, Action: "set", Text: "old", ExpiresAt: now.Add(-time.Minute)}
	live := &PendingAction{ChatID: -100, Action: "set", Text: "new", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, m.Create(ctx, expired))
	require.NoError(t, m.Create(ctx, live))

	_, err := m.Take(ctx, expired.ID, -100, now)
	assert.True(t, IsNotFound(err))

	n, err := m.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
