package model

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
)

// Subtopic 子主题，创建后文本不再修改
type Subtopic struct {
	ID           int
	ChatID       int64
	Text         string
	UserID       int64
	Username     string
	DateAdded    time.Time
	DateModified time.Time
	DateDeleted  *time.Time
}

// Topic 群主题，Subtopics 的顺序即渲染顺序
type Topic struct {
	ID           int
	ChatID       int64
	Text         string
	Separator    string
	Subtopics    []*Subtopic
	UserID       int64
	Username     string
	DateAdded    time.Time
	DateModified time.Time
	DateDeleted  *time.Time
}

// Clone 深拷贝，修改副本不会影响原主题
func (t *Topic) Clone() *Topic {
	c := *t
	c.Subtopics = make([]*Subtopic, len(t.Subtopics))
	for i, s := range t.Subtopics {
		sc := *s
		c.Subtopics[i] = &sc
	}
	return &c
}

// SubtopicTexts 按顺序返回子主题文本
func (t *Topic) SubtopicTexts() []string {
	texts := make([]string, len(t.Subtopics))
	for i, s := range t.Subtopics {
		texts[i] = s.Text
	}
	return texts
}

type TopicModel struct {
	drv *sql.Driver
}

func NewTopicModel(drv *sql.Driver) *TopicModel {
	return &TopicModel{drv: drv}
}

func (m *TopicModel) builder() *sql.DialectBuilder {
	return sql.Dialect(m.drv.Dialect())
}

// FindByChatID 查询群主题及其子主题，不存在时返回 ErrNotFound
func (m *TopicModel) FindByChatID(ctx context.Context, chatID int64) (*Topic, error) {
	b := m.builder()
	query, args := b.Select("id", "chat_id", "text", "separator", "subtopic_ids", "user_id", "username", "date_added", "date_modified").
		From(b.Table(topicsTable)).
		Where(sql.And(sql.EQ("chat_id", chatID), sql.IsNull("date_deleted"))).
		Limit(1).
		Query()

	topic, rawIDs, err := m.scanTopic(ctx, query, args)
	if err != nil {
		return nil, err
	}

	ids, err := decodeIDs(rawIDs)
	if err != nil {
		return nil, fmt.Errorf("解析子主题列表失败 (topicID=%d): %w", topic.ID, err)
	}
	subtopics, err := m.subtopicsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	// 以主题记录中的 ID 顺序为准；已删除的子主题跳过
	topic.Subtopics = make([]*Subtopic, 0, len(ids))
	for _, id := range ids {
		if s, ok := subtopics[id]; ok {
			topic.Subtopics = append(topic.Subtopics, s)
		}
	}
	return topic, nil
}

func (m *TopicModel) scanTopic(ctx context.Context, query string, args []any) (*Topic, string, error) {
	rows := &sql.Rows{}
	if err := m.drv.Query(ctx, query, args, rows); err != nil {
		return nil, "", err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, "", err
		}
		return nil, "", ErrNotFound
	}

	var (
		t        Topic
		rawIDs   string
		username stdsql.NullString
	)
	err := rows.Scan(&t.ID, &t.ChatID, &t.Text, &t.Separator, &rawIDs, &t.UserID, &username, &t.DateAdded, &t.DateModified)
	if err != nil {
		return nil, "", err
	}
	t.Username = username.String
	return &t, rawIDs, rows.Err()
}

func (m *TopicModel) subtopicsByID(ctx context.Context, ids []int) (map[int]*Subtopic, error) {
	result := make(map[int]*Subtopic, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	b := m.builder()
	query, qargs := b.Select("id", "chat_id", "text", "user_id", "username", "date_added", "date_modified").
		From(b.Table(subtopicsTable)).
		Where(sql.And(sql.In("id", args...), sql.IsNull("date_deleted"))).
		Query()

	rows := &sql.Rows{}
	if err := m.drv.Query(ctx, query, qargs, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s        Subtopic
			username stdsql.NullString
		)
		if err := rows.Scan(&s.ID, &s.ChatID, &s.Text, &s.UserID, &username, &s.DateAdded, &s.DateModified); err != nil {
			return nil, err
		}
		s.Username = username.String
		result[s.ID] = &s
	}
	return result, rows.Err()
}

// Save 级联保存：先插入新的子主题（ID 为 0），再插入或更新主题记录，同一事务内完成
func (m *TopicModel) Save(ctx context.Context, t *Topic) (err error) {
	tx, err := m.drv.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC().Truncate(time.Second)
	b := m.builder()
	for _, s := range t.Subtopics {
		if s.ID != 0 {
			continue
		}
		if s.DateAdded.IsZero() {
			s.DateAdded = now
		}
		if s.DateModified.IsZero() {
			s.DateModified = s.DateAdded
		}
		query, args := b.Insert(subtopicsTable).
			Columns("chat_id", "text", "user_id", "username", "date_added", "date_modified").
			Values(s.ChatID, s.Text, s.UserID, s.Username, s.DateAdded, s.DateModified).
			Query()
		id, err := insert(ctx, tx, query, args)
		if err != nil {
			return fmt.Errorf("插入子主题失败: %w", err)
		}
		s.ID = id
	}

	ids := make([]int, len(t.Subtopics))
	for i, s := range t.Subtopics {
		ids[i] = s.ID
	}
	rawIDs, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	if t.DateAdded.IsZero() {
		t.DateAdded = now
	}
	if t.DateModified.IsZero() {
		t.DateModified = t.DateAdded
	}

	if t.ID == 0 {
		query, args := b.Insert(topicsTable).
			Columns("chat_id", "text", "separator", "subtopic_ids", "user_id", "username", "date_added", "date_modified").
			Values(t.ChatID, t.Text, t.Separator, string(rawIDs), t.UserID, t.Username, t.DateAdded, t.DateModified).
			Query()
		id, err := insert(ctx, tx, query, args)
		if err != nil {
			return fmt.Errorf("插入主题失败: %w", err)
		}
		t.ID = id
	} else {
		query, args := b.Update(topicsTable).
			Set("text", t.Text).
			Set("separator", t.Separator).
			Set("subtopic_ids", string(rawIDs)).
			Set("user_id", t.UserID).
			Set("username", t.Username).
			Set("date_modified", t.DateModified).
			Where(sql.EQ("id", t.ID)).
			Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("更新主题失败: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteSubtopics 软删除子主题（标记 date_deleted），调用方需先保存不再引用它们的主题
func (m *TopicModel) DeleteSubtopics(ctx context.Context, subtopics []*Subtopic) error {
	if len(subtopics) == 0 {
		return nil
	}

	now := time.Now().UTC().Truncate(time.Second)
	args := make([]any, len(subtopics))
	for i, s := range subtopics {
		args[i] = s.ID
	}
	query, qargs := m.builder().Update(subtopicsTable).
		Set("date_deleted", now).
		Set("date_modified", now).
		Where(sql.In("id", args...)).
		Query()
	if err := m.drv.Exec(ctx, query, qargs, nil); err != nil {
		return err
	}

	for _, s := range subtopics {
		s.DateDeleted = &now
		s.DateModified = now
	}
	return nil
}

// Delete 删除主题及该群的全部子主题
func (m *TopicModel) Delete(ctx context.Context, t *Topic) error {
	_, err := m.DeleteByChatID(ctx, t.ChatID)
	return err
}

// DeleteByChatID 删除群的主题及全部子主题，返回删除的主题数
func (m *TopicModel) DeleteByChatID(ctx context.Context, chatID int64) (n int, err error) {
	tx, err := m.drv.Tx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	b := m.builder()
	query, args := b.Delete(subtopicsTable).Where(sql.EQ("chat_id", chatID)).Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return 0, fmt.Errorf("删除子主题失败: %w", err)
	}

	var res stdsql.Result
	query, args = b.Delete(topicsTable).Where(sql.EQ("chat_id", chatID)).Query()
	if err := tx.Exec(ctx, query, args, &res); err != nil {
		return 0, fmt.Errorf("删除主题失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(affected), tx.Commit()
}

// ChatIDs 返回所有启用了主题管理的群ID
func (m *TopicModel) ChatIDs(ctx context.Context) ([]int64, error) {
	b := m.builder()
	query, args := b.Select("chat_id").
		From(b.Table(topicsTable)).
		Where(sql.IsNull("date_deleted")).
		OrderBy("id").
		Query()

	rows := &sql.Rows{}
	if err := m.drv.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	chatIDs := make([]int64, 0)
	for rows.Next() {
		var chatID int64
		if err := rows.Scan(&chatID); err != nil {
			return nil, err
		}
		chatIDs = append(chatIDs, chatID)
	}
	return chatIDs, rows.Err()
}

func insert(ctx context.Context, tx dialect.ExecQuerier, query string, args []any) (int, error) {
	var res stdsql.Result
	if err := tx.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

func decodeIDs(raw string) ([]int, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var ids []int
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
