package model

import (
	"context"
	stdsql "database/sql"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

// PendingAction 等待按钮确认的操作，按钮回调中只携带其 ID
type PendingAction struct {
	ID        string
	ChatID    int64
	Action    string
	Text      string
	Index     int
	UserID    int64
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type PendingActionModel struct {
	drv *sql.Driver
}

func NewPendingActionModel(drv *sql.Driver) *PendingActionModel {
	return &PendingActionModel{drv: drv}
}

// Create 保存待确认操作，ID 为空时生成 UUID
func (m *PendingActionModel) Create(ctx context.Context, a *PendingAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.CreatedAt = a.CreatedAt.UTC().Truncate(time.Second)
	a.ExpiresAt = a.ExpiresAt.UTC().Truncate(time.Second)

	query, args := sql.Dialect(m.drv.Dialect()).Insert(pendingActionsTable).
		Columns("id", "chat_id", "action", "text", "target_index", "user_id", "username", "created_at", "expires_at").
		Values(a.ID, a.ChatID, a.Action, a.Text, a.Index, a.UserID, a.Username, a.CreatedAt, a.ExpiresAt).
		Query()
	return m.drv.Exec(ctx, query, args, nil)
}

// Take 取出并删除待确认操作，每个操作只能被确认一次；过期或不存在时返回 ErrNotFound
func (m *PendingActionModel) Take(ctx context.Context, id string, chatID int64, now time.Time) (a *PendingAction, err error) {
	tx, err := m.drv.Tx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	b := sql.Dialect(m.drv.Dialect())
	query, args := b.Select("id", "chat_id", "action", "text", "target_index", "user_id", "username", "created_at", "expires_at").
		From(b.Table(pendingActionsTable)).
		Where(sql.And(sql.EQ("id", id), sql.EQ("chat_id", chatID))).
		Query()

	rows := &sql.Rows{}
	if err := tx.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	if !rows.Next() {
		err := rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var (
		pending  PendingAction
		username stdsql.NullString
	)
	err = rows.Scan(&pending.ID, &pending.ChatID, &pending.Action, &pending.Text, &pending.Index,
		&pending.UserID, &username, &pending.CreatedAt, &pending.ExpiresAt)
	rows.Close()
	if err != nil {
		return nil, err
	}
	pending.Username = username.String

	query, args = b.Delete(pendingActionsTable).Where(sql.EQ("id", id)).Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if !now.Before(pending.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &pending, nil
}

// Delete 删除待确认操作（取消）
func (m *PendingActionModel) Delete(ctx context.Context, id string, chatID int64) error {
	query, args := sql.Dialect(m.drv.Dialect()).Delete(pendingActionsTable).
		Where(sql.And(sql.EQ("id", id), sql.EQ("chat_id", chatID))).
		Query()
	return m.drv.Exec(ctx, query, args, nil)
}

// DeleteExpired 清理已过期的待确认操作
func (m *PendingActionModel) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	query, args := sql.Dialect(m.drv.Dialect()).Delete(pendingActionsTable).
		Where(sql.LTE("expires_at", now.UTC().Truncate(time.Second))).
		Query()

	var res stdsql.Result
	if err := m.drv.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
