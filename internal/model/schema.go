package model

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	topicsTable         = "topics"
	subtopicsTable      = "subtopics"
	pendingActionsTable = "pending_actions"
)

var (
	// TopicsColumns 主题表字段
	TopicsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "chat_id", Type: field.TypeInt64},
		{Name: "text", Type: field.TypeString, Size: 255},
		{Name: "separator", Type: field.TypeString, Size: 32},
		{Name: "subtopic_ids", Type: field.TypeJSON},
		{Name: "user_id", Type: field.TypeInt64},
		{Name: "username", Type: field.TypeString, Nullable: true},
		{Name: "date_added", Type: field.TypeTime},
		{Name: "date_modified", Type: field.TypeTime},
		{Name: "date_deleted", Type: field.TypeTime, Nullable: true},
	}
	TopicsTable = &schema.Table{
		Name:       topicsTable,
		Columns:    TopicsColumns,
		PrimaryKey: []*schema.Column{TopicsColumns[0]},
		Indexes: []*schema.Index{
			// 唯一索引：每个群最多一个主题
			{Name: "topic_chat_id", Unique: true, Columns: []*schema.Column{TopicsColumns[1]}},
		},
	}

	// SubtopicsColumns 子主题表字段
	SubtopicsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "chat_id", Type: field.TypeInt64},
		{Name: "text", Type: field.TypeString, Size: 255},
		{Name: "user_id", Type: field.TypeInt64},
		{Name: "username", Type: field.TypeString, Nullable: true},
		{Name: "date_added", Type: field.TypeTime},
		{Name: "date_modified", Type: field.TypeTime},
		{Name: "date_deleted", Type: field.TypeTime, Nullable: true},
	}
	SubtopicsTable = &schema.Table{
		Name:       subtopicsTable,
		Columns:    SubtopicsColumns,
		PrimaryKey: []*schema.Column{SubtopicsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "subtopic_chat_id", Columns: []*schema.Column{SubtopicsColumns[1]}},
		},
	}

	// PendingActionsColumns 待确认操作表字段
	PendingActionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "chat_id", Type: field.TypeInt64},
		{Name: "action", Type: field.TypeString, Size: 16},
		{Name: "text", Type: field.TypeString, Size: 4096},
		{Name: "target_index", Type: field.TypeInt},
		{Name: "user_id", Type: field.TypeInt64},
		{Name: "username", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "expires_at", Type: field.TypeTime},
	}
	PendingActionsTable = &schema.Table{
		Name:       pendingActionsTable,
		Columns:    PendingActionsColumns,
		PrimaryKey: []*schema.Column{PendingActionsColumns[0]},
		Indexes: []*schema.Index{
			// 索引：用于清理过期操作
			{Name: "pendingaction_expires_at", Columns: []*schema.Column{PendingActionsColumns[8]}},
		},
	}

	Tables = []*schema.Table{
		TopicsTable,
		SubtopicsTable,
		PendingActionsTable,
	}
)

// Open 打开数据库并创建/升级表结构
func Open(ctx context.Context, driverName, dsn string) (*sql.Driver, error) {
	drv, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, drv); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return drv, nil
}

// Migrate 根据 Tables 创建或升级表结构
func Migrate(ctx context.Context, drv *sql.Driver) error {
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("model/migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("model/migrate: %w", err)
	}
	return nil
}
