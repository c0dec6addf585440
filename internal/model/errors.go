package model

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("model: not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConstraintError 判断是否违反唯一约束（如同一群重复创建主题）
func IsConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
