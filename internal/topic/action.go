package topic

import "fmt"

// Kind 主题操作类型
type Kind int

const (
	KindInit Kind = iota + 1
	KindSet
	KindUnset
	KindPush
	KindPop
	KindShift
	KindUnshift
	KindRemove
	KindClear
	KindFix
)

var kindNames = map[Kind]string{
	KindInit:    "init",
	KindSet:     "set",
	KindUnset:   "unset",
	KindPush:    "push",
	KindPop:     "pop",
	KindShift:   "shift",
	KindUnshift: "unshift",
	KindRemove:  "remove",
	KindClear:   "clear",
	KindFix:     "fix",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind 按名称解析操作类型
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown topic action %q", name)
}

// NeedsText 该操作是否需要文本参数
func (k Kind) NeedsText() bool {
	switch k {
	case KindSet, KindPush, KindUnshift:
		return true
	}
	return false
}

// Action 一次用户操作。Index 仅用于 KindRemove；
// ExpectID 非 0 时要求 Index 位置的子主题 ID 与之相同（防止按钮过期）
type Action struct {
	Kind     Kind
	Text     string
	Index    int
	ExpectID int
}

// Actor 操作者
type Actor struct {
	ID   int64
	Name string
}
