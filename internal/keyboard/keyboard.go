package keyboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxCallbackData Telegram 回调数据的最大字节数
const MaxCallbackData = 64

var (
	// ErrForeign 回调数据不属于本插件
	ErrForeign = errors.New("keyboard: foreign callback data")
	// ErrMalformed 回调数据格式错误
	ErrMalformed = errors.New("keyboard: malformed callback data")
)

// Button 与传输层无关的按钮，Data 为编码后的回调数据
type Button struct {
	Label string
	Data  string
}

// Markup 按行排列的按钮
type Markup [][]Button

// Empty 是否没有任何按钮
func (m Markup) Empty() bool {
	for _, row := range m {
		if len(row) > 0 {
			return false
		}
	}
	return true
}

// Callback 解码后的回调
type Callback struct {
	Action string
	Data   string
}

// Factory 生成与解析 "name:action:data" 格式的回调数据
type Factory struct {
	name string
}

func NewFactory(name string) *Factory {
	return &Factory{name: name}
}

// Button 创建按钮，回调数据超过长度限制时返回错误
func (f *Factory) Button(label, action, data string) (Button, error) {
	encoded := f.name + ":" + action + ":" + data
	if len(encoded) > MaxCallbackData {
		return Button{}, fmt.Errorf("keyboard: callback data too long (%d bytes): %s", len(encoded), encoded)
	}
	return Button{Label: label, Data: encoded}, nil
}

// Parse 解析回调数据
func (f *Factory) Parse(raw string) (*Callback, error) {
	name, rest, ok := strings.Cut(raw, ":")
	if !ok || name != f.name {
		return nil, ErrForeign
	}

	action, data, ok := strings.Cut(rest, ":")
	if !ok || action == "" {
		return nil, ErrMalformed
	}
	return &Callback{Action: action, Data: data}, nil
}

// RemoveData 编码删除按钮的数据：位置与子主题 ID
func RemoveData(index, subtopicID int) string {
	return strconv.Itoa(index) + "." + strconv.Itoa(subtopicID)
}

// ParseRemoveData 解析 RemoveData 生成的数据
func ParseRemoveData(data string) (index, subtopicID int, err error) {
	a, b, ok := strings.Cut(data, ".")
	if !ok {
		return 0, 0, ErrMalformed
	}
	if index, err = strconv.Atoi(a); err != nil || index < 0 {
		return 0, 0, ErrMalformed
	}
	if subtopicID, err = strconv.Atoi(b); err != nil || subtopicID <= 0 {
		return 0, 0, ErrMalformed
	}
	return index, subtopicID, nil
}
