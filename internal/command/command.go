package command

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fachebot/chat-topic-bot/internal/topic"
	"github.com/spf13/pflag"
)

// Op 命令的类别
type Op int

const (
	// OpShow 不带参数，展示当前主题
	OpShow Op = iota
	// OpAction 修改主题
	OpAction
	// OpSuggest 由 LLM 根据引用的消息生成子主题
	OpSuggest
	// OpHelp 显示帮助
	OpHelp
)

// Command 解析后的命令
type Command struct {
	Op    Op
	Kind  topic.Kind // 仅 OpAction
	Text  string     // 命令后的文本，未提供时由调用方回退到被回复的消息
	Index int        // --remove 的目标，从 0 开始
}

// 动作标志与操作类型的对应关系，顺序即帮助中的顺序
var actionFlags = []struct {
	name  string
	kind  topic.Kind
	usage string
}{
	{"init", topic.KindInit, "start managing the title, with text or the current chat title"},
	{"set", topic.KindSet, "replace the topic text"},
	{"unset", topic.KindUnset, "stop managing the title and forget all subtopics"},
	{"push", topic.KindPush, "append a subtopic"},
	{"pop", topic.KindPop, "remove the last subtopic"},
	{"shift", topic.KindShift, "remove the first subtopic"},
	{"unshift", topic.KindUnshift, "prepend a subtopic"},
	{"pop-all", topic.KindClear, "remove all subtopics"},
	{"fix", topic.KindFix, "restore the chat title from the stored topic"},
}

// ErrNotCommand 消息不是本命令
var ErrNotCommand = errors.New("command: not a topic command")

// Parser 解析 "/topic[@bot] --flag [text]"
type Parser struct {
	name string
	bot  string
}

// NewParser name 为不带 / 的命令名，bot 为机器人用户名（可为空）
func NewParser(name, bot string) *Parser {
	return &Parser{name: strings.ToLower(name), bot: strings.ToLower(strings.TrimPrefix(bot, "@"))}
}

// SetBot 登录后设置机器人用户名
func (p *Parser) SetBot(bot string) {
	p.bot = strings.ToLower(strings.TrimPrefix(bot, "@"))
}

// Name 命令名
func (p *Parser) Name() string {
	return p.name
}

// Match 判断消息是否为本命令
func (p *Parser) Match(text string) bool {
	_, ok := p.split(text)
	return ok
}

// Parse 解析消息文本。不是本命令时返回 ErrNotCommand
func (p *Parser) Parse(text string) (*Command, error) {
	rest, ok := p.split(text)
	if !ok {
		return nil, ErrNotCommand
	}

	// 标志只出现在文本之前，文本保持用户输入的原样
	args := fields(rest)
	n := flagEnd(args)
	flagArgs := make([]string, n)
	for i := range flagArgs {
		flagArgs[i] = args[i].text
	}
	text = ""
	if n < len(args) {
		start := n
		if args[start].text == "--" {
			start++
		}
		if start < len(args) {
			text = strings.TrimSpace(rest[args[start].start:])
		}
	}

	var (
		flags   = make(map[topic.Kind]*bool, len(actionFlags))
		remove  int
		suggest bool
		help    bool
	)
	fs := newFlagSet(p.name, flags, &remove, &suggest, &help)
	if err := fs.Parse(flagArgs); err != nil {
		return nil, fmt.Errorf("%s, see /%s --help", err, p.name)
	}

	if help {
		return &Command{Op: OpHelp}, nil
	}

	cmd := &Command{Text: text}
	selected := 0
	for _, f := range actionFlags {
		if *flags[f.kind] {
			selected++
			cmd.Op = OpAction
			cmd.Kind = f.kind
		}
	}
	if fs.Changed("remove") {
		selected++
		cmd.Op = OpAction
		cmd.Kind = topic.KindRemove
		cmd.Index = remove - 1
	}
	if suggest {
		selected++
		cmd.Op = OpSuggest
	}

	if selected > 1 {
		return nil, fmt.Errorf("use only one action at a time, see /%s --help", p.name)
	}
	if selected == 0 && text != "" {
		return nil, fmt.Errorf("put the action flag before the text, see /%s --help", p.name)
	}
	return cmd, nil
}

// Usage 帮助文本
func (p *Parser) Usage() string {
	fs := newFlagSet(p.name, make(map[topic.Kind]*bool), new(int), new(bool), new(bool))

	var b strings.Builder
	fmt.Fprintf(&b, "Usage: /%s [flag] [text]\n", p.name)
	fmt.Fprintf(&b, "Without a flag the current topic is shown. Text may also come from the message you reply to.\n\n")
	b.WriteString(fs.FlagUsages())
	return b.String()
}

func newFlagSet(name string, flags map[topic.Kind]*bool, remove *int, suggest, help *bool) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	fs.SetInterspersed(false)

	for _, f := range actionFlags {
		flags[f.kind] = fs.Bool(f.name, false, f.usage)
	}
	fs.IntVar(remove, "remove", 0, "remove the N-th subtopic, counting from 1")
	fs.BoolVar(suggest, "suggest", false, "suggest a subtopic from the replied message")
	fs.BoolVarP(help, "help", "h", false, "show this help")
	return fs
}

// split 返回命令名之后的原始文本，第二个返回值表示是否匹配
func (p *Parser) split(text string) (string, bool) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	head, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, rest = text[:i], text[i:]
	}

	name, bot, _ := strings.Cut(strings.ToLower(head[1:]), "@")
	if name != p.name {
		return "", false
	}
	if bot != "" && p.bot != "" && bot != p.bot {
		return "", false
	}
	return rest, true
}

// field 参数及其在原文中的起始位置
type field struct {
	text  string
	start int
}

func fields(s string) []field {
	var (
		out   []field
		start = -1
	)
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, field{text: s[start:i], start: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, field{text: s[start:], start: start})
	}
	return out
}

// flagEnd 返回开头连续标志（含 --remove 的值）的个数
func flagEnd(args []field) int {
	for i := 0; i < len(args); i++ {
		a := args[i].text
		if !isFlag(a) {
			return i
		}
		if a == "--remove" && i+1 < len(args) {
			i++
		}
	}
	return len(args)
}

// isFlag "-5" 这类以短横线开头的数字属于文本
func isFlag(arg string) bool {
	if strings.HasPrefix(arg, "--") {
		return len(arg) > 2
	}
	if len(arg) < 2 || arg[0] != '-' {
		return false
	}
	r, _ := utf8.DecodeRuneInString(arg[1:])
	return unicode.IsLetter(r)
}
