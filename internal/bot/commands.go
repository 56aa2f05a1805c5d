package bot

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/Zippland/Bubbles/internal/channel"
	"github.com/Zippland/Bubbles/internal/events"
	"github.com/Zippland/Bubbles/internal/session"
)

const sessionHelp = "Session 命令:\n" +
	"  /session setup - 交互式配置\n" +
	"  /session info - 查看信息\n" +
	"  /session list - 列出所有 session\n" +
	"  /session model <编号|名称> - 设置模型\n" +
	"  /session persona <文本> - 设置人设\n" +
	"  /session bind <key> - 绑定到 session\n" +
	"  /session unbind - 解除绑定\n" +
	"  /session clear - 清空历史"

// handleCommand runs a /session command.
func (b *Bot) handleCommand(ctx context.Context, msg *channel.Message, alias string) {
	chatID := msg.ChatID()
	parts := splitN(msg.Content, 3)
	if len(parts) < 2 {
		b.notify(ctx, chatID, sessionHelp)
		return
	}
	arg := ""
	if len(parts) == 3 {
		arg = parts[2]
	}

	var reply string
	switch cmd := strings.ToLower(parts[1]); {
	case cmd == "setup":
		reply = b.startSetup(alias)
	case cmd == "bind" && arg != "":
		reply = b.cmdBind(ctx, alias, arg)
	case cmd == "unbind":
		reply = b.cmdUnbind(ctx, alias)
	case cmd == "info":
		reply = b.cmdInfo(alias)
	case cmd == "list":
		reply = b.cmdList()
	case cmd == "model" && arg != "":
		reply = b.cmdModel(ctx, alias, arg)
	case cmd == "persona" && arg != "":
		reply = b.cmdPersona(ctx, alias, arg)
	case cmd == "clear":
		reply = b.cmdClear(ctx, alias)
	default:
		reply = "未知命令: " + cmd
	}
	b.notify(ctx, chatID, reply)
}

func (b *Bot) cmdBind(ctx context.Context, alias, key string) string {
	s, err := b.sessions.Bind(ctx, key, alias)
	if err != nil {
		return "绑定失败: " + err.Error()
	}
	b.bus.Emit(events.SourceSession, events.KindSessionBound, map[string]any{"key": s.Key, "alias": alias})
	return fmt.Sprintf("已绑定到 session: %s\n别名: %s", s.Key, strings.Join(s.Aliases(), ", "))
}

func (b *Bot) cmdUnbind(ctx context.Context, alias string) string {
	if !b.sessions.Unbind(ctx, alias) {
		return "当前会话未绑定"
	}
	b.bus.Emit(events.SourceSession, events.KindSessionUnbound, map[string]any{"alias": alias})
	return "已解除绑定"
}

func (b *Bot) cmdInfo(alias string) string {
	s := b.sessions.Get(alias)
	if s == nil {
		return "当前会话未配置，发送 /session setup 开始配置"
	}
	cfg := s.Config()
	aliases := strings.Join(s.Aliases(), ", ")
	if aliases == "" {
		aliases = "无"
	}
	return fmt.Sprintf("Session: %s\n别名: %s\n模型: %s\n历史: %d 条\n消息数: %d\n人设: %s",
		s.Key, aliases, b.modelName(cfg.ModelID), cfg.MaxHistory, s.Len(), setOrNot(cfg.Persona != ""))
}

func (b *Bot) cmdList() string {
	sums := b.sessions.List()
	if len(sums) == 0 {
		return "暂无 session"
	}
	lines := []string{"所有 Session:"}
	for _, s := range sums {
		aliases := strings.Join(s.Aliases, ", ")
		if aliases == "" {
			aliases = "无"
		}
		lines = append(lines, fmt.Sprintf("  %s (%s)", s.Key, aliases))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) cmdModel(ctx context.Context, alias, query string) string {
	if b.router == nil {
		return noticeNoModel
	}
	m, ok := b.router.Lookup(query)
	if !ok {
		return "无效模型，可用: " + b.modelOptions(", ")
	}
	id := m.ID
	if _, err := b.configure(ctx, alias, session.ConfigUpdate{ModelID: &id}); err != nil {
		return "设置失败: " + err.Error()
	}
	return "已设置模型: " + m.Name
}

func (b *Bot) cmdPersona(ctx context.Context, alias, text string) string {
	if _, err := b.configure(ctx, alias, session.ConfigUpdate{Persona: &text}); err != nil {
		return "设置失败: " + err.Error()
	}
	return "人设已设置"
}

func (b *Bot) cmdClear(ctx context.Context, alias string) string {
	s, err := b.sessions.GetOrCreate(ctx, alias, b.cfg.MaxHistory, false)
	if err != nil {
		return "清空失败: " + err.Error()
	}
	s.Clear()
	return "已清空消息历史"
}

func (b *Bot) configure(ctx context.Context, alias string, u session.ConfigUpdate) (*session.Session, error) {
	s, err := b.sessions.SetConfig(ctx, alias, u)
	if err != nil {
		return nil, err
	}
	b.bus.Emit(events.SourceSession, events.KindSessionConfigured, map[string]any{"key": s.Key})
	return s, nil
}

// modelName renders a session's model choice.
func (b *Bot) modelName(id *int) string {
	if id == nil {
		return "默认"
	}
	if b.router != nil {
		if m, ok := b.router.Get(*id); ok {
			return m.Name
		}
	}
	return fmt.Sprintf("ID:%d", *id)
}

// modelOptions lists "id - name" entries joined by sep.
func (b *Bot) modelOptions(sep string) string {
	if b.router == nil {
		return ""
	}
	var opts []string
	for _, m := range b.router.Models() {
		opts = append(opts, fmt.Sprintf("%d - %s", m.ID, m.Name))
	}
	return strings.Join(opts, sep)
}

func setOrNot(set bool) string {
	if set {
		return "已设置"
	}
	return "未设置"
}

// splitN splits s on runs of whitespace into at most n fields; the last
// field keeps its inner spacing.
func splitN(s string, n int) []string {
	var out []string
	s = strings.TrimSpace(s)
	for s != "" && len(out) < n-1 {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			break
		}
		out = append(out, s[:i])
		s = strings.TrimLeftFunc(s[i:], unicode.IsSpace)
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
