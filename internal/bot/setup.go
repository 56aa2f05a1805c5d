package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Zippland/Bubbles/internal/channel"
	"github.com/Zippland/Bubbles/internal/events"
	"github.com/Zippland/Bubbles/internal/session"
)

// Setup history bounds.
const (
	setupMinHistory = 5
	setupMaxHistory = 200
)

type setupStep int

const (
	stepModel setupStep = iota
	stepHistory
	stepPersona
	stepName
)

// setupState is one conversation's progress through /session setup.
type setupState struct {
	step       setupStep
	modelID    *int
	maxHistory int
	persona    string
}

func (b *Bot) startSetup(alias string) string {
	b.mu.Lock()
	b.setup[alias] = &setupState{step: stepModel, maxHistory: session.DefaultMaxHistory}
	b.mu.Unlock()

	return "开始配置 Session\n" +
		"━━━━━━━━━━━━━━━━\n" +
		"第 1 步：选择 AI 模型\n\n" +
		"可用模型:\n  " + b.modelOptions("\n  ") + "\n\n" +
		"请输入模型编号（或输入 skip 跳过使用默认）:"
}

func (b *Bot) setupFor(alias string) *setupState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setup[alias]
}

func (b *Bot) endSetup(alias string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.setup, alias)
}

// handleSetupInput consumes msg when the conversation is in the middle
// of setup. It reports whether the message was consumed.
func (b *Bot) handleSetupInput(ctx context.Context, msg *channel.Message, alias string) bool {
	st := b.setupFor(alias)
	if st == nil {
		return false
	}
	chatID := msg.ChatID()
	input := strings.TrimSpace(msg.Content)
	skip := strings.EqualFold(input, "skip")

	if strings.EqualFold(input, "cancel") {
		b.endSetup(alias)
		b.notify(ctx, chatID, "配置已取消")
		return true
	}

	switch st.step {
	case stepModel:
		if !skip {
			id, err := strconv.Atoi(input)
			if err != nil {
				b.notify(ctx, chatID, "请输入数字编号:")
				return true
			}
			if b.router == nil {
				b.notify(ctx, chatID, "无效的模型编号，请重新输入:")
				return true
			}
			if _, ok := b.router.Get(id); !ok {
				b.notify(ctx, chatID, "无效的模型编号，请重新输入:")
				return true
			}
			st.modelID = &id
		}
		st.step = stepHistory
		b.notify(ctx, chatID, "第 2 步：历史消息数量\n\n"+
			"AI 回复时会参考最近多少条消息？\n"+
			"建议: 20-50 条\n\n"+
			fmt.Sprintf("请输入数字（或 skip 使用默认 %d）:", session.DefaultMaxHistory))

	case stepHistory:
		if !skip {
			n, err := strconv.Atoi(input)
			if err != nil {
				b.notify(ctx, chatID, "请输入数字:")
				return true
			}
			st.maxHistory = min(max(n, setupMinHistory), setupMaxHistory)
		}
		st.step = stepPersona
		b.notify(ctx, chatID, "第 3 步：设置人设（可选）\n\n"+
			"给 AI 一个性格或角色设定，例如:\n"+
			"「你是一个幽默风趣的助手，喜欢用表情包」\n"+
			"「你是一位专业的程序员，擅长 Go」\n\n"+
			"请输入人设文本（或 skip 跳过）:")

	case stepPersona:
		if !skip {
			st.persona = input
		}
		st.step = stepName
		b.notify(ctx, chatID, "第 4 步：Session 名称（可选）\n\n"+
			"给这个会话起个名字，方便跨设备同步。\n"+
			"例如: work、personal、coding\n\n"+
			"请输入名称（或 skip 使用默认）:")

	case stepName:
		b.finishSetup(ctx, chatID, alias, st, input, skip)
	}
	return true
}

func (b *Bot) finishSetup(ctx context.Context, chatID, alias string, st *setupState, name string, skip bool) {
	defer b.endSetup(alias)

	if !skip && name != "" {
		key := "user:" + name
		if _, err := b.sessions.Bind(ctx, key, alias); err != nil {
			b.notify(ctx, chatID, "配置失败: "+err.Error())
			return
		}
		b.bus.Emit(events.SourceSession, events.KindSessionBound, map[string]any{"key": key, "alias": alias})
	} else if _, err := b.sessions.GetOrCreate(ctx, alias, st.maxHistory, false); err != nil {
		b.notify(ctx, chatID, "配置失败: "+err.Error())
		return
	}

	u := session.ConfigUpdate{MaxHistory: &st.maxHistory}
	if st.modelID != nil {
		u.ModelID = st.modelID
	} else {
		u.ClearModel = true
	}
	if st.persona != "" {
		u.Persona = &st.persona
	}
	s, err := b.configure(ctx, alias, u)
	if err != nil {
		b.notify(ctx, chatID, "配置失败: "+err.Error())
		return
	}

	b.notify(ctx, chatID, fmt.Sprintf("配置完成！\n"+
		"━━━━━━━━━━━━━━━━\n"+
		"Session: %s\n模型: %s\n历史: %d 条\n人设: %s\n\n"+
		"现在可以开始对话了！",
		s.Key, b.modelName(st.modelID), st.maxHistory, setOrNot(st.persona != "")))
}
