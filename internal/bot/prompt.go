package bot

import (
	"fmt"
	"time"

	"github.com/Zippland/Bubbles/internal/llm"
	"github.com/Zippland/Bubbles/internal/session"
)

const toolGuidance = "\n\n## 工具使用指引\n" +
	"你可以调用工具来辅助回答，以下是决策原则：\n" +
	"- 用户询问需要最新信息、实时数据、或你不确定的事实 → 调用 web_search\n" +
	"- 用户想设置/查看/删除提醒 → 调用 reminder_create / reminder_list / reminder_delete\n" +
	"- 用户提到之前聊过的内容、或你需要回顾更早的对话 → 调用 lookup_chat_history\n" +
	"- 日常闲聊、观点讨论、情感交流 → 直接回复，不需要调用任何工具\n"

// systemPrompt picks the explicit prompt, else one built from persona,
// and appends the tool guidance.
func systemPrompt(explicit, persona string) string {
	switch {
	case explicit != "":
		return explicit + toolGuidance
	case persona != "":
		return personaPrompt(persona) + toolGuidance
	default:
		return toolGuidance
	}
}

func personaPrompt(persona string) string {
	return "# 角色设定\n请始终以下面的人设与用户交流，保持语气和身份一致：\n" + persona
}

// userLine is how a message is quoted to the model and kept in the
// session window.
func userLine(now time.Time, sender, content string) string {
	return fmt.Sprintf("[%s] %s: %s", now.Format("15:04"), sender, content)
}

func latestPrompt(line string) string {
	return "# 本轮需要回复的用户及其最新信息\n" +
		"请你基于下面这条最新收到的用户讯息直接进行自然的中文回复：\n" +
		"「" + line + "」\n" +
		"请只针对该用户进行回复。"
}

// buildMessages assembles a turn: system prompt, current time, the
// session window (user and assistant entries only) and the new message.
func buildMessages(explicit, persona string, now time.Time, hist []session.Message, line string) []llm.Message {
	msgs := make([]llm.Message, 0, len(hist)+3)
	msgs = append(msgs,
		llm.Message{Role: llm.RoleSystem, Content: systemPrompt(explicit, persona)},
		llm.Message{Role: llm.RoleSystem, Content: "Current time is: " + now.Format("2006-01-02 15:04:05")},
	)
	for _, m := range hist {
		if m.Content == "" {
			continue
		}
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: latestPrompt(line)})
}
