package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/Zippland/Bubbles/internal/llm"
	"github.com/Zippland/Bubbles/internal/session"
)

func TestSystemPrompt(t *testing.T) {
	tests := []struct {
		name, explicit, persona, wantPrefix string
	}{
		{"explicit wins", "You are terse.", "pirate", "You are terse."},
		{"persona", "", "pirate", "# 角色设定"},
		{"guidance only", "", "", "\n\n## 工具使用指引"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := systemPrompt(tt.explicit, tt.persona)
			if !strings.HasPrefix(got, tt.wantPrefix) || !strings.HasSuffix(got, toolGuidance) {
				t.Errorf("systemPrompt = %q", got)
			}
		})
	}
}

func TestBuildMessages(t *testing.T) {
	now := time.Date(2025, 1, 2, 8, 5, 9, 0, time.Local)
	hist := []session.Message{
		{Role: "user", Content: "q1"},
		{Role: "tool", Content: "{}"},
		{Role: "assistant", Content: ""},
		{Role: "assistant", Content: "a1"},
		{Role: "system", Content: "x"},
	}
	msgs := buildMessages("", "", now, hist, userLine(now, "Bob", "hi"))

	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	want := []string{llm.RoleSystem, llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	if msgs[1].Content != "Current time is: 2025-01-02 08:05:09" {
		t.Errorf("time = %q", msgs[1].Content)
	}
	if !strings.Contains(msgs[4].Content, "「[08:05] Bob: hi」") {
		t.Errorf("latest = %q", msgs[4].Content)
	}
}
