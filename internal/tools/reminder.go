package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/Zippland/Bubbles/internal/reminder"
)

// ReminderStore is the persistence the reminder tools need.
type ReminderStore interface {
	Create(ctx context.Context, r *reminder.Reminder) error
	List(ctx context.Context, owner string) ([]*reminder.Reminder, error)
	Delete(ctx context.Context, owner, id string) (bool, error)
	DeleteAll(ctx context.Context, owner string) (int64, error)
}

type reminderCreateInput struct {
	Type    string `json:"type"`
	Time    string `json:"time"`
	Content string `json:"content"`
	Weekday *int   `json:"weekday"`
}

type reminderDeleteInput struct {
	ReminderID string `json:"reminder_id"`
	DeleteAll  bool   `json:"delete_all"`
}

type reminderView struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Time     string `json:"time"`
	Weekday  *int   `json:"weekday,omitempty"`
	Content  string `json:"content"`
	Schedule string `json:"schedule"`
	NextRun  string `json:"next_run,omitempty"`
}

// ReminderTools returns reminder_create, reminder_list and
// reminder_delete bound to store. now may be nil to use time.Now.
func ReminderTools(store ReminderStore, now func() time.Time) []*Tool {
	if now == nil {
		now = time.Now
	}
	unavailable := func(name string) Result {
		return Failure(&ErrToolUnavailable{ToolName: name, Reason: "提醒管理器未初始化"})
	}

	create := &Tool{
		Name: "reminder_create",
		Description: "创建提醒。支持 once(一次性)、daily(每日)、weekly(每周) 三种类型。" +
			"当前时间已在对话上下文中提供，请据此计算目标时间。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"type": map[string]any{
					"type":        "string",
					"enum":        []string{"once", "daily", "weekly"},
					"description": "提醒类型",
				},
				"time": map[string]any{
					"type":        "string",
					"description": "once → YYYY-MM-DD HH:MM；daily/weekly → HH:MM",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "提醒内容",
				},
				"weekday": map[string]any{
					"type":        "integer",
					"description": "仅 weekly 需要。0=周一 … 6=周日",
				},
			},
			"required": []string{"type", "time", "content"},
		},
		StatusText: "正在设置提醒...",
		Handler: Typed(func(ctx context.Context, c Caller, in reminderCreateInput) Result {
			if store == nil {
				return unavailable("reminder_create")
			}
			kind := in.Type
			if kind == "" {
				kind = string(reminder.Once)
			}
			r, err := reminder.Normalize(kind, in.Time, in.Content, in.Weekday, now())
			if err != nil {
				return Failure(err)
			}
			r.Owner = c.SenderID()
			if c.IsGroup() {
				r.RoomID = c.ChatID()
			}
			if err := store.Create(ctx, r); err != nil {
				return Success(map[string]any{"success": false, "error": err.Error()})
			}
			return Success(map[string]any{
				"success": true,
				"id":      r.ID,
				"message": fmt.Sprintf("已创建%s提醒: %s - %s", r.Kind.Label(), r.Time, r.Content),
			})
		}),
	}

	list := &Tool{
		Name:        "reminder_list",
		Description: "查看当前用户的所有提醒列表。",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: Typed(func(ctx context.Context, c Caller, _ struct{}) Result {
			if store == nil {
				return unavailable("reminder_list")
			}
			rs, err := store.List(ctx, c.SenderID())
			if err != nil {
				return Failure(err)
			}
			if len(rs) == 0 {
				return Success(map[string]any{"reminders": []reminderView{}, "message": "当前没有任何提醒"})
			}
			current := now()
			views := make([]reminderView, 0, len(rs))
			for _, r := range rs {
				v := reminderView{
					ID:       r.ID,
					Type:     string(r.Kind),
					Time:     r.Time,
					Weekday:  r.Weekday,
					Content:  r.Content,
					Schedule: r.Schedule(),
				}
				if next, ok := r.NextRun(current); ok {
					v.NextRun = next.Format("2006-01-02 15:04")
				}
				views = append(views, v)
			}
			return Success(map[string]any{"reminders": views, "count": len(views)})
		}),
	}

	del := &Tool{
		Name: "reminder_delete",
		Description: "删除提醒。需要先调用 reminder_list 获取 ID，" +
			"再用 reminder_id 精确删除；或设置 delete_all=true 删除全部。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reminder_id": map[string]any{
					"type":        "string",
					"description": "要删除的提醒完整 ID",
				},
				"delete_all": map[string]any{
					"type":        "boolean",
					"description": "是否删除该用户全部提醒",
				},
			},
		},
		Handler: Typed(func(ctx context.Context, c Caller, in reminderDeleteInput) Result {
			if store == nil {
				return unavailable("reminder_delete")
			}
			if in.DeleteAll {
				n, err := store.DeleteAll(ctx, c.SenderID())
				if err != nil {
					return Failure(err)
				}
				return Success(map[string]any{
					"success":       true,
					"message":       fmt.Sprintf("已删除 %d 条提醒", n),
					"deleted_count": n,
				})
			}
			if in.ReminderID == "" {
				return Errorf("请提供 reminder_id，或设置 delete_all=true 删除全部")
			}
			ok, err := store.Delete(ctx, c.SenderID(), in.ReminderID)
			if err != nil {
				return Failure(err)
			}
			if !ok {
				return Success(map[string]any{"success": false, "message": "未找到提醒: " + in.ReminderID})
			}
			return Success(map[string]any{"success": true, "message": "已删除提醒: " + in.ReminderID})
		}),
	}

	return []*Tool{create, list, del}
}
