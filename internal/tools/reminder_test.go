package tools

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Zippland/Bubbles/internal/reminder"
)

func newReminderRegistry(t *testing.T) (*Registry, *reminder.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	store, err := reminder.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	now := func() time.Time { return time.Date(2026, 3, 11, 9, 30, 0, 0, time.Local) }
	r := NewRegistry(quietLogger())
	for _, tool := range ReminderTools(store, now) {
		r.Register(tool)
	}
	return r, store
}

func TestReminderTools_CreateListDelete(t *testing.T) {
	r, store := newReminderRegistry(t)
	ctx := context.Background()
	c := &fakeCaller{chatID: "room1@chatroom", senderID: "wx_alice", group: true, visible: 30}

	got := decodeMap(t, r.Execute(ctx, c, "reminder_create", map[string]any{
		"type": "weekly", "time": "18:00", "content": "去健身房", "weekday": 4,
	}))
	if got["success"] != true || got["message"] != "已创建每周提醒: 18:00 - 去健身房" {
		t.Fatalf("create = %v", got)
	}
	if len(c.statuses) != 1 || c.statuses[0] != "正在设置提醒..." {
		t.Errorf("statuses = %q", c.statuses)
	}
	id, _ := got["id"].(string)

	stored, _ := store.List(ctx, "wx_alice")
	if len(stored) != 1 || stored[0].RoomID != "room1@chatroom" {
		t.Fatalf("stored = %+v", stored)
	}

	got = decodeMap(t, r.Execute(ctx, c, "reminder_list", nil))
	if got["count"] != float64(1) {
		t.Fatalf("list = %v", got)
	}
	item := got["reminders"].([]any)[0].(map[string]any)
	if item["next_run"] != "2026-03-13 18:00" || item["schedule"] != "每周周五 18:00" {
		t.Errorf("list item = %v", item)
	}

	got = decodeMap(t, r.Execute(ctx, c, "reminder_delete", map[string]any{"reminder_id": id}))
	if got["success"] != true {
		t.Errorf("delete = %v", got)
	}
	got = decodeMap(t, r.Execute(ctx, c, "reminder_list", nil))
	if got["message"] != "当前没有任何提醒" {
		t.Errorf("empty list = %v", got)
	}
}

func TestReminderTools_Validation(t *testing.T) {
	r, _ := newReminderRegistry(t)
	c := newCaller()

	got := decodeMap(t, r.Execute(context.Background(), c, "reminder_create", map[string]any{
		"type": "once", "time": "2026-03-10 08:00", "content": "too late",
	}))
	if got["error"] != "时间 2026-03-10 08:00 已过去，请使用未来的时间" {
		t.Errorf("error = %v", got["error"])
	}

	got = decodeMap(t, r.Execute(context.Background(), c, "reminder_delete", map[string]any{}))
	if got["error"] != "请提供 reminder_id，或设置 delete_all=true 删除全部" {
		t.Errorf("error = %v", got["error"])
	}
}

func TestReminderTools_DeleteAll(t *testing.T) {
	r, _ := newReminderRegistry(t)
	ctx := context.Background()
	c := newCaller()
	for _, clock := range []string{"07:00", "08:00"} {
		r.Execute(ctx, c, "reminder_create", map[string]any{"type": "daily", "time": clock, "content": "drink water"})
	}

	got := decodeMap(t, r.Execute(ctx, c, "reminder_delete", map[string]any{"delete_all": true}))
	if got["deleted_count"] != float64(2) || got["message"] != "已删除 2 条提醒" {
		t.Errorf("delete_all = %v", got)
	}
}

func TestReminderTools_Unavailable(t *testing.T) {
	r := NewRegistry(quietLogger())
	for _, tool := range ReminderTools(nil, nil) {
		r.Register(tool)
	}
	got := decodeMap(t, r.Execute(context.Background(), newCaller(), "reminder_list", nil))
	if got["error"] != `tool "reminder_list" is not available: 提醒管理器未初始化` {
		t.Errorf("error = %v", got["error"])
	}
}
