// Package reminder stores one-shot, daily and weekly reminders and
// computes when each is next due. Delivery is left to the caller.
package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the repeat rule.
type Kind string

const (
	Once   Kind = "once"
	Daily  Kind = "daily"
	Weekly Kind = "weekly"
)

// Label is the display name used in confirmations.
func (k Kind) Label() string {
	switch k {
	case Once:
		return "一次性"
	case Daily:
		return "每日"
	case Weekly:
		return "每周"
	}
	return string(k)
}

// Layouts for the Time field.
const (
	OnceLayout  = "2006-01-02 15:04"
	ClockLayout = "15:04"
)

var weekdayLabels = [7]string{"周一", "周二", "周三", "周四", "周五", "周六", "周日"}

// Reminder is one stored reminder. Weekday counts from Monday (0) to
// Sunday (6) and is only set for weekly reminders.
type Reminder struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	RoomID    string    `json:"room_id,omitempty"`
	Kind      Kind      `json:"type"`
	Time      string    `json:"time"`
	Weekday   *int      `json:"weekday,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrInvalid wraps every validation failure; the message is meant for
// the model or user as-is.
var ErrInvalid = errors.New("invalid reminder")

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Unwrap() error { return ErrInvalid }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// Normalize validates kind, timeStr, content and weekday and returns a
// reminder with Time rewritten to its canonical layout. now is used to
// reject one-shot reminders in the past.
func Normalize(kind, timeStr, content string, weekday *int, now time.Time) (*Reminder, error) {
	timeStr = strings.TrimSpace(timeStr)
	if timeStr == "" || content == "" {
		return nil, invalid("缺少必要字段: time 和 content")
	}
	if len([]rune(strings.TrimSpace(content))) < 2 {
		return nil, invalid("提醒内容太短")
	}

	r := &Reminder{Kind: Kind(kind), Content: content}
	switch r.Kind {
	case Once:
		t, ok := parseIn(timeStr, now.Location(), "2006-01-02 15:04", "2006-01-02 15:04:05")
		if !ok {
			return nil, invalid("once 类型时间格式应为 YYYY-MM-DD HH:MM，收到: %s", timeStr)
		}
		if t.Before(now) {
			return nil, invalid("时间 %s 已过去，请使用未来的时间", timeStr)
		}
		r.Time = t.Format(OnceLayout)
	case Daily, Weekly:
		t, ok := parseIn(timeStr, now.Location(), "15:04", "15:04:05")
		if !ok {
			return nil, invalid("daily/weekly 类型时间格式应为 HH:MM，收到: %s", timeStr)
		}
		r.Time = t.Format(ClockLayout)
	default:
		return nil, invalid("不支持的提醒类型: %s", kind)
	}

	if r.Kind == Weekly && (weekday == nil || *weekday < 0 || *weekday > 6) {
		return nil, invalid("weekly 类型需要 weekday 参数 (0=周一 … 6=周日)")
	}
	if weekday != nil {
		wd := *weekday
		r.Weekday = &wd
	}
	return r, nil
}

func parseIn(s string, loc *time.Location, layouts ...string) (time.Time, bool) {
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Schedule renders the repeat rule for display, e.g. "每周一 08:00".
func (r *Reminder) Schedule() string {
	switch r.Kind {
	case Once:
		return r.Time + " (一次性)"
	case Daily:
		return "每天 " + r.Time
	case Weekly:
		if r.Weekday != nil && *r.Weekday >= 0 && *r.Weekday < len(weekdayLabels) {
			return "每周" + weekdayLabels[*r.Weekday] + " " + r.Time
		}
		return "每周 " + r.Time
	}
	return r.Time
}

// NextRun returns the first time strictly after after at which the
// reminder is due, in after's location. It reports false for one-shot
// reminders that have already passed or malformed entries.
func (r *Reminder) NextRun(after time.Time) (time.Time, bool) {
	loc := after.Location()
	switch r.Kind {
	case Once:
		t, err := time.ParseInLocation(OnceLayout, r.Time, loc)
		if err != nil || !t.After(after) {
			return time.Time{}, false
		}
		return t, true

	case Daily, Weekly:
		clock, err := time.Parse(ClockLayout, r.Time)
		if err != nil {
			return time.Time{}, false
		}
		next := time.Date(after.Year(), after.Month(), after.Day(),
			clock.Hour(), clock.Minute(), 0, 0, loc)
		if r.Kind == Daily {
			if !next.After(after) {
				next = next.AddDate(0, 0, 1)
			}
			return next, true
		}

		if r.Weekday == nil {
			return time.Time{}, false
		}
		// time.Weekday counts from Sunday; ours from Monday.
		today := (int(after.Weekday()) + 6) % 7
		next = next.AddDate(0, 0, (*r.Weekday-today+7)%7)
		if !next.After(after) {
			next = next.AddDate(0, 0, 7)
		}
		return next, true
	}
	return time.Time{}, false
}
