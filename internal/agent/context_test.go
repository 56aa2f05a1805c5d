package agent

import (
	"context"
	"errors"
	"testing"
)

func TestContext_Defaults(t *testing.T) {
	c := NewContext(Params{ChatID: "room1"})
	if c.VisibleLimit() != DefaultMaxHistory {
		t.Errorf("VisibleLimit = %d, want %d", c.VisibleLimit(), DefaultMaxHistory)
	}
	if c.Receiver() != "room1" {
		t.Errorf("Receiver = %q", c.Receiver())
	}
	if c.SendText(context.Background(), "x", "", true) {
		t.Error("SendText without a send func reported success")
	}
}

func TestContext_SendFailuresAreContained(t *testing.T) {
	tests := []struct {
		name string
		send SendFunc
		want bool
	}{
		{"ok", func(context.Context, string, string, bool) error { return nil }, true},
		{"error", func(context.Context, string, string, bool) error { return errors.New("offline") }, false},
		{"panic", func(context.Context, string, string, bool) error { panic("boom") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext(Params{ChatID: "room1", Send: tt.send, Logger: quietLogger()})
			if got := c.SendText(context.Background(), "hi", "", true); got != tt.want {
				t.Errorf("SendText = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContext_SendStatusNotRecorded(t *testing.T) {
	var sent []sentText
	c := testContext(&sent)
	if !c.SendStatus(context.Background(), "working") {
		t.Fatal("SendStatus failed")
	}
	if len(sent) != 1 || sent[0].record {
		t.Errorf("sent = %+v, want one unrecorded message", sent)
	}
}
