package messaging

import (
	"testing"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	plain := models.OutboundMessage{To: "15550001", Body: "hi"}
	assert.Equal(t, "hi", Render(plain))

	withButtons := models.OutboundMessage{
		To:   "15550001",
		Body: "Pick one",
		Buttons: []models.Button{
			{Label: "Add", Token: "menu:add"},
			{Label: "Keep", Token: "menu:keep"},
		},
	}
	assert.Equal(t, "Pick one\n\nReply with:\n• Add  →  menu:add\n• Keep  →  menu:keep", Render(withButtons))
}

func TestClassifyText(t *testing.T) {
	at := time.Unix(1700000000, 0)

	tests := []struct {
		name string
		body string
		want models.Event
	}{
		{
			name: "command with args",
			body: "/SetGoals Read  Run",
			want: models.Event{Kind: models.EventCommand, Name: "setgoals", Args: []string{"Read", "Run"}},
		},
		{
			name: "bare command",
			body: " /checkin ",
			want: models.Event{Kind: models.EventCommand, Name: "checkin", Args: []string{}},
		},
		{
			name: "typed token",
			body: "checkin:1",
			want: models.Event{Kind: models.EventButton, Token: "checkin:1", Typed: true, Body: "checkin:1"},
		},
		{
			name: "unknown prefix is text",
			body: "note:1",
			want: models.Event{Kind: models.EventText, Body: "note:1"},
		},
		{
			name: "lone slash is text",
			body: "/",
			want: models.Event{Kind: models.EventText, Body: "/"},
		},
		{
			name: "time text",
			body: "07:30",
			want: models.Event{Kind: models.EventText, Body: "07:30"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.want
			want.ChatID, want.UserID, want.Time = "chat", "user", at.Unix()
			assert.Equal(t, want, ClassifyText(tt.body, "chat", "user", at))
		})
	}
}

func TestButtonEvent(t *testing.T) {
	ev := ButtonEvent(" remind:0 ", "chat", "user", time.Unix(5, 0))
	assert.Equal(t, models.Event{Kind: models.EventButton, Token: "remind:0", ChatID: "chat", UserID: "user", Time: 5}, ev)
}
