package messaging

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

// Render flattens an outbound message to text. Buttons become a list of tokens the
// user can send back, since neither transport sends native buttons here.
func Render(msg models.OutboundMessage) string {
	if len(msg.Buttons) == 0 {
		return msg.Body
	}
	var b strings.Builder
	b.WriteString(msg.Body)
	b.WriteString("\n\nReply with:")
	for _, btn := range msg.Buttons {
		fmt.Fprintf(&b, "\n• %s  →  %s", btn.Label, btn.Token)
	}
	return b.String()
}

// ClassifyText turns an inbound text body into an event: "/name args" is a command,
// a button token typed back is a button press, anything else is text. A typed-back
// token keeps its raw body and is marked Typed so the engine can take it as text
// while it is collecting input.
func ClassifyText(body, chatID, userID string, at time.Time) models.Event {
	ev := models.Event{ChatID: chatID, UserID: userID, Time: at.Unix()}
	trimmed := strings.TrimSpace(body)

	switch {
	case strings.HasPrefix(trimmed, "/") && len(trimmed) > 1:
		fields := strings.Fields(trimmed[1:])
		ev.Kind = models.EventCommand
		ev.Name = strings.ToLower(fields[0])
		ev.Args = fields[1:]
	case models.IsButtonToken(trimmed):
		ev.Kind = models.EventButton
		ev.Token = trimmed
		ev.Typed = true
		ev.Body = body
	default:
		ev.Kind = models.EventText
		ev.Body = body
	}
	return ev
}

// ButtonEvent builds a button press event from a transport's native payload.
func ButtonEvent(token, chatID, userID string, at time.Time) models.Event {
	return models.Event{
		Kind:   models.EventButton,
		Token:  strings.TrimSpace(token),
		ChatID: chatID,
		UserID: userID,
		Time:   at.Unix(),
	}
}
