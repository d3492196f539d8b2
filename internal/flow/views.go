package flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BTreeMap/GoalPipe/internal/models"
	"github.com/BTreeMap/GoalPipe/internal/progress"
	"github.com/BTreeMap/GoalPipe/internal/scheduler"
)

const commandList = "📋 Commands:\n" +
	"• /setgoals - Set your daily goals (or /setgoals AIML, DSA, Gym)\n" +
	"• /checkin - Tick off today's goals\n" +
	"• /progress - See your weekly progress and streak\n" +
	"• /setreminder - Set a daily reminder for a goal\n" +
	"• /stopreminder - Remove a reminder\n" +
	"• /reminders - List your reminders\n" +
	"• /cancel - Abort the current step"

// WelcomeText greets a user on /start.
func WelcomeText() string {
	return "👋 Hi! I'm your accountability bot.\n\n" + commandList + "\n\nLet's get started with /setgoals!"
}

// HelpText lists the commands.
func HelpText() string {
	return commandList
}

// ReminderText is the body of a reminder notification for goal.
func ReminderText(goal string) string {
	return fmt.Sprintf("⏰ Time for *%s*! Send /checkin to mark it done. Don't break the streak! 🔥", goal)
}

func numbered(goals []string) string {
	var b strings.Builder
	for i, g := range goals {
		fmt.Fprintf(&b, "%d. %s\n", i+1, g)
	}
	return strings.TrimRight(b.String(), "\n")
}

func goalsSetText(goals []string) string {
	return "🎯 Goals set:\n" + numbered(goals)
}

func goalMenuText(goals []string) string {
	return "🎯 Your current goals:\n" + numbered(goals) + "\n\nWhat would you like to do?"
}

func menuButtons() []models.Button {
	return []models.Button{
		{Label: "➕ Add more", Token: models.ButtonToken(models.TokenMenu, menuAdd)},
		{Label: "🧹 Clear all", Token: models.ButtonToken(models.TokenMenu, menuClear)},
		{Label: "👍 Keep", Token: models.ButtonToken(models.TokenMenu, menuKeep)},
	}
}

func addGoalsPromptText() string {
	return "✍️ Send your goals one message at a time.\nSend /done when you're finished or /cancel to abort."
}

func goalsSoFarText(goals []string) string {
	return "📝 Goals so far:\n" + numbered(goals) + "\n\nSend another goal, or /done to save."
}

func checkinView(rec models.UserRecord, date string) (string, []models.Button) {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ *Check-in for %s*\nTap a goal to toggle it.\n", date)
	buttons := make([]models.Button, 0, len(rec.Goals))
	for _, goal := range rec.Goals {
		mark := "⬜"
		if rec.IsChecked(date, goal) {
			mark = "✅"
		}
		fmt.Fprintf(&b, "\n%s %s", mark, goal)
		buttons = append(buttons, models.Button{
			Label: mark + " " + goal,
			Token: models.ButtonToken(models.TokenCheckin, models.GoalRef(goal)),
		})
	}
	return b.String(), buttons
}

func progressView(rec models.UserRecord, w progress.Weekly, streak int) string {
	var b strings.Builder
	b.WriteString("📊 *Your Progress*\n\n")
	fmt.Fprintf(&b, "*Last %d days* (%s to %s)\n", progress.WindowDays, w.Days[0], w.Days[progress.WindowDays-1])
	for _, g := range w.Goals {
		var row strings.Builder
		for _, done := range g.Done {
			if done {
				row.WriteString("✅")
			} else {
				row.WriteString("⬜")
			}
		}
		fmt.Fprintf(&b, "%s %s %d%%\n", row.String(), g.Name, g.Percent)
	}
	fmt.Fprintf(&b, "\n📈 Overall: %d%%\n", w.Overall)
	fmt.Fprintf(&b, "🔥 Streak: %d day(s)\n", streak)
	fmt.Fprintf(&b, "📅 Days checked in: %d\n\n", progress.TotalDaysCheckedIn(rec))

	b.WriteString("*Recent check-ins:*\n")
	recent := progress.RecentCheckinDates(rec, progress.DefaultRecentCount)
	if len(recent) == 0 {
		b.WriteString("No check-ins yet")
	}
	for i, d := range recent {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("✅ " + d)
	}
	return b.String()
}

func reminderGoalButtons(goals []string, prefix string) []models.Button {
	buttons := make([]models.Button, 0, len(goals))
	for _, goal := range goals {
		buttons = append(buttons, models.Button{
			Label: goal,
			Token: models.ButtonToken(prefix, models.GoalRef(goal)),
		})
	}
	return buttons
}

func askTimeText(goal string) string {
	return fmt.Sprintf("⏰ At what time should I remind you about *%s* daily?\n"+
		"Send time in 24-hour format: HH:MM\nExample: 09:00 or 21:30", goal)
}

func invalidTimeText() string {
	return "❌ Invalid format. Please use HH:MM in 24-hour format.\nExample: 09:00 or 21:30"
}

func reminderSetText(goal string, t models.ReminderTime) string {
	return fmt.Sprintf("✅ Daily reminder for *%s* set for %s\nI'll remind you every day at this time!", goal, t)
}

func schedulerUnavailableText(goal string, t models.ReminderTime) string {
	return fmt.Sprintf("⚠️ Saved %s for *%s*, but reminders can't be scheduled right now. "+
		"It will start after the next restart, or try /setreminder again later.", t, goal)
}

// reminderGoals returns the goals that have a reminder, sorted.
func reminderGoals(rec models.UserRecord) []string {
	goals := make([]string, 0, len(rec.Reminders))
	for goal := range rec.Reminders {
		goals = append(goals, goal)
	}
	sort.Strings(goals)
	return goals
}

func remindersText(rec models.UserRecord) string {
	goals := reminderGoals(rec)
	if len(goals) == 0 {
		return "🔕 You have no reminders. Use /setreminder to add one."
	}
	var b strings.Builder
	b.WriteString("⏰ *Your reminders:*")
	for _, goal := range goals {
		fmt.Fprintf(&b, "\n• %s at %s", goal, rec.Reminders[goal])
	}
	if !rec.HasDestination() {
		b.WriteString("\n\n⚠️ No chat is bound yet, send /start so I know where to remind you.")
	}
	return b.String()
}

func jobsText(jobs []scheduler.JobInfo) string {
	if len(jobs) == 0 {
		return "No scheduled reminder jobs."
	}
	var b strings.Builder
	b.WriteString("🗓 *Scheduled jobs:*")
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n• `%s` next %s", j.Key, j.Next.Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}

func noGoalsText() string {
	return "⚠️ You haven't set any goals yet. Use /setgoals first."
}

func storeErrorText() string {
	return "⚠️ Something went wrong saving that. Please try again."
}

func mismatchText() string {
	return "⚠️ I lost track of which goal you were setting a reminder for. Please start again with /setreminder."
}

func staleButtonText() string {
	return "⚠️ That option is out of date. Here is the current list."
}
