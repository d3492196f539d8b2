// Package flow implements the GoalPipe conversation engine.
//
// Each chat has at most one session. A session is in exactly one State; Idle is both
// the initial and the terminal state and is never stored.
package flow

// StateName identifies a session state in logs and diagnostics.
type StateName string

const (
	StateIdle                StateName = "IDLE"
	StateAddingGoals         StateName = "ADDING_GOALS"
	StateSettingReminderTime StateName = "SETTING_REMINDER_TIME"
)

// State is the tagged union of session states. Only the types in this file implement it.
type State interface {
	Name() StateName
	sealed()
}

// Idle means no multi-turn flow is active for the chat.
type Idle struct{}

// AddingGoals collects goals one text message at a time.
type AddingGoals struct {
	Goals []string
}

// SettingReminderTime waits for an HH:MM reply for Goal.
type SettingReminderTime struct {
	Goal string
}

func (Idle) Name() StateName                { return StateIdle }
func (AddingGoals) Name() StateName         { return StateAddingGoals }
func (SettingReminderTime) Name() StateName { return StateSettingReminderTime }

func (Idle) sealed()                {}
func (AddingGoals) sealed()         {}
func (SettingReminderTime) sealed() {}

// BeginGoals starts goal entry with an empty scratch list.
func (Idle) BeginGoals() AddingGoals {
	return AddingGoals{Goals: []string{}}
}

// BeginReminder starts reminder entry for goal.
func (Idle) BeginReminder(goal string) SettingReminderTime {
	return SettingReminderTime{Goal: goal}
}

// Append returns the state with goal added to the scratch list.
func (s AddingGoals) Append(goal string) AddingGoals {
	goals := make([]string, 0, len(s.Goals)+1)
	goals = append(goals, s.Goals...)
	return AddingGoals{Goals: append(goals, goal)}
}

// Finish ends goal entry. The scratch list is handed back for persisting.
func (s AddingGoals) Finish() (Idle, []string) {
	return Idle{}, s.Goals
}

// Finish ends reminder entry.
func (s SettingReminderTime) Finish() Idle {
	return Idle{}
}
