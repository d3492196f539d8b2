package scheduler

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

// KeyPrefix starts every reminder job key.
const KeyPrefix = "reminder_"

// JobKey derives the job key for a user's goal reminder. It is the only place keys
// are built, so create, replace and remove always agree on the identity of a job.
//
// The goal name is sanitized by collapsing runs of non-alphanumeric characters into
// a single underscore. A short hash of the raw name keeps goals that sanitize to the
// same text ("Run!" and "Run?") on separate jobs.
func JobKey(userID, goal string) string {
	return fmt.Sprintf("%s%s_%s_%s", KeyPrefix, sanitize(userID), sanitize(goal), models.GoalRef(goal))
}

func sanitize(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
