package grading

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/gema-coursework/internal/models"
)

// EffectiveDeadline resolves the deadline that applies to one allocatable: an
// extension wins even when in the past, then an enabled personal deadline,
// then the coursework default. Extension rows are ignored while extensions
// are disabled on the coursework. A zero result means no deadline.
func EffectiveDeadline(cw models.Coursework, extension *models.DeadlineExtension, personal *models.PersonalDeadline) time.Time {
	if ExtensionApplies(cw, extension) {
		return extension.ExtendedDeadline
	}
	if cw.PersonalDeadlineEnabled && personal != nil && !personal.Deadline.IsZero() {
		return personal.Deadline
	}
	return cw.Deadline
}

// DeadlineHasPassed treats a zero deadline as never passing.
func DeadlineHasPassed(deadline, now time.Time) bool {
	return !deadline.IsZero() && deadline.Before(now)
}

// ExtensionExists reports whether an extension record is present at all.
func ExtensionExists(extension *models.DeadlineExtension) bool {
	return extension != nil && !extension.ExtendedDeadline.IsZero()
}

// ExtensionApplies reports whether an extension exists and the coursework
// currently honours extensions.
func ExtensionApplies(cw models.Coursework, extension *models.DeadlineExtension) bool {
	return cw.ExtensionsEnabled && ExtensionExists(extension)
}

// HasValidExtension reports whether an extension still lies in the future and
// therefore permits work after the coursework deadline.
func HasValidExtension(extension *models.DeadlineExtension, now time.Time) bool {
	return ExtensionExists(extension) && extension.ExtendedDeadline.After(now)
}

// LateBy returns how far past the deadline the work was submitted.
func LateBy(submittedAt, deadline time.Time) time.Duration {
	if deadline.IsZero() || submittedAt.IsZero() || !submittedAt.After(deadline) {
		return 0
	}
	return submittedAt.Sub(deadline)
}

// Lateness is a day/hour/minute/second breakdown of a late duration.
type Lateness struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// BreakdownLateness splits a duration into whole days, hours, minutes and seconds.
func BreakdownLateness(d time.Duration) Lateness {
	if d <= 0 {
		return Lateness{}
	}
	total := int(d / time.Second)
	return Lateness{
		Days:    total / 86400,
		Hours:   total % 86400 / 3600,
		Minutes: total % 3600 / 60,
		Seconds: total % 60,
	}
}

// IsZero reports whether the breakdown represents on-time work.
func (l Lateness) IsZero() bool {
	return l == Lateness{}
}

func (l Lateness) String() string {
	if l.IsZero() {
		return "on time"
	}
	parts := make([]string, 0, 4)
	appendUnit := func(value int, unit string) {
		if value == 0 {
			return
		}
		if value != 1 {
			unit += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", value, unit))
	}
	appendUnit(l.Days, "day")
	appendUnit(l.Hours, "hour")
	appendUnit(l.Minutes, "minute")
	appendUnit(l.Seconds, "second")
	return strings.Join(parts, " ")
}
