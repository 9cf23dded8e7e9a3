package run

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/tabharvest/internal/session"
	"github.com/lotas/tabharvest/internal/types"
)

// Outcome classifies a finished run.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeNoTabs
	OutcomeNoImages
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoTabs:
		return "no-tabs"
	case OutcomeNoImages:
		return "no-images"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "completed"
	}
}

// Classify maps the final counters to an outcome. Cancellation wins.
func Classify(c session.Counters, cancelled bool) Outcome {
	switch {
	case cancelled:
		return OutcomeCancelled
	case c.TabsLoaded == 0:
		return OutcomeNoTabs
	case c.ImagesSaved == 0 && c.ImagesFailed == 0 && c.PathsFailed == 0:
		return OutcomeNoImages
	default:
		return OutcomeCompleted
	}
}

// Report is the terminal summary of one window's run.
type Report struct {
	Window   types.WindowID
	Tab      types.TabID
	Scope    types.Scope
	Outcome  Outcome
	Counters session.Counters
	Started  time.Time
	Finished time.Time

	Title string
	Body  string
}

// NewReport builds the report of s as of now.
func NewReport(s *session.Session, now time.Time) Report {
	c := s.Counters()
	r := Report{
		Window:   s.Window,
		Tab:      s.TabID,
		Scope:    s.Scope,
		Outcome:  Classify(c, s.Cancelled()),
		Counters: c,
		Started:  s.Started,
		Finished: now,
	}
	r.Title, r.Body = render(r)
	return r
}

// NotificationID is the id the notification for this window is shown under.
func (r Report) NotificationID() string {
	return fmt.Sprintf("finished_%d", r.Window)
}

// HadErrors reports whether any download or path failed.
func (r Report) HadErrors() bool {
	return r.Counters.ImagesFailed > 0 || r.Counters.PathsFailed > 0
}

// PermissionErrors is the number of tabs whose script could not run.
func (r Report) PermissionErrors() int {
	return r.Counters.TabsError
}

func render(r Report) (title, body string) {
	c := r.Counters

	var permission string
	if c.TabsError > 0 {
		if r.Scope == types.ScopeActive {
			permission = "Permission denied for the active tab. Reload the page or allow the add-on on this site."
		} else {
			permission = fmt.Sprintf("Permission denied for %d tabs. Reload those pages or allow the add-on on those sites.", c.TabsError)
		}
	}

	var b strings.Builder
	title = "Download finished"
	if r.Outcome == OutcomeCancelled {
		title = "Download cancelled"
		b.WriteString("The download was cancelled.\n")
	}

	switch {
	case c.TabsLoaded == 0:
		fmt.Fprintf(&b, "No tabs found in %s.\n", r.Scope.Label())
	case c.ImagesSaved == 0 && c.ImagesFailed == 0 && c.PathsFailed == 0:
		b.WriteString("No images found.\n")
	default:
		if c.ImagesSaved > 0 {
			fmt.Fprintf(&b, "%d saved\n", c.ImagesSaved)
		}
		if c.ImagesFailed > 0 {
			fmt.Fprintf(&b, "%d failed\n", c.ImagesFailed)
		}
		if c.PathsFailed > 0 {
			fmt.Fprintf(&b, "%d paths could not be generated\n", c.PathsFailed)
		}
	}
	if permission != "" {
		b.WriteString("\n")
		b.WriteString(permission)
	}
	return title, strings.TrimRight(b.String(), "\n")
}
