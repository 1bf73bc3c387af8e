package notifier

import (
	"fmt"
	"strings"
	"time"

	"wprecur/internal/run"
)

// Format renders a run summary as a plain-text message.
func Format(s run.Summary) string {
	var b strings.Builder
	switch {
	case s.Err != nil && s.Clones == 0 && s.Updates == 0 && s.Failures == 0:
		b.WriteString("Recurrence run failed")
	case s.Failures > 0:
		b.WriteString("Recurrence run finished with failures")
	default:
		b.WriteString("Recurrence run finished")
	}
	if s.DryRun {
		b.WriteString(" (dry run)")
	}
	fmt.Fprintf(&b, "\n%s · %d templates · %d clones · %d updates · %d failures · %s\n",
		s.Today, s.Templates, s.Clones, s.Updates, s.Failures, s.Took.Round(100*time.Millisecond))

	if len(s.Created) > 0 {
		b.WriteString("\nCreated:\n")
		for _, c := range s.Created {
			subj := c.Subject
			if subj == "" {
				subj = fmt.Sprintf("#%d", c.WorkPackageID)
			}
			fmt.Fprintf(&b, "• #%d %s → %s, due %s (from #%d)\n", c.WorkPackageID, subj, c.Project, c.Due, c.TemplateID)
		}
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "\nError: %v\n", s.Err)
	}
	fmt.Fprintf(&b, "\nrun %s", s.RunID)
	return b.String()
}

// Split cuts text into chunks of at most limit bytes, preferring line breaks.
// Lines longer than limit are hard-split on rune boundaries.
func Split(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			out = append(out, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > limit {
			flush()
		}
		cur.WriteString(line)
	}
	flush()
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
