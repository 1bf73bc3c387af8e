package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"wprecur/internal/recurrence"
	"wprecur/internal/run"
	"wprecur/internal/storage"
)

var (
	okColor   = color.New(color.FgHiGreen)
	failColor = color.New(color.FgRed)
	dryColor  = color.New(color.FgYellow)
	dimColor  = color.New(color.FgHiBlack)
	idColor   = color.New(color.FgCyan)
)

func printSummary(w io.Writer, s run.Summary) {
	state := okColor.Sprint("ok")
	if s.Err != nil {
		state = failColor.Sprint("failed")
	}
	if s.DryRun {
		state += dryColor.Sprint(" (dry run)")
	}
	fmt.Fprintf(w, "%s %s for %s in %s\n", idColor.Sprint(s.RunID), state, s.Today, s.Took.Round(time.Millisecond))
	fmt.Fprintf(w, "  templates %d, decisions %d, clones %d, updates %d, skipped %d, failures %d\n",
		s.Templates, s.Decisions, s.Clones, s.Updates, s.Skipped, s.Failures)
	for _, c := range s.Created {
		fmt.Fprintf(w, "  + #%d %q -> %s due %s (from #%d, %s)\n", c.WorkPackageID, c.Subject, c.Project, c.Due, c.TemplateID, c.Policy)
	}
	for _, d := range s.Planned {
		fmt.Fprintf(w, "  %s %s\n", dryColor.Sprint("~"), describe(d))
	}
	if s.Err != nil {
		fmt.Fprintf(w, "  %s %v\n", failColor.Sprint("error:"), s.Err)
	}
}

func describe(d recurrence.Decision) string {
	switch d := d.(type) {
	case recurrence.CloneOnly:
		return fmt.Sprintf("clone #%d %q due %s (%s)", d.TemplateID(), d.Clone.Template.WP.Subject, d.Clone.DueDate, d.Clone.Policy)
	case recurrence.CloneAndUpdate:
		return fmt.Sprintf("clone #%d %q due %s and update %v", d.TemplateID(), d.Clone.Template.WP.Subject, d.Clone.DueDate, d.Update.Overrides)
	case recurrence.UpdateOnly:
		return fmt.Sprintf("update #%d %v", d.TemplateID(), d.Update.Overrides)
	case recurrence.NoAction:
		return fmt.Sprintf("nothing for #%d: %s", d.TemplateID(), d.Reason)
	default:
		return fmt.Sprintf("unknown decision %T", d)
	}
}

func printHistory(w io.Writer, runs []storage.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("no runs recorded"))
		return
	}
	for _, r := range runs {
		state := okColor.Sprint("ok    ")
		if r.Error != "" {
			state = failColor.Sprint("failed")
		} else if r.DryRun {
			state = dryColor.Sprint("dry   ")
		}
		fmt.Fprintf(w, "%s %s %s today=%s clones=%d updates=%d failures=%d %s\n",
			dimColor.Sprint(r.Started.Local().Format("2006-01-02 15:04:05")), state, idColor.Sprint(r.ID),
			r.Today, r.Clones, r.Updates, r.Failures, dimColor.Sprintf("(%dms)", r.TookMS))
		for _, c := range r.Created {
			fmt.Fprintf(w, "    + #%d %q -> %s due %s (from #%d)\n", c.WorkPackageID, c.Subject, c.Project, c.Due, c.TemplateID)
		}
		if r.Error != "" {
			fmt.Fprintf(w, "    %s\n", failColor.Sprint(r.Error))
		}
	}
}
