package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kebairia/backman/internal/config"
)

// Outcome is the per-target line of a report.
type Outcome struct {
	Target   string
	Type     string
	Success  bool
	Detail   string // archive path or error message
	Duration time.Duration
}

// Report summarises one backup run for the operator.
type Report struct {
	Host       string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
}

// Failed counts failed targets.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Success {
			n++
		}
	}
	return n
}

// Notifier turns run reports into emails.
type Notifier struct {
	mailer Mailer
	cfg    config.EmailConfig
}

// New returns a Notifier. A nil mailer or disabled config makes every
// call a no-op.
func New(cfg config.EmailConfig, mailer Mailer) *Notifier {
	return &Notifier{mailer: mailer, cfg: cfg}
}

// Enabled reports whether NotifyRun will try to send anything.
func (n *Notifier) Enabled() bool {
	return n != nil && n.mailer != nil && n.cfg.Enabled
}

// NotifyRun sends the summary email. It returns (false, nil) when nothing
// was sent because email is disabled or the run succeeded and only
// failures are reported.
func (n *Notifier) NotifyRun(ctx context.Context, r Report) (sent bool, err error) {
	if !n.Enabled() {
		return false, nil
	}
	if n.cfg.OnlyOnFailure && r.Failed() == 0 {
		return false, nil
	}
	msg := Message{
		From:    n.cfg.From,
		To:      n.cfg.Recipients,
		Subject: Subject(r),
		Body:    Body(r),
		Date:    r.FinishedAt,
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		return false, err
	}
	return true, nil
}

// Subject indicates success or failure at a glance.
func Subject(r Report) string {
	total := len(r.Outcomes)
	host := ""
	if r.Host != "" {
		host = " on " + r.Host
	}
	if failed := r.Failed(); failed > 0 {
		return fmt.Sprintf("[backman] backup FAILED%s (%d of %d targets failed)", host, failed, total)
	}
	return fmt.Sprintf("[backman] backup succeeded%s (%d targets)", host, total)
}

// Body lists every target outcome.
func Body(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backup run started %s, finished %s (%s).\n\n",
		r.StartedAt.Format("2006-01-02 15:04:05"),
		r.FinishedAt.Format("2006-01-02 15:04:05"),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	for _, o := range r.Outcomes {
		status := "OK    "
		if !o.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&b, "%s %-20s %-9s %8s  %s\n",
			status, o.Target, o.Type, o.Duration.Round(time.Millisecond), o.Detail)
	}

	fmt.Fprintf(&b, "\n%d succeeded, %d failed.\n", len(r.Outcomes)-r.Failed(), r.Failed())
	return b.String()
}
