// Package tui drives the live terminal view for long-running jobs.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/SpillwaveSolutions/agent-brain/internal/job"
	"github.com/SpillwaveSolutions/agent-brain/internal/output"
)

// JobUpdateMsg delivers a fresh job snapshot into the watch view.
type JobUpdateMsg job.Job

// watchModel is the live view for one job: status, progress bar, counters.
type watchModel struct {
	job     job.Job
	bar     progress.Model
	spin    spinner.Model
	styles  output.Styles
	started time.Time
	aborted bool
}

func newWatchModel(initial job.Job) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return watchModel{
		job:     initial,
		bar:     progress.New(progress.WithDefaultGradient()),
		spin:    sp,
		styles:  output.DefaultStyles(),
		started: time.Now(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		}
		return m, nil

	case JobUpdateMsg:
		m.job = job.Job(msg)
		if m.job.Status.Terminal() {
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 8
		return m, nil
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	head := fmt.Sprintf("%s %s", m.job.Kind, m.styles.Dim.Render(m.job.ID))
	b.WriteString(m.styles.Header.Render(head) + "\n\n")

	status := string(m.job.Status)
	switch m.job.Status {
	case job.StatusRunning:
		status = m.spin.View() + m.styles.Accent.Render(status)
	case job.StatusDone:
		status = m.styles.Success.Render(status)
	case job.StatusFailed, job.StatusCancelled:
		status = m.styles.Error.Render(status)
	}
	b.WriteString("  " + status + "\n")

	if p := m.job.Progress; p != nil {
		if p.FilesTotal > 0 {
			ratio := float64(p.FilesDone) / float64(p.FilesTotal)
			b.WriteString("  " + m.bar.ViewAs(ratio) + "\n")
			b.WriteString(m.styles.Label.Render(
				fmt.Sprintf("  %d/%d files, %d chunks", p.FilesDone, p.FilesTotal, p.Chunks)) + "\n")
		} else {
			b.WriteString(m.styles.Label.Render(fmt.Sprintf("  %d chunks", p.Chunks)) + "\n")
		}
	}
	if m.job.Error != "" {
		b.WriteString(m.styles.Error.Render("  "+m.job.Error) + "\n")
	}

	b.WriteString(m.styles.Dim.Render(
		fmt.Sprintf("\n  elapsed %s · q to detach", time.Since(m.started).Round(time.Second))))
	return m.styles.Panel.Render(b.String()) + "\n"
}

// Watch runs the live view until the job reaches a terminal state or the
// user detaches. Updates arrive on the channel; the final snapshot is
// returned with detached=true when the user quit early.
func Watch(initial job.Job, updates <-chan job.Job) (final job.Job, detached bool, err error) {
	p := tea.NewProgram(newWatchModel(initial))

	go func() {
		for j := range updates {
			p.Send(JobUpdateMsg(j))
		}
	}()

	model, err := p.Run()
	if err != nil {
		return initial, false, err
	}
	m := model.(watchModel)
	return m.job, m.aborted, nil
}

// WatchPlain is the non-TTY fallback: one line per distinct snapshot.
func WatchPlain(w *output.Writer, initial job.Job, updates <-chan job.Job) job.Job {
	last := initial
	w.Printf("%s %s %s", last.Kind, last.ID, last.Status)
	for j := range updates {
		if p := j.Progress; p != nil && p.FilesTotal > 0 {
			w.Printf("%s %d/%d files, %d chunks", j.Status, p.FilesDone, p.FilesTotal, p.Chunks)
		} else {
			w.Printf("%s", j.Status)
		}
		last = j
		if j.Status.Terminal() {
			break
		}
	}
	return last
}
