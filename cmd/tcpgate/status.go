package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	spfcbr "github.com/spf13/cobra"

	libfwd "github.com/sabouaram/tcpgate/internal/forward"
)

var statusURL string

func statusCmd() *spfcbr.Command {
	cmd := &spfcbr.Command{
		Use:   "status",
		Short: "Render a live table of listener stats polled from the admin plane",
		RunE: func(cmd *spfcbr.Command, args []string) error {
			p := tea.NewProgram(newStatusModel(statusURL))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&statusURL, "url", "http://127.0.0.1:8443/apiserver/stats/listeners", "admin plane stats endpoint")
	return cmd
}

type tickMsg time.Time

type statsMsg struct {
	stats map[string]libfwd.ListenerStatsView
	err   error
}

// statusModel is the bubbletea model for `tcpgate status`: a live table
// polling the admin plane's listener stats once a second.
type statusModel struct {
	url  string
	rows map[string]libfwd.ListenerStatsView
	err  error
}

func newStatusModel(url string) statusModel {
	return statusModel{url: url}
}

func (m statusModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m statusModel) poll() tea.Cmd {
	url := m.url
	return func() tea.Msg {
		resp, err := http.Get(url)
		if err != nil {
			return statsMsg{err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		var stats map[string]libfwd.ListenerStatsView
		if err = json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return statsMsg{err: err}
		}
		return statsMsg{stats: stats}
	}
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.poll(), tick())
	case statsMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.rows = msg.stats
			m.err = nil
		}
	}
	return m, nil
}

func (m statusModel) View() string {
	if m.err != nil {
		return color.RedString("error polling %s: %s\n(press q to quit)", m.url, m.err.Error())
	}

	names := make([]string, 0, len(m.rows))
	for n := range m.rows {
		names = append(names, n)
	}
	sort.Strings(names)

	header := color.New(color.Bold).Sprintf("%-20s %8s %8s %12s %12s\n", "LISTENER", "TOTAL", "ACTIVE", "UPLOADED", "DOWNLOADED")
	out := header
	for _, n := range names {
		s := m.rows[n]
		out += fmt.Sprintf("%-20s %8d %8d %12d %12d\n", n, s.Total, s.Active, s.UploadedBytes, s.DownloadedBytes)
	}
	out += "\n(press q to quit)\n"
	return out
}
