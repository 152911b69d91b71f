package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/sweepwatch/internal/progress"
)

// printValue writes v as JSON or YAML. It reports false for table output.
func printValue(w io.Writer, v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return true, encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return true, encoder.Encode(v)
	case "table", "":
		return false, nil
	}
	return true, fmt.Errorf("unknown output format %q", outputFormat)
}

// printModel renders one render model in the selected output format
func printModel(m progress.RenderModel) error {
	if done, err := printValue(os.Stdout, m); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	for _, row := range modelRows(m) {
		table.Append(row)
	}
	return table.Render()
}

func modelRows(m progress.RenderModel) [][]string {
	rows := [][]string{
		{"Phase", string(m.Phase)},
		{"Status", m.StatusText},
	}
	if m.RunID != "" {
		rows = append(rows, []string{"Run ID", m.RunID})
	}
	if m.ETA != "" {
		rows = append(rows, []string{"ETA", m.ETA})
	}
	if !m.StartedAt.IsZero() && m.Phase.Active() {
		rows = append(rows, []string{"Started", m.StartedAt.Format(time.DateTime)})
	}

	switch {
	case m.Preparing != nil:
		if s := m.Preparing.Subscriptions; s != nil {
			rows = append(rows, []string{"Subscriptions", fmt.Sprintf("local=%d remote=%d history=%d total=%d",
				s.Local, s.Remote, s.History, s.Total)})
		} else {
			rows = append(rows, []string{"Subscriptions", "fetching..."})
		}

	case m.Progress != nil:
		p := m.Progress
		rows = append(rows,
			[]string{"Progress", fmt.Sprintf("%.1f%% (%d/%d)", p.Percent, p.Processed, p.Total)},
			[]string{"Available", fmt.Sprintf("%d", p.Available)},
			[]string{"Elapsed", p.Elapsed.Round(time.Second).String()},
		)
		if p.Message != "" {
			rows = append(rows, []string{"Message", p.Message})
		}

	case m.History != nil:
		h := m.History
		if !h.Found {
			rows = append(rows, []string{"Last run", progress.HistoryNotFoundLabel})
			break
		}
		last := string(h.Source)
		if !h.Time.IsZero() {
			last = fmt.Sprintf("%s (%s)", h.Time.Format(time.DateTime), h.Source)
		}
		rows = append(rows,
			[]string{"Last run", last},
			[]string{"Duration", h.DurationText},
			[]string{"Nodes", h.TotalText},
			[]string{"Available", fmt.Sprintf("%d", h.Available)},
		)
	}
	return rows
}
