package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vyrodovalexey/aggregw/internal/registry"
)

var recordHeader = table.Row{"Name", "Base URL", "Version", "Health", "Last Check", "Registered", "Endpoints"}

func (a *app) printRecords(records map[string]registry.ServiceRecord) error {
	names := registry.Names(records)

	if a.output == OutputJSON {
		list := make([]registry.ServiceRecord, 0, len(names))
		for _, name := range names {
			list = append(list, records[name])
		}
		return a.printJSON(list)
	}

	t := newTable()
	for _, name := range names {
		t.AppendRow(recordRow(records[name]))
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", fmt.Sprintf("%d services", len(names))})

	_, err := fmt.Fprintln(a.out, t.Render())
	return err
}

func (a *app) printRecord(record registry.ServiceRecord) error {
	if a.output == OutputJSON {
		return a.printJSON(record)
	}

	t := newTable()
	t.AppendRow(recordRow(record))

	_, err := fmt.Fprintln(a.out, t.Render())
	return err
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(recordHeader)
	return t
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func recordRow(r registry.ServiceRecord) table.Row {
	health := "down"
	if r.Healthy {
		health = "up"
	}
	lastCheck := "-"
	if r.LastHealthCheck != nil {
		lastCheck = r.LastHealthCheck.UTC().Format(time.RFC3339)
	}
	endpoints := "-"
	if len(r.Endpoints) > 0 {
		endpoints = strings.Join(r.Endpoints, ", ")
	}
	return table.Row{
		r.Name,
		r.BaseURL,
		r.Version,
		health,
		lastCheck,
		r.RegisteredAt.UTC().Format(time.RFC3339),
		endpoints,
	}
}
