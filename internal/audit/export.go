package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

var exportHeader = []string{"At", "Actor ID", "Actor", "Action", "Entity", "Entity ID", "Meta"}

// Exporter renders timeline rows as downloadable files.
type Exporter struct{}

// NewExporter constructs an Exporter.
func NewExporter() *Exporter { return &Exporter{} }

func exportRecord(row TimelineRow) []string {
	meta := ""
	if len(row.Meta) > 0 {
		if raw, err := json.Marshal(row.Meta); err == nil {
			meta = string(raw)
		}
	}
	return []string{
		row.At.UTC().Format(time.RFC3339),
		strconv.FormatInt(row.ActorID, 10),
		row.ActorEmail,
		row.Action,
		row.Entity,
		row.EntityID,
		meta,
	}
}

// WriteCSV serialises rows to CSV.
func (e *Exporter) WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := writer.Write(exportRecord(row)); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}

// WriteXLSX serialises rows to a single-sheet workbook.
func (e *Exporter) WriteXLSX(rows []TimelineRow) ([]byte, error) {
	const sheet = "Audit"
	book := excelize.NewFile()
	defer book.Close()
	if err := book.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for i, record := range append([][]string{exportHeader}, records(rows)...) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		values := make([]any, len(record))
		for j, v := range record {
			values[j] = v
		}
		if err := book.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func records(rows []TimelineRow) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = exportRecord(row)
	}
	return out
}
