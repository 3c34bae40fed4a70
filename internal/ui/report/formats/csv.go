package formats

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

var csvHeader = []string{
	"fingerprint", "type", "severity", "raw_score", "state_key", "state_type",
	"atom_a", "access_a", "file_a", "line_a",
	"atom_b", "access_b", "file_b", "line_b",
	"mitigated", "mitigation_type", "confidence", "testing_priority",
}

// GenerateCSV renders one row per race in report order.
func GenerateCSV(data ReportData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range data.Result.Races {
		a, b := r.Accesses[0], r.Accesses[1]
		row := []string{
			r.Fingerprint(),
			string(r.Type),
			string(r.Severity),
			strconv.FormatFloat(r.Risk.RawScore, 'f', 4, 64),
			r.StateKey,
			string(r.StateType),
			a.Atom, string(a.Type), relPath(data.ProjectRoot, a.File), strconv.Itoa(a.Line),
			b.Atom, string(b.Type), relPath(data.ProjectRoot, b.File), strconv.Itoa(b.Line),
			strconv.FormatBool(r.HasMitigation),
			r.Mitigation.MitigationType,
			r.Mitigation.Confidence,
			r.Risk.Testing.Priority,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row for %s: %w", r.StateKey, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
