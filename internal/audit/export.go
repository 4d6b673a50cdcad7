package audit

import (
	"encoding/csv"
	"io"
	"time"
)

var csvHeader = []string{"id", "occurred_at", "principal_id", "tenant_id", "action", "resource_type", "resource_id", "outcome", "detail"}

// WriteCSV serialises records in timeline order.
func WriteCSV(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writer.Write([]string{
			rec.ID,
			rec.OccurredAt.UTC().Format(time.RFC3339),
			rec.PrincipalID,
			deref(rec.TenantID),
			rec.Action,
			rec.ResourceType,
			deref(rec.ResourceID),
			string(rec.Outcome),
			string(rec.Detail),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
