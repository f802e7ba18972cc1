package versions

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "w_name", "w_updatedAt", "w_json", "w_id", "w_version",
	"createdAt", "updatedAt", "description", "comment", "tags",
}

// WriteCSV writes list as CSV with a header row. Tags are a JSON array
// cell, empty when a version has none.
func WriteCSV(w io.Writer, list []*Version) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, v := range list {
		tags := ""
		if len(v.Tags) > 0 {
			b, err := json.Marshal(v.Tags)
			if err != nil {
				return fmt.Errorf("failed to marshal tags: %w", err)
			}
			tags = string(b)
		}
		record := []string{
			strconv.FormatInt(v.ID, 10),
			v.WorkflowName,
			v.WorkflowUpdatedAt.UTC().Format(time.RFC3339),
			v.JSON,
			v.WorkflowID,
			v.VersionUUID,
			v.CreatedAt.UTC().Format(time.RFC3339),
			v.UpdatedAt.UTC().Format(time.RFC3339),
			v.Description,
			v.Comment,
			tags,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
