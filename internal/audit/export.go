package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"attestor/internal/domain"
)

// ExportFormat selects the serialisation of an audit export.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
	FormatXML  ExportFormat = "xml"
)

// ParseExportFormat validates an export format from external input.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case FormatJSON, FormatCSV, FormatXML:
		return ExportFormat(s), nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// xmlEntry carries the minimum export field set in hierarchical form.
type xmlEntry struct {
	XMLName             xml.Name  `xml:"entry"`
	ID                  string    `xml:"id"`
	Timestamp           time.Time `xml:"timestamp"`
	EventType           string    `xml:"eventType"`
	AttestationID       string    `xml:"attestationId,omitempty"`
	Actor               string    `xml:"actor"`
	Result              string    `xml:"result"`
	CulturallySensitive bool      `xml:"culturallySensitive"`
}

type xmlExport struct {
	XMLName xml.Name   `xml:"auditTrail"`
	Entries []xmlEntry `xml:"entry"`
}

// ExportAuditData serialises the filtered entries. All formats carry at
// minimum: id, timestamp, event type, attestation id, actor, result, and the
// cultural-sensitivity flag.
func (l *Logger) ExportAuditData(ctx context.Context, q Query, format ExportFormat) ([]byte, error) {
	entries, err := l.store.List(ctx, q)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return json.MarshalIndent(entries, "", "  ")

	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		header := []string{"id", "timestamp", "eventType", "attestationId", "actor", "result", "culturallySensitive"}
		if err := w.Write(header); err != nil {
			return nil, err
		}
		for _, e := range entries {
			row := []string{
				e.ID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				string(e.EventType),
				e.AttestationID,
				e.Actor,
				string(e.Result),
				strconv.FormatBool(e.CulturallySensitive),
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
		w.Flush()
		return buf.Bytes(), w.Error()

	case FormatXML:
		doc := xmlExport{}
		for _, e := range entries {
			doc.Entries = append(doc.Entries, toXMLEntry(e))
		}
		out, err := xml.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append([]byte(xml.Header), out...), nil
	}

	return nil, fmt.Errorf("unsupported export format %q", format)
}

func toXMLEntry(e *domain.AuditEntry) xmlEntry {
	return xmlEntry{
		ID:                  e.ID,
		Timestamp:           e.Timestamp.UTC(),
		EventType:           string(e.EventType),
		AttestationID:       e.AttestationID,
		Actor:               e.Actor,
		Result:              string(e.Result),
		CulturallySensitive: e.CulturallySensitive,
	}
}
