package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/threatforge/enrichment-engine/pkg/models"
)

// CSV batch ingestion.
//
// Required header columns: ioc_value, ioc_type. Optional: email_id,
// source_platform, classification, campaign_id, user_reported, notes.
// Column order is free; unknown columns are ignored.
// Bad rows are skipped and reported per-row, never failing the batch,
// so one typo in a 10k-row export does not block the rest.

const (
	maxRows     = 50000
	maxValueLen = 500
	maxFieldLen = 255
)

var (
	ErrEmptyFile     = errors.New("file contains no data rows")
	ErrMissingHeader = errors.New("missing required columns: ioc_value, ioc_type")
	ErrTooManyRows   = fmt.Errorf("file exceeds %d rows", maxRows)
)

// RowError reports one rejected row.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Batch is the parsed output of one CSV file, ready for persistence.
type Batch struct {
	Upload    models.Upload
	IOCs      []models.IOC
	RowErrors []RowError
}

// ParseCSV reads and validates a tabular IOC export. Returned IOCs are
// deduplicated on (value, type, source_platform) within the file; the
// database upsert handles cross-file duplicates.
func ParseCSV(r io.Reader, filename string, fileSize int64) (*Batch, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, ErrEmptyFile
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	valueCol, hasValue := cols["ioc_value"]
	typeCol, hasType := cols["ioc_type"]
	if !hasValue || !hasType {
		return nil, ErrMissingHeader
	}
	emailCol, hasEmail := cols["email_id"]
	platformCol, hasPlatform := cols["source_platform"]
	classCol, hasClass := cols["classification"]
	campaignCol, hasCampaign := cols["campaign_id"]
	reportedCol, hasReported := cols["user_reported"]
	notesCol, hasNotes := cols["notes"]

	batch := &Batch{
		Upload: models.Upload{
			Filename: filename,
			FileSize: fileSize,
			MimeType: "text/csv",
		},
	}
	seen := map[string]struct{}{}
	now := time.Now().UTC()
	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		batch.Upload.TotalRows++
		if batch.Upload.TotalRows > maxRows {
			return nil, ErrTooManyRows
		}
		if err != nil {
			batch.reject(line, "malformed CSV row")
			continue
		}

		field := func(idx int, ok bool) string {
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		value := field(valueCol, true)
		iocType := models.IOCType(strings.ToLower(field(typeCol, true)))

		switch {
		case value == "":
			batch.reject(line, "empty ioc_value")
			continue
		case len(value) > maxValueLen:
			batch.reject(line, "ioc_value too long")
			continue
		case !models.ValidIOCType(iocType):
			batch.reject(line, fmt.Sprintf("invalid ioc_type %q", field(typeCol, true)))
			continue
		}

		classification := models.ClassUnknown
		if raw := field(classCol, hasClass); raw != "" {
			c := models.Classification(strings.ToLower(raw))
			if !models.ValidClassification(c) {
				batch.reject(line, fmt.Sprintf("invalid classification %q", raw))
				continue
			}
			classification = c
		}

		platform := field(platformCol, hasPlatform)
		if len(platform) > maxFieldLen {
			platform = platform[:maxFieldLen]
		}

		key := value + "\x00" + string(iocType) + "\x00" + platform
		if _, dup := seen[key]; dup {
			batch.reject(line, "duplicate of earlier row")
			continue
		}
		seen[key] = struct{}{}

		reported := strings.EqualFold(field(reportedCol, hasReported), "true")

		firstSeen := now
		batch.IOCs = append(batch.IOCs, models.IOC{
			Value:          value,
			Type:           iocType,
			Classification: classification,
			SourcePlatform: platform,
			EmailID:        field(emailCol, hasEmail),
			CampaignID:     field(campaignCol, hasCampaign),
			UserReported:   reported,
			Notes:          field(notesCol, hasNotes),
			FirstSeen:      &firstSeen,
			LastSeen:       &firstSeen,
		})
		batch.Upload.RowsOK++
	}

	if batch.Upload.TotalRows == 0 {
		return nil, ErrEmptyFile
	}
	return batch, nil
}

func (b *Batch) reject(line int, reason string) {
	b.Upload.RowsFailed++
	b.RowErrors = append(b.RowErrors, RowError{Line: line, Reason: reason})
}
