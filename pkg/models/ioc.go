package models

import "time"

// IOCType enumerates the indicator kinds accepted by ingestion.
type IOCType string

const (
	IOCTypeURL            IOCType = "url"
	IOCTypeDomain         IOCType = "domain"
	IOCTypeIPv4           IOCType = "ipv4"
	IOCTypeSHA256         IOCType = "sha256"
	IOCTypeMD5            IOCType = "md5"
	IOCTypeEmail          IOCType = "email"
	IOCTypeSubjectKeyword IOCType = "subject_keyword"
)

// ValidIOCType reports whether t is one of the accepted indicator kinds.
func ValidIOCType(t IOCType) bool {
	switch t {
	case IOCTypeURL, IOCTypeDomain, IOCTypeIPv4, IOCTypeSHA256, IOCTypeMD5, IOCTypeEmail, IOCTypeSubjectKeyword:
		return true
	}
	return false
}

// Classification is the analyst-assigned verdict carried on the IOC row.
// It upgrades from unknown toward a specific verdict but never downgrades.
type Classification string

const (
	ClassMalicious  Classification = "malicious"
	ClassSuspicious Classification = "suspicious"
	ClassBenign     Classification = "benign"
	ClassUnknown    Classification = "unknown"
)

// ValidClassification reports whether c is a recognized classification.
func ValidClassification(c Classification) bool {
	switch c {
	case ClassMalicious, ClassSuspicious, ClassBenign, ClassUnknown:
		return true
	}
	return false
}

// IOC is a single indicator of compromise. (value, type, source_platform)
// is the business key ingestion deduplicates on.
type IOC struct {
	ID             int64          `json:"id"`
	Value          string         `json:"value"`
	Type           IOCType        `json:"type"`
	Classification Classification `json:"classification"`
	SourcePlatform string         `json:"sourcePlatform"`
	EmailID        string         `json:"emailId,omitempty"`
	CampaignID     string         `json:"campaignId,omitempty"`
	UserReported   bool           `json:"userReported"`
	FirstSeen      *time.Time     `json:"firstSeen,omitempty"`
	LastSeen       *time.Time     `json:"lastSeen,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Upload records one ingested CSV file. Jobs reference it to find their batch.
type Upload struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	RowsOK     int       `json:"rowsOk"`
	RowsFailed int       `json:"rowsFailed"`
	TotalRows  int       `json:"totalRows"`
	FileSize   int64     `json:"fileSize"`
	MimeType   string    `json:"mimeType"`
	CreatedAt  time.Time `json:"createdAt"`
}
