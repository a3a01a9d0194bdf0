// Package export regenerates deterministic evidence documents from frozen
// datasets and proves their integrity by hash comparison.
package export

import (
	"strings"
	"time"

	"github.com/odyssey-erp/audithub/internal/shared"
)

// Type enumerates export formats.
type Type string

const (
	TypeExcel Type = "EXCEL"
	TypePDF   Type = "PDF"
	TypeCSV   Type = "CSV"
)

// Types lists every supported format.
var Types = []Type{TypeExcel, TypePDF, TypeCSV}

// ParseType validates an export format name.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case TypeExcel, TypePDF, TypeCSV:
		return t, nil
	default:
		return "", shared.E(shared.KindValidation, "export.ParseType", "unknown export type %q", raw)
	}
}

// Artifact is one stored export. The latest artifact per dataset and type is
// the verification baseline.
type Artifact struct {
	ID          int64     `json:"id"`
	CompanyID   int64     `json:"company_id"`
	DatasetID   int64     `json:"dataset_id"`
	ExportType  Type      `json:"export_type"`
	ContentHash string    `json:"content_hash"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	DownloadRef string    `json:"download_ref"`
	GeneratedBy int64     `json:"generated_by"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Determinism is the outcome of regenerating an export.
type Determinism struct {
	DatasetID          int64  `json:"dataset_id"`
	ExportType         Type   `json:"export_type"`
	IsDeterministic    bool   `json:"is_deterministic"`
	StoredHash         string `json:"stored_hash"`
	RecomputedHash     string `json:"recomputed_hash"`
	BaselineArtifactID int64  `json:"baseline_artifact_id"`
	EvidenceArtifactID int64  `json:"evidence_artifact_id,omitempty"`
}
