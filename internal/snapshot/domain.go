// Package snapshot freezes the live data of one business module for one period
// into an immutable, content-hashed dataset.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/audithub/internal/shared"
)

// Module names a snapshotted business module.
type Module string

const (
	ModuleSales     Module = "SALES"
	ModulePurchases Module = "PURCHASES"
	ModuleInventory Module = "INVENTORY"
	ModuleVAT       Module = "VAT"
	ModuleBank      Module = "BANK"
)

// Modules lists every module in persistence order.
var Modules = []Module{ModuleSales, ModulePurchases, ModuleInventory, ModuleVAT, ModuleBank}

// ParseModule validates a module name.
func ParseModule(raw string) (Module, error) {
	m := Module(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case ModuleSales, ModulePurchases, ModuleInventory, ModuleVAT, ModuleBank:
		return m, nil
	default:
		return "", shared.E(shared.KindValidation, "snapshot.ParseModule", "unknown module %q", raw)
	}
}

// FieldKind selects the canonical rendering of a field.
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldDate
	FieldDecimal
)

// Field is one column of a module schema.
type Field struct {
	Name string
	Kind FieldKind
}

// AmountField is summed into the dataset total and the source control total.
const AmountField = "amount"

var schemas = map[Module][]Field{
	ModuleSales: {
		{"date", FieldDate}, {"reference", FieldText}, {"counterparty", FieldText},
		{"amount", FieldDecimal}, {"tax_amount", FieldDecimal}, {"status", FieldText},
	},
	ModulePurchases: {
		{"date", FieldDate}, {"reference", FieldText}, {"counterparty", FieldText},
		{"amount", FieldDecimal}, {"tax_amount", FieldDecimal}, {"status", FieldText},
	},
	ModuleInventory: {
		{"date", FieldDate}, {"reference", FieldText}, {"product_code", FieldText},
		{"quantity", FieldDecimal}, {"amount", FieldDecimal}, {"status", FieldText},
	},
	ModuleVAT: {
		{"date", FieldDate}, {"reference", FieldText}, {"tax_code", FieldText},
		{"base_amount", FieldDecimal}, {"amount", FieldDecimal}, {"status", FieldText},
	},
	ModuleBank: {
		{"date", FieldDate}, {"reference", FieldText}, {"account", FieldText},
		{"amount", FieldDecimal}, {"status", FieldText},
	},
}

// Schema returns the fields of m in declaration order.
func (m Module) Schema() []Field {
	return schemas[m]
}

// FieldNames returns the schema field names of m.
func (m Module) FieldNames() []string {
	fields := schemas[m]
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Dataset is the immutable snapshot header of one module for one period.
type Dataset struct {
	ID          int64           `json:"id"`
	CompanyID   int64           `json:"company_id"`
	PeriodID    int64           `json:"period_id"`
	Module      Module          `json:"module_name"`
	RecordCount int             `json:"record_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ModuleHash  string          `json:"module_hash"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Record is one frozen source row in canonical form.
type Record struct {
	DatasetID  int64             `json:"dataset_id"`
	SourceID   int64             `json:"source_id"`
	Fields     map[string]string `json:"fields"`
	RecordHash string            `json:"record_hash"`
}

// PeriodRef carries the period attributes a build needs.
type PeriodRef struct {
	ID        int64
	CompanyID int64
	StartDate time.Time
	EndDate   time.Time
}

// SourceQuery selects the live rows of one module within a date range.
type SourceQuery struct {
	CompanyID int64
	PeriodID  int64
	Module    Module
	StartDate time.Time
	EndDate   time.Time
}

// SourceRow is one live row as read from the source. Values may be strings,
// numbers, decimals, times, booleans, pointers to those, or nil.
type SourceRow struct {
	SourceID int64
	Fields   map[string]any
}

// SourceBatch is the result of one source read plus the control totals the
// source computed over the same rows.
type SourceBatch struct {
	Rows          []SourceRow
	ControlCount  int
	ControlAmount decimal.Decimal
}

// Source reads the live projection of a module.
type Source interface {
	Fetch(ctx context.Context, q SourceQuery) (SourceBatch, error)
}

// Snapshot is a built but not yet persisted dataset.
type Snapshot struct {
	Dataset Dataset
	Records []Record
}

// RecordPage is one page of records.
type RecordPage struct {
	Records    []Record          `json:"records"`
	Pagination shared.Pagination `json:"pagination"`
}

// Verification reports whether stored records still hash to the stored
// module hash.
type Verification struct {
	DatasetID         int64   `json:"dataset_id"`
	Valid             bool    `json:"valid"`
	StoredHash        string  `json:"stored_hash"`
	RecomputedHash    string  `json:"recomputed_hash"`
	RecordCount       int     `json:"record_count"`
	TamperedSourceIDs []int64 `json:"tampered_source_ids,omitempty"`
}

func (v Verification) String() string {
	return fmt.Sprintf("dataset %d stored=%s recomputed=%s", v.DatasetID, v.StoredHash, v.RecomputedHash)
}
