package export

import (
	"sort"
	"strconv"

	"github.com/odyssey-erp/audithub/internal/snapshot"
)

// MetaField is one header line of a document.
type MetaField struct {
	Key   string
	Value string
}

// Document is the format-neutral canonical table rendered by every format.
// It carries no generation timestamp so regeneration is byte-stable.
type Document struct {
	Meta    []MetaField
	Columns []string
	Rows    [][]string
}

// NewDocument lays out a dataset: source_id, the sorted schema fields, then
// record_hash, one row per record in source id order.
func NewDocument(d snapshot.Dataset, records []snapshot.Record) Document {
	fields := d.Module.FieldNames()
	sort.Strings(fields)
	columns := make([]string, 0, len(fields)+2)
	columns = append(columns, snapshot.SourceIDField)
	columns = append(columns, fields...)
	columns = append(columns, "record_hash")

	ordered := append([]snapshot.Record(nil), records...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SourceID < ordered[j].SourceID })

	rows := make([][]string, 0, len(ordered))
	for _, rec := range ordered {
		row := make([]string, 0, len(columns))
		row = append(row, strconv.FormatInt(rec.SourceID, 10))
		for _, f := range fields {
			row = append(row, rec.Fields[f])
		}
		row = append(row, rec.RecordHash)
		rows = append(rows, row)
	}

	return Document{
		Meta: []MetaField{
			{Key: "dataset", Value: strconv.FormatInt(d.ID, 10)},
			{Key: "period", Value: strconv.FormatInt(d.PeriodID, 10)},
			{Key: "module", Value: string(d.Module)},
			{Key: "record_count", Value: strconv.Itoa(d.RecordCount)},
			{Key: "total_amount", Value: d.TotalAmount.StringFixed(2)},
			{Key: "module_hash", Value: d.ModuleHash},
		},
		Columns: columns,
		Rows:    rows,
	}
}
