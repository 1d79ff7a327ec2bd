package normalize

import (
	"strings"

	"github.com/c360studio/propscout/property"
	"github.com/c360studio/propscout/soql"
)

// MaxACRISDocuments caps the document ids collected from Legals.
const MaxACRISDocuments = 50

// LegalDocumentIDs returns the distinct document ids from ACRIS Legals rows,
// in row order, upper-cased and capped at limit. Ids that are not strictly
// alphanumeric are dropped so they can be safely quoted into a $where.
func LegalDocumentIDs(rows []soql.Row, limit int) []string {
	if limit <= 0 {
		limit = MaxACRISDocuments
	}
	seen := make(map[string]struct{}, len(rows))
	ids := []string{}
	for _, row := range rows {
		id := strings.ToUpper(record(row).str("document_id"))
		if !soql.ValidDocumentID(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids
}

// Documents normalizes ACRIS Master rows and orders them newest first.
func Documents(rows []soql.Row) []property.Document {
	docs := make([]property.Document, 0, len(rows))
	for _, row := range rows {
		r := record(row)
		id := strings.ToUpper(r.str("document_id"))
		if id == "" {
			continue
		}
		docs = append(docs, property.Document{
			DocumentID:       id,
			DocType:          r.str("doc_type"),
			DocumentDate:     r.date("document_date"),
			RecordedDatetime: r.date("recorded_datetime"),
			Amount:           r.num("document_amt"),
			CRFN:             r.str("crfn"),
			Borough:          r.str("recorded_borough", "borough"),
		})
	}
	property.SortByRecorded(docs)
	return docs
}
