package property

import (
	"sort"
	"strings"
	"time"
)

// DocumentClass buckets an ACRIS document.
type DocumentClass string

// Document classes.
const (
	ClassDeed     DocumentClass = "deed"
	ClassMortgage DocumentClass = "mortgage"
	ClassLien     DocumentClass = "lien"
	ClassOther    DocumentClass = "other"
)

// DefaultDisplayLimit is the per-class count shown in summaries.
const DefaultDisplayLimit = 5

// Document is one recorded ACRIS master document.
type Document struct {
	DocumentID       string  `json:"document_id"`
	DocType          string  `json:"doc_type"`
	DocumentDate     string  `json:"document_date"`
	RecordedDatetime string  `json:"recorded_datetime"`
	Amount           float64 `json:"amount"`
	CRFN             string  `json:"crfn"`
	Borough          string  `json:"borough"`
}

// Class returns the bucket for d. Deed is checked first, so a type
// containing both DEED and MORTGAGE is a deed.
func (d Document) Class() DocumentClass {
	return Classify(d.DocType)
}

// Classify buckets a raw doc_type.
func Classify(docType string) DocumentClass {
	t := strings.ToUpper(strings.TrimSpace(docType))
	switch {
	case strings.Contains(t, "DEED") || t == "RPTT":
		return ClassDeed
	case strings.Contains(t, "MTGE") || strings.Contains(t, "MORTGAGE") || strings.Contains(t, "AGMT"):
		return ClassMortgage
	case strings.Contains(t, "LIEN") || strings.Contains(t, "JUDGM") || strings.Contains(t, "FTL"):
		return ClassLien
	default:
		return ClassOther
	}
}

// ACRIS is the chain-of-title view of a lot. Each list holds every matching
// document, newest first.
type ACRIS struct {
	Deeds     []Document `json:"deeds"`
	Mortgages []Document `json:"mortgages"`
	Liens     []Document `json:"liens"`
	Other     []Document `json:"other"`
	Total     int        `json:"total"`
}

// NewACRIS classifies docs and orders each class by recorded time,
// descending. Ties keep a stable order by document id.
func NewACRIS(docs []Document) *ACRIS {
	sorted := append([]Document(nil), docs...)
	SortByRecorded(sorted)

	a := &ACRIS{
		Deeds:     []Document{},
		Mortgages: []Document{},
		Liens:     []Document{},
		Other:     []Document{},
		Total:     len(sorted),
	}
	for _, d := range sorted {
		switch d.Class() {
		case ClassDeed:
			a.Deeds = append(a.Deeds, d)
		case ClassMortgage:
			a.Mortgages = append(a.Mortgages, d)
		case ClassLien:
			a.Liens = append(a.Liens, d)
		default:
			a.Other = append(a.Other, d)
		}
	}
	return a
}

// Display returns a copy holding at most n documents per class. n <= 0
// uses DefaultDisplayLimit.
func (a *ACRIS) Display(n int) *ACRIS {
	if a == nil {
		return nil
	}
	if n <= 0 {
		n = DefaultDisplayLimit
	}
	return &ACRIS{
		Deeds:     head(a.Deeds, n),
		Mortgages: head(a.Mortgages, n),
		Liens:     head(a.Liens, n),
		Other:     head(a.Other, n),
		Total:     a.Total,
	}
}

// LatestDeed returns the most recent deed, if any.
func (a *ACRIS) LatestDeed() (Document, bool) {
	if a == nil || len(a.Deeds) == 0 {
		return Document{}, false
	}
	return a.Deeds[0], true
}

// SortByRecorded orders docs newest first in place.
func SortByRecorded(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, tj := recordedAt(docs[i]), recordedAt(docs[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return docs[i].DocumentID > docs[j].DocumentID
	})
}

var recordedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func recordedAt(d Document) time.Time {
	for _, v := range []string{d.RecordedDatetime, d.DocumentDate} {
		if v == "" {
			continue
		}
		for _, layout := range recordedLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func head(docs []Document, n int) []Document {
	if len(docs) > n {
		docs = docs[:n]
	}
	return append([]Document{}, docs...)
}
