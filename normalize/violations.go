package normalize

import (
	"strings"

	"github.com/c360studio/propscout/property"
	"github.com/c360studio/propscout/soql"
)

// HPD normalizes housing maintenance code violations.
func HPD(rows []soql.Row) *property.HPDViolations {
	out := &property.HPDViolations{Items: make([]property.HPDViolation, 0, len(rows))}
	for _, row := range rows {
		r := record(row)
		v := property.HPDViolation{
			ViolationID:       r.str("violationid"),
			BuildingID:        r.str("buildingid"),
			Address:           joinNonEmpty(" ", r.str("housenumber"), r.str("streetname")),
			Apartment:         r.str("apartment"),
			Story:             r.str("story"),
			Class:             r.str("class"),
			InspectionDate:    r.date("inspectiondate"),
			CertifyByDate:     r.date("originalcertifybydate"),
			CurrentStatus:     strings.ToUpper(r.str("currentstatus", "violationstatus")),
			CurrentStatusDate: r.date("currentstatusdate"),
			Description:       r.str("novdescription"),
			ViolationStatus:   r.str("violationstatus"),
		}
		if v.Open() {
			out.OpenCount++
		}
		out.Items = append(out.Items, v)
	}
	return out
}

// DOB normalizes Department of Buildings violations.
func DOB(rows []soql.Row) *property.DOBViolations {
	out := &property.DOBViolations{Items: make([]property.DOBViolation, 0, len(rows))}
	for _, row := range rows {
		r := record(row)
		v := property.DOBViolation{
			ISN:                 r.str("isn_dob_bis_viol"),
			ViolationNumber:     r.str("violation_number", "number"),
			ECBNumber:           r.str("ecb_number"),
			ViolationType:       r.str("violation_type_description", "violation_type"),
			ViolationCategory:   r.str("violation_category"),
			IssueDate:           r.date("issue_date"),
			DispositionDate:     r.date("disposition_date"),
			DispositionComments: r.str("disposition_comments"),
			DeviceNumber:        r.str("device_number"),
			Description:         r.str("description"),
		}
		v.Status = "RESOLVED"
		if v.Open() {
			v.Status = "OPEN"
			out.OpenCount++
		}
		out.Items = append(out.Items, v)
	}
	return out
}

// ECB normalizes Environmental Control Board violations. The balance column
// has been published under several spellings, including the misspelled
// amount_balace_due.
func ECB(rows []soql.Row) *property.ECBViolations {
	out := &property.ECBViolations{Items: make([]property.ECBViolation, 0, len(rows))}
	for _, row := range rows {
		r := record(row)
		v := property.ECBViolation{
			ECBNumber:            r.str("ecb_violation_number"),
			BIN:                  r.str("bin"),
			IssueDate:            r.date("issue_date"),
			ViolationType:        r.str("violation_type"),
			Severity:             r.str("severity"),
			ViolationDescription: r.str("violation_description", "section_law_description1"),
			PenaltyImposed:       r.num("penality_imposed", "penalty_imposed"),
			AmountPaid:           r.num("amount_paid"),
			BalanceDue:           r.num("balance_due", "amount_balance_due", "amount_balace_due"),
			Status:               strings.ToUpper(r.str("ecb_violation_status")),
			HearingStatus:        r.str("hearing_status"),
			HearingDate:          r.date("hearing_date"),
		}
		if v.Open() {
			out.OpenCount++
		}
		out.Items = append(out.Items, v)
	}
	return out
}

// Violations rolls the three agency lists into one value. Any list may be
// nil when its fetch failed.
func Violations(hpd *property.HPDViolations, dob *property.DOBViolations, ecb *property.ECBViolations) *property.Violations {
	v := &property.Violations{HPD: hpd, DOB: dob, ECB: ecb}
	v.TotalOpen = v.ComputeTotalOpen()
	return v
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
