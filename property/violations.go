package property

// Violations rolls up the three violation-issuing agencies. A nil list means
// that agency's fetch failed.
type Violations struct {
	HPD       *HPDViolations `json:"hpd"`
	DOB       *DOBViolations `json:"dob"`
	ECB       *ECBViolations `json:"ecb"`
	TotalOpen int            `json:"total_open"`
}

// HPDViolations lists housing maintenance code violations.
type HPDViolations struct {
	Items     []HPDViolation `json:"items"`
	OpenCount int            `json:"open_count"`
}

// HPDViolation is one HPD record. Class is the A/B/C severity as issued.
type HPDViolation struct {
	ViolationID       string `json:"violation_id"`
	BuildingID        string `json:"building_id"`
	Address           string `json:"address"`
	Apartment         string `json:"apartment"`
	Story             string `json:"story"`
	Class             string `json:"class"`
	InspectionDate    string `json:"inspection_date"`
	CertifyByDate     string `json:"certify_by_date"`
	CurrentStatus     string `json:"current_status"`
	CurrentStatusDate string `json:"current_status_date"`
	Description       string `json:"description"`
	ViolationStatus   string `json:"violation_status"`
}

// Open reports whether HPD still considers the violation active.
func (v HPDViolation) Open() bool { return v.CurrentStatus != "CLOSE" }

// DOBViolations lists Department of Buildings violations.
type DOBViolations struct {
	Items     []DOBViolation `json:"items"`
	OpenCount int            `json:"open_count"`
}

// DOBViolation is one DOB record.
type DOBViolation struct {
	ISN                 string `json:"isn"`
	ViolationNumber     string `json:"violation_number"`
	ECBNumber           string `json:"ecb_number"`
	ViolationType       string `json:"violation_type"`
	ViolationCategory   string `json:"violation_category"`
	IssueDate           string `json:"issue_date"`
	DispositionDate     string `json:"disposition_date"`
	DispositionComments string `json:"disposition_comments"`
	DeviceNumber        string `json:"device_number"`
	Description         string `json:"description"`
	Status              string `json:"status"`
}

// Open reports whether the violation has no disposition yet.
func (v DOBViolation) Open() bool { return v.DispositionDate == "" }

// ECBViolations lists Environmental Control Board violations.
type ECBViolations struct {
	Items     []ECBViolation `json:"items"`
	OpenCount int            `json:"open_count"`
}

// ECBViolation is one ECB record.
type ECBViolation struct {
	ECBNumber            string  `json:"ecb_number"`
	BIN                  string  `json:"bin"`
	IssueDate            string  `json:"issue_date"`
	ViolationType        string  `json:"violation_type"`
	Severity             string  `json:"severity"`
	ViolationDescription string  `json:"violation_description"`
	PenaltyImposed       float64 `json:"penalty_imposed"`
	AmountPaid           float64 `json:"amount_paid"`
	BalanceDue           float64 `json:"balance_due"`
	Status               string  `json:"status"`
	HearingStatus        string  `json:"hearing_status"`
	HearingDate          string  `json:"hearing_date"`
}

// Open reports whether the violation is unresolved.
func (v ECBViolation) Open() bool { return v.Status != "RESOLVE" }

// ComputeTotalOpen sums the open counts of the lists that are present.
func (v *Violations) ComputeTotalOpen() int {
	total := 0
	if v.HPD != nil {
		total += v.HPD.OpenCount
	}
	if v.DOB != nil {
		total += v.DOB.OpenCount
	}
	if v.ECB != nil {
		total += v.ECB.OpenCount
	}
	return total
}
