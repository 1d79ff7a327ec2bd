package cache

import (
	"github.com/c360studio/propscout/provider"
)

// Quota is a monthly call budget. Zero limits are unlimited. Cache hits
// never count against it.
type Quota struct {
	// MonthlyLimit caps real calls across all endpoints.
	MonthlyLimit int `yaml:"monthly_limit" json:"monthly_limit"`

	// Limits caps real calls per endpoint.
	Limits map[string]int `yaml:"endpoints" json:"endpoints,omitempty"`
}

// Enabled reports whether any limit is set.
func (q Quota) Enabled() bool {
	if q.MonthlyLimit > 0 {
		return true
	}
	for _, n := range q.Limits {
		if n > 0 {
			return true
		}
	}
	return false
}

// Check returns a QuotaExceeded error when one more call to endpoint would
// exceed the budget.
func (q Quota) Check(u *Usage, endpoint string) error {
	if u == nil {
		return nil
	}
	if q.MonthlyLimit > 0 && u.TotalCalls >= q.MonthlyLimit {
		return provider.Errorf(provider.KindQuotaExceeded, endpoint,
			"monthly limit of %d calls reached for %s", q.MonthlyLimit, u.MonthName)
	}
	if limit := q.Limits[endpoint]; limit > 0 && u.ByEndpoint[endpoint].Calls >= limit {
		return provider.Errorf(provider.KindQuotaExceeded, endpoint,
			"%s limit of %d calls reached for %s", endpoint, limit, u.MonthName)
	}
	return nil
}
