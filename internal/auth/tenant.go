package auth

import (
	"fmt"

	"github.com/google/uuid"
)

// DefaultTenantID is the sentinel tenant for principals without a company
// affiliation.
const DefaultTenantID = "00000000-0000-0000-0000-000000000000"

// TenantID derives a deterministic tenant identifier by zero-padding the
// numeric company code into a fixed GUID template: company 12 becomes
// 00000012-0000-0000-0000-000000000000. Codes that do not fit the template
// fall back to the sentinel tenant.
func TenantID(companyCode int) string {
	if companyCode <= 0 {
		return DefaultTenantID
	}
	candidate := fmt.Sprintf("%08d-0000-0000-0000-000000000000", companyCode)
	if _, err := uuid.Parse(candidate); err != nil {
		return DefaultTenantID
	}
	return candidate
}
