package enums

import "fmt"

// ReceiptStatus tracks whether a stored receipt's side effects have run.
// A receipt is marked processed exactly once; the transition gates product
// grants and analytics dispatch.
type ReceiptStatus string

const (
	ReceiptStatusInitial   ReceiptStatus = "initial"
	ReceiptStatusProcessed ReceiptStatus = "processed"
)

var validReceiptStatuses = []ReceiptStatus{
	ReceiptStatusInitial,
	ReceiptStatusProcessed,
}

// String implements fmt.Stringer.
func (r ReceiptStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r ReceiptStatus) IsValid() bool {
	for _, candidate := range validReceiptStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReceiptStatus converts raw input into a ReceiptStatus.
func ParseReceiptStatus(value string) (ReceiptStatus, error) {
	for _, candidate := range validReceiptStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid receipt status %q", value)
}
