package enums

import "fmt"

// ProductKind is what a catalog product grants when purchased.
type ProductKind string

const (
	ProductKindProSubscription ProductKind = "pro_subscription"
	ProductKindVirtualCurrency ProductKind = "virtual_currency"
)

var validProductKinds = []ProductKind{
	ProductKindProSubscription,
	ProductKindVirtualCurrency,
}

// String implements fmt.Stringer.
func (p ProductKind) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p ProductKind) IsValid() bool {
	for _, candidate := range validProductKinds {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProductKind converts raw input into a ProductKind.
func ParseProductKind(value string) (ProductKind, error) {
	for _, candidate := range validProductKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product kind %q", value)
}

// SubscriptionPeriodDays are the billing period lengths the catalog accepts.
var SubscriptionPeriodDays = []int{7, 30, 60, 90, 180, 365}

// IsValidSubscriptionPeriod reports whether days is an accepted period length.
func IsValidSubscriptionPeriod(days int) bool {
	for _, candidate := range SubscriptionPeriodDays {
		if candidate == days {
			return true
		}
	}
	return false
}
