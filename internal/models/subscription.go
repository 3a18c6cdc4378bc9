package models

// SubscriptionModel is the stored tier value. The numeric string is the
// price of the tier.
type SubscriptionModel string

const (
	SubscriptionNone      SubscriptionModel = "0"
	SubscriptionOneDay    SubscriptionModel = "130"
	SubscriptionOneWeek   SubscriptionModel = "600"
	SubscriptionOneMonth  SubscriptionModel = "2000"
	SubscriptionSixMonths SubscriptionModel = "11000"
	SubscriptionOneYear   SubscriptionModel = "22000"
)

var subscriptionLabels = map[SubscriptionModel]string{
	SubscriptionNone:      "Free",
	SubscriptionOneDay:    "One Day",
	SubscriptionOneWeek:   "One Week",
	SubscriptionOneMonth:  "One Month",
	SubscriptionSixMonths: "Six Months",
	SubscriptionOneYear:   "One Year",
}

// Normalize maps the empty string to SubscriptionNone.
func (m SubscriptionModel) Normalize() SubscriptionModel {
	if m == "" {
		return SubscriptionNone
	}
	return m
}

func (m SubscriptionModel) IsPaid() bool {
	n := m.Normalize()
	return n != SubscriptionNone
}

// Label returns the display name; unknown values are returned as-is.
func (m SubscriptionModel) Label() string {
	if l, ok := subscriptionLabels[m.Normalize()]; ok {
		return l
	}
	return string(m)
}
