package models

import "strconv"

// User is the authoritative identity and entitlement record.
type User struct {
	UserID            int64
	Username          string
	Name              string
	Email             string
	Mobile            string
	TOTPSecret        string
	OTPValidUntil     string
	LastOTP           string
	SubscriptionModel SubscriptionModel

	// Filled from alertsubscriptions, not stored on the users row.
	Balance     float64
	ScannerJobs []string
}

// HasSecret reports whether the user was ever registered.
func (u *User) HasSecret() bool {
	return u != nil && u.TOTPSecret != ""
}

// ApplyAlerts copies the alert balance and jobs of sub onto u. A nil sub
// leaves them untouched.
func (u *User) ApplyAlerts(sub *AlertSubscription) {
	if u == nil || sub == nil {
		return
	}
	u.Balance = sub.Balance
	u.ScannerJobs = sub.ScannerJobs
}

// OwnerTag is the string form of UserID used to bind emergency documents.
func (u *User) OwnerTag() string {
	return strconv.FormatInt(u.UserID, 10)
}

// UserColumn names a mutable column of the users table. Only these values
// may reach SQL text.
type UserColumn string

const (
	ColumnUserID            UserColumn = "userid"
	ColumnUsername          UserColumn = "username"
	ColumnName              UserColumn = "name"
	ColumnEmail             UserColumn = "email"
	ColumnMobile            UserColumn = "mobile"
	ColumnOTPValidUntil     UserColumn = "otpvaliduntil"
	ColumnTOTPToken         UserColumn = "totptoken"
	ColumnSubscriptionModel UserColumn = "subscriptionmodel"
	ColumnLastOTP           UserColumn = "lastotp"
)

func (c UserColumn) Valid() bool {
	switch c {
	case ColumnUserID, ColumnUsername, ColumnName, ColumnEmail, ColumnMobile,
		ColumnOTPValidUntil, ColumnTOTPToken, ColumnSubscriptionModel, ColumnLastOTP:
		return true
	}
	return false
}

// UserFilter selects users by a single column. The zero value matches all.
type UserFilter struct {
	Column UserColumn
	Value  any
}

func (f UserFilter) IsZero() bool {
	return f.Column == ""
}

// PayingUser is a user with either a positive alert balance or a paid tier.
type PayingUser struct {
	UserID            int64
	SubscriptionModel SubscriptionModel
	Balance           float64
}
