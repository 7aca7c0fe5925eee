package trade

// Status is a trade's position in the lifecycle state machine.
type Status string

const (
	StatusOpened          Status = "OPENED"
	StatusPaid            Status = "PAID"
	StatusSuccessful      Status = "SUCCESSFUL"
	StatusCancelledBuyer  Status = "CANCELLED_BUYER"
	StatusCancelledSeller Status = "CANCELLED_SELLER"
	StatusCancelledSystem Status = "CANCELLED_SYSTEM"
	StatusDisputed        Status = "DISPUTED"
	StatusAwardedBuyer    Status = "AWARDED_BUYER"
	StatusAwardedSeller   Status = "AWARDED_SELLER"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusOpened, StatusPaid, StatusSuccessful,
		StatusCancelledBuyer, StatusCancelledSeller, StatusCancelledSystem,
		StatusDisputed, StatusAwardedBuyer, StatusAwardedSeller:
		return true
	default:
		return false
	}
}

// Terminal reports whether no engine-triggered balance mutation can follow.
// CANCELLED_BUYER and CANCELLED_SELLER are semi-terminal: a party may reopen.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusCancelledSystem, StatusAwardedBuyer, StatusAwardedSeller:
		return true
	default:
		return false
	}
}

// Reopenable reports whether the trade can go back to OPENED.
func (s Status) Reopenable() bool {
	return s == StatusCancelledBuyer || s == StatusCancelledSeller
}

// Disputable reports whether a dispute may be opened from this status.
func (s Status) Disputable() bool {
	return s == StatusOpened || s == StatusPaid
}
