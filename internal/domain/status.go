package domain

import (
	"fmt"
	"strings"
)

// LinkStatus is the lifecycle state of a linked account.
type LinkStatus string

const (
	// LinkStatusPending is assigned when an account is first discovered.
	LinkStatusPending LinkStatus = "pending"
	// LinkStatusLinked indicates the account is linked and its figures are settled.
	LinkStatusLinked LinkStatus = "linked"
	// LinkStatusCalculating indicates a running balance pass is in flight.
	// Readers should treat the account's figures as possibly stale.
	LinkStatusCalculating LinkStatus = "calculating"
	// LinkStatusFailed indicates the bank rejected the link.
	LinkStatusFailed LinkStatus = "failed"
	// LinkStatusExpired indicates the bank access agreement expired.
	LinkStatusExpired LinkStatus = "expired"
)

var transitions = map[LinkStatus][]LinkStatus{
	LinkStatusPending:     {LinkStatusLinked, LinkStatusFailed, LinkStatusExpired},
	LinkStatusLinked:      {LinkStatusCalculating, LinkStatusFailed, LinkStatusExpired},
	LinkStatusCalculating: {LinkStatusLinked, LinkStatusFailed, LinkStatusExpired},
	LinkStatusFailed:      {LinkStatusLinked, LinkStatusExpired},
	LinkStatusExpired:     {LinkStatusPending},
}

// Valid reports whether s is one of the known statuses.
func (s LinkStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s LinkStatus) CanTransitionTo(next LinkStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseLinkStatus parses a stored status value.
func ParseLinkStatus(v string) (LinkStatus, error) {
	s := LinkStatus(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("ParseLinkStatus: unknown link status %q", v)
	}
	return s, nil
}

// ParseProviderStatus maps a bank-aggregator requisition status code to a
// LinkStatus. Unrecognised codes are an error, never a silent default.
func ParseProviderStatus(code string) (LinkStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "CR", "GC", "UA", "SA", "GA":
		return LinkStatusPending, nil
	case "RJ":
		return LinkStatusFailed, nil
	case "LN":
		return LinkStatusLinked, nil
	case "EX":
		return LinkStatusExpired, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProviderStatus, code)
	}
}
