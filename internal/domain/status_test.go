package domain

import (
	"errors"
	"testing"
)

func TestParseProviderStatus(t *testing.T) {
	tests := []struct {
		code    string
		want    LinkStatus
		wantErr bool
	}{
		{"CR", LinkStatusPending, false},
		{"GC", LinkStatusPending, false},
		{"UA", LinkStatusPending, false},
		{"SA", LinkStatusPending, false},
		{"GA", LinkStatusPending, false},
		{"RJ", LinkStatusFailed, false},
		{"LN", LinkStatusLinked, false},
		{"EX", LinkStatusExpired, false},
		{" ln ", LinkStatusLinked, false},
		{"ZZ", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := ParseProviderStatus(tt.code)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownProviderStatus) {
					t.Fatalf("expected ErrUnknownProviderStatus, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseProviderStatus(%q) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestLinkStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from LinkStatus
		to   LinkStatus
		want bool
	}{
		{LinkStatusPending, LinkStatusLinked, true},
		{LinkStatusPending, LinkStatusCalculating, false},
		{LinkStatusLinked, LinkStatusCalculating, true},
		{LinkStatusLinked, LinkStatusPending, false},
		{LinkStatusCalculating, LinkStatusLinked, true},
		{LinkStatusCalculating, LinkStatusCalculating, false},
		{LinkStatusFailed, LinkStatusCalculating, false},
		{LinkStatusFailed, LinkStatusLinked, true},
		{LinkStatusExpired, LinkStatusPending, true},
		{LinkStatusExpired, LinkStatusLinked, false},
		{LinkStatus("bogus"), LinkStatusLinked, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLinkStatus(t *testing.T) {
	got, err := ParseLinkStatus("Calculating")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != LinkStatusCalculating {
		t.Errorf("got %q, want calculating", got)
	}

	if _, err := ParseLinkStatus("archived"); err == nil {
		t.Error("expected error for unknown status")
	}
}
