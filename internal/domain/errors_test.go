package domain

import (
	"errors"
	"testing"
)

func TestQueryError(t *testing.T) {
	baseErr := errors.New("connection refused")

	t.Run("trove-level failure", func(t *testing.T) {
		err := NewQueryError("ratio", "0xabc", baseErr)

		want := "ratio query for 0xabc: connection refused"
		if err.Error() != want {
			t.Errorf("Error message = %q, want %q", err.Error(), want)
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("snapshot-level failure", func(t *testing.T) {
		err := NewQueryError("snapshot", "", baseErr)

		want := "snapshot query: connection refused"
		if err.Error() != want {
			t.Errorf("Error message = %q, want %q", err.Error(), want)
		}
	})

	t.Run("matches ErrDataUnavailable", func(t *testing.T) {
		err := NewQueryError("price", "", baseErr)

		if !errors.Is(err, ErrDataUnavailable) {
			t.Error("Every query failure must classify as data-unavailable")
		}
		if errors.Is(err, ErrSubmissionFailed) {
			t.Error("Query failure must not classify as submission failure")
		}
		if errors.Is(err, ErrInvariant) {
			t.Error("Query failure must not classify as invariant violation")
		}
	})
}

func TestPositionIDValid(t *testing.T) {
	if !PositionID("0xabc").Valid() {
		t.Error("Expected non-empty id to be valid")
	}
	if PositionID("").Valid() {
		t.Error("Expected empty id to be invalid")
	}
}
