package exfatrecovery

import (
	"errors"
	"testing"
)

func TestExitCode_mapsKindsToDocumentedCodes(t *testing.T) {
	cases := []struct {
		err      error
		expected int
	}{
		{nil, 0},
		{NewInvalidArgumentError("bad flag"), 1},
		{NewConfigError("bad config"), 1},
		{NewIoError("disk failure", errors.New("boom")), 2},
		{NewInvalidOffsetError(10, 5), 2},
		{NewInvalidSizeError(0, 100, 5), 2},
		{NewFileNotFoundError("/no/such/image"), 2},
		{NewParseError("bad checkpoint", errors.New("boom")), 2},
		{errors.New("some unrelated error"), 3},
	}

	for _, c := range cases {
		if got := ExitCode(c.err); got != c.expected {
			t.Fatalf("ExitCode(%v) = %d, expected %d", c.err, got, c.expected)
		}
	}
}

func TestRecoveryError_unwrapAndMessage(t *testing.T) {
	cause := errors.New("underlying failure")
	err := NewIoError("failed to read", cause)

	var re *RecoveryError
	if !errors.As(err, &re) {
		t.Fatalf("expected a *RecoveryError")
	}

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to unwrap to the cause")
	}

	if re.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
}
