package apperr

import "testing"

func TestRetryableByKind(t *testing.T) {
	cases := map[Kind]bool{
		Network:     true,
		Server:      true,
		Validation:  false,
		Integrity:   false,
		Disk:        false,
		State:       false,
		Cancelled:   false,
		CircuitOpen: false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestErrorRetryableHonorsNonRetryableOverride(t *testing.T) {
	retryableServerErr := New(Server, "", "upstream 500")
	if !retryableServerErr.Retryable() {
		t.Fatal("a plain ServerError should still be retryable by default")
	}

	finalServerErr := NewNonRetryable(Server, "", "non-retryable status 404")
	if finalServerErr.Retryable() {
		t.Fatal("NewNonRetryable should make a ServerError non-retryable regardless of Kind")
	}
}

func TestErrorUnwrapsWrappedCause(t *testing.T) {
	cause := New(Disk, "ERR_DISK", "no space left")
	wrapped := Wrap(Integrity, "ERR_BAD_HASH", "checksum mismatch", cause)
	if wrapped.Unwrap() != cause {
		t.Fatal("expected Unwrap to return the wrapped cause")
	}
	if wrapped.Error() == "" {
		t.Fatal("expected a non-empty error string")
	}
}
