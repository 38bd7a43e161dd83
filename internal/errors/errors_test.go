package errors

import (
	"errors"
	"testing"
)

func TestError_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := New(IoError, "vsm.write_once", cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should see through *Error to the wrapped cause")
	}
	if !Is(err, IoError) {
		t.Fatal("Is(err, IoError) should be true")
	}
	if Is(err, LockError) {
		t.Fatal("Is(err, LockError) should be false")
	}
}

func TestIs_NonTypedError(t *testing.T) {
	if Is(errors.New("plain"), IoError) {
		t.Fatal("a plain error should never match a Kind")
	}
}

func TestEncodingInvalid_Matches(t *testing.T) {
	err := New(SerdeError, "serde.Int64.Decode", EncodingInvalid)
	if !errors.Is(err, EncodingInvalid) {
		t.Fatal("errors.Is should match the EncodingInvalid sentinel through *Error")
	}
}
