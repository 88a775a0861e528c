package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndKindOf(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(Connection, "frames.connect", cause)

	if got := KindOf(err); got != Connection {
		t.Errorf("KindOf = %v, want %v", got, Connection)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(Capture, "frames.capture", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestKindOfSurvivesRewrapping(t *testing.T) {
	err := New(Device, "audio.open", "no such device")
	outer := fmt.Errorf("starting pipeline: %w", err)

	if got := KindOf(outer); got != Device {
		t.Errorf("KindOf(rewrapped) = %v, want %v", got, Device)
	}
	if !Is(outer, Device) {
		t.Error("Is(outer, Device) = false, want true")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Unknown {
		t.Errorf("KindOf(plain) = %v, want %v", got, Unknown)
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		Connection:     "connection",
		Capture:        "capture",
		Device:         "device",
		Sync:           "sync",
		Classification: "classification",
		Persistence:    "persistence",
		Delivery:       "delivery",
		Unknown:        "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestErrorMessageIncludesOp(t *testing.T) {
	err := Newf(Delivery, "notify.push", "status %d", 502)
	want := "notify.push: status 502"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
