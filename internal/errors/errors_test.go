package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode_MapsEveryKind(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{ConfigInvalid, 1},
		{InputMissing, 2},
		{InputUnavailable, 2},
		{InputSchema, 2},
		{InputCorrupt, 2},
		{AggregationArithmetic, 3},
		{AttributionInvariant, 3},
		{WarehouseConflict, 4},
		{Timeout, 5},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.ExitCode(); got != tt.want {
				t.Errorf("%s.ExitCode() = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestWrap_PreservesCauseChain(t *testing.T) {
	cause := fmt.Errorf("footer checksum mismatch")
	err := Wrap(InputCorrupt, "ocp-source-1", "reading", cause, "decoding parquet footer")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
	if KindOf(err) != InputCorrupt {
		t.Errorf("KindOf(err) = %v, want InputCorrupt", KindOf(err))
	}
	if !Is(err, InputCorrupt) {
		t.Errorf("Is(err, InputCorrupt) = false, want true")
	}
}

func TestKindOf_UnrecognizedErrorDefaultsToConfigInvalid(t *testing.T) {
	if got := KindOf(fmt.Errorf("some unrelated failure")); got != ConfigInvalid {
		t.Errorf("KindOf(unrelated) = %v, want ConfigInvalid", got)
	}
}
