// v0
// internal/registry/registry_test.go
package registry

import (
	"errors"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	reg := Default()
	want := map[Role]int{SensorTemperature: 1, SensorHumidity: 2, ControllerTemperature: 5, ControllerHumidity: 4}
	for role, primary := range want {
		if got := reg.Primary(role); got != primary {
			t.Fatalf("%s primary=%d want %d", role, got, primary)
		}
		if len(reg.Ring(role)) != 2 {
			t.Fatalf("%s ring=%v want two entries", role, reg.Ring(role))
		}
	}
	if reg.TerminateID() != 99 {
		t.Fatalf("terminate id=%d", reg.TerminateID())
	}
}

func TestRingIsCopied(t *testing.T) {
	reg := Default()
	ring := reg.Ring(SensorTemperature)
	ring[0] = 1000
	if reg.Primary(SensorTemperature) != 1 {
		t.Fatalf("registry mutated through returned ring")
	}
}

func TestNewRejectsBadRings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *[RoleCount][]int)
		want   error
	}{
		{"empty", func(r *[RoleCount][]int) { r[SensorHumidity] = nil }, ErrEmptyRing},
		{"zero", func(r *[RoleCount][]int) { r[SensorTemperature] = []int{0, 11} }, ErrInvalidNodeID},
		{"duplicate", func(r *[RoleCount][]int) { r[SensorTemperature] = []int{1, 1} }, ErrDuplicateNode},
		{"shared", func(r *[RoleCount][]int) { r[SensorHumidity] = []int{2, 11} }, ErrIDCollision},
		{"terminate", func(r *[RoleCount][]int) { r[ControllerHumidity] = []int{4, 99} }, ErrIDCollision},
		{"negative sensor", func(r *[RoleCount][]int) { r[SensorTemperature] = []int{-1, 11} }, ErrInvalidNodeID},
		{"negative controller", func(r *[RoleCount][]int) { r[ControllerTemperature] = []int{-5, 55} }, ErrInvalidNodeID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rings := DefaultRings()
			tc.mutate(&rings)
			if _, err := New(rings, DefaultTerminateID); !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestSingleEntryRing(t *testing.T) {
	rings := DefaultRings()
	rings[ControllerTemperature] = []int{5}
	reg, err := New(rings, DefaultTerminateID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := reg.Ring(ControllerTemperature); len(got) != 1 || got[0] != 5 {
		t.Fatalf("ring=%v", got)
	}
}

func TestRoleKeys(t *testing.T) {
	for _, r := range Roles {
		back, ok := ParseRole(r.Key())
		if !ok || back != r {
			t.Fatalf("ParseRole(%q)=%v,%v", r.Key(), back, ok)
		}
	}
	if _, ok := ParseRole("sensor.pressure"); ok {
		t.Fatalf("unexpected role for unknown key")
	}
	if !ControllerHumidity.IsController() || SensorHumidity.IsController() {
		t.Fatalf("IsController mismatch")
	}
}
