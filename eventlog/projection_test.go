package eventlog

import (
	"testing"
	"time"
)

func TestProjectSuppression(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	cooldown := 72 * time.Hour
	recent := now.Add(-24 * time.Hour)
	old := now.Add(-30 * 24 * time.Hour)

	evt := func(t EventType) *EventType { return &t }

	cases := []struct {
		name string
		in   SuppressionInputs
		want SuppressionState
	}{
		{"no history", SuppressionInputs{}, StateActive},
		{"suppressed event wins", SuppressionInputs{LatestStateEvent: evt(EventEntitySuppressed)}, StateSuppressed},
		{"parked event wins", SuppressionInputs{LatestStateEvent: evt(EventEntityParked)}, StateParked},
		{"reactivated overrides contact age", SuppressionInputs{LatestStateEvent: evt(EventEntityReactivated), LastContactedAt: &recent}, StateActive},
		{"recent contact cools", SuppressionInputs{LastContactedAt: &recent}, StateCooled},
		{"old contact stays active", SuppressionInputs{LastContactedAt: &old}, StateActive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ProjectSuppression(tc.in, cooldown, now); got != tc.want {
				t.Errorf("ProjectSuppression = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMondayOffset(t *testing.T) {
	if mondayOffset(time.Monday) != 0 {
		t.Error("monday offset should be 0")
	}
	if mondayOffset(time.Sunday) != 6 {
		t.Error("sunday offset should be 6")
	}
	if mondayOffset(time.Wednesday) != 2 {
		t.Error("wednesday offset should be 2")
	}
}
