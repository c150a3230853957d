package domain

import "testing"

func TestTriggerStatus_Values(t *testing.T) {
	tests := []struct {
		status TriggerStatus
		want   string
	}{
		{TriggerStatusActive, "active"},
		{TriggerStatusCanceled, "canceled"},
		{TriggerStatusExhausted, "exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("TriggerStatus = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestTriggerStatus_IsTerminal(t *testing.T) {
	if TriggerStatusActive.IsTerminal() {
		t.Error("active must not be terminal")
	}
	if !TriggerStatusCanceled.IsTerminal() {
		t.Error("canceled must be terminal")
	}
	if !TriggerStatusExhausted.IsTerminal() {
		t.Error("exhausted must be terminal")
	}
}
