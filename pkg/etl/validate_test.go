package etl

import (
	"strings"
	"testing"
)

func TestCheckRowCount(t *testing.T) {
	tests := []struct {
		name      string
		strategy  LoadStrategy
		staged    int64
		actual    int64
		before    int64
		hadErrors bool
		want      ValidationStatus
	}{
		{"exact match", TruncateLoad, 100, 100, 0, false, ValidationPassed},
		{"missing rows", TruncateLoad, 100, 90, 0, false, ValidationFailed},
		{"missing rows after load errors", TruncateLoad, 100, 90, 0, true, ValidationWarning},
		{"append delta", Append, 50, 150, 100, false, ValidationPassed},
		{"append delta short", Append, 50, 140, 100, false, ValidationFailed},
		{"merge keeps existing rows", Merge, 50, 80, 60, false, ValidationPassed},
		{"merge lost rows", Merge, 50, 40, 60, false, ValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := CheckRowCount("orders", tt.strategy, tt.staged, tt.actual, tt.before, tt.hadErrors)
			if v.Status != tt.want {
				t.Errorf("status = %s, want %s (%s)", v.Status, tt.want, v.Message)
			}
			if v.Kind != ValidationRowCount || v.Table != "orders" {
				t.Errorf("unexpected result header: %+v", v)
			}
		})
	}
}

func TestCheckRowCount_MessageNamesBothCounts(t *testing.T) {
	v := CheckRowCount("orders", TruncateLoad, 100, 90, 0, false)
	if v.Status != ValidationFailed {
		t.Fatalf("expected failed, got %s", v.Status)
	}
	if !strings.Contains(v.Message, "100") || !strings.Contains(v.Message, "90") {
		t.Errorf("message must contain both counts: %q", v.Message)
	}
	if v.Expected != int64(100) || v.Actual != int64(90) {
		t.Errorf("expected/actual = %v/%v", v.Expected, v.Actual)
	}
}

func TestAttachmentRate(t *testing.T) {
	tests := []struct {
		migrated, total int
		want            ValidationStatus
	}{
		{10, 10, ValidationPassed},
		{0, 0, ValidationPassed},
		{95, 100, ValidationWarning},
		{90, 100, ValidationWarning},
		{89, 100, ValidationFailed},
		{0, 3, ValidationFailed},
	}
	for _, tt := range tests {
		v := AttachmentRate(tt.migrated, tt.total)
		if v.Status != tt.want {
			t.Errorf("AttachmentRate(%d, %d) = %s, want %s", tt.migrated, tt.total, v.Status, tt.want)
		}
	}
}
