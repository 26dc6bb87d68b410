package directory

import (
	"testing"
	"time"
)

func TestReadinessChecker(t *testing.T) {
	tests := []struct {
		name        string
		unavailable bool
		configured  bool
		want        string
	}{
		{"доступен", false, true, "ok"},
		{"без служебной записи", false, false, "degraded"},
		{"недоступен", true, true, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory(testFixture())
			m.SetConfigured(tt.configured)
			m.SetUnavailable(tt.unavailable)

			status, msg := NewReadinessChecker(m, time.Second).CheckReady()
			if status != tt.want {
				t.Errorf("CheckReady() = %q (%s), ожидается %q", status, msg, tt.want)
			}
		})
	}
}
