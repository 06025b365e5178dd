package metrics

import "testing"

func TestRegisterLockMetrics(t *testing.T) {
	reg := NewRegistry()
	RegisterLockMetrics(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"warden_acquire_attempts_total",
		"warden_release_successes_total",
		"warden_active_locks",
	} {
		if !names[want] {
			t.Fatalf("metric %s not registered", want)
		}
	}
}
