package obslog

import "testing"

func TestLoggerReturnsNopBeforeInit(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() returned nil")
	}
	// A nop logger must not panic on use.
	l.Info("no-op check")
}

func TestEnvBoolRecognizesTruthyValues(t *testing.T) {
	cases := map[string]bool{
		"1":     true,
		"true":  true,
		"0":     false,
		"false": false,
		"":      false,
		"yes":   false,
	}
	for v, want := range cases {
		t.Setenv(EnableEnvVar, v)
		if got := envBool(EnableEnvVar); got != want {
			t.Errorf("envBool(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestSyncWithoutInitIsSafe(t *testing.T) {
	if err := Sync(); err != nil {
		t.Errorf("Sync() before Init() = %v, want nil", err)
	}
}
