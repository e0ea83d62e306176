package metrics

import (
	"strings"
	"testing"

	"github.com/sbaerlocher/tuyametrics/internal/schema"
)

func TestExposeOnlyDecodedSamples(t *testing.T) {
	out, err := Expose(schema.NewFuse(), schema.Samples{
		"voltage": 230.12,
		"switch":  1,
	})
	if err != nil {
		t.Fatalf("Expose failed: %v", err)
	}

	text := string(out)
	expected := []string{
		"# HELP voltage_volts Line voltage (V)",
		"# TYPE voltage_volts gauge",
		"voltage_volts 230.12",
		"# TYPE switch_on gauge",
		"switch_on 1",
	}
	for _, want := range expected {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}

	if strings.Contains(text, "current_amps") || strings.Contains(text, "temperature_celsius") {
		t.Errorf("Expected undecoded metrics to be absent, got:\n%s", text)
	}
}

func TestExposeIgnoresUndeclaredKeys(t *testing.T) {
	out, err := Expose(schema.NewATS(), schema.Samples{"bogus": 1, "fault": 0})
	if err != nil {
		t.Fatalf("Expose failed: %v", err)
	}
	if strings.Contains(string(out), "bogus") {
		t.Errorf("Expected undeclared key to be ignored, got:\n%s", out)
	}
	if !strings.Contains(string(out), "fault 0") {
		t.Errorf("Expected fault 0, got:\n%s", out)
	}
}

func TestExpositionFormat(t *testing.T) {
	if !strings.HasPrefix(string(ExpositionFormat), "text/plain") {
		t.Errorf("Expected text/plain format, got %s", ExpositionFormat)
	}
}
