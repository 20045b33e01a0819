//go:build blackbox

package blackbox

import (
	"path/filepath"
	"testing"
)

func TestInitValidateWorkflow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "starter.yaml")

	out := run(t, "init", "-f", cfgPath)
	if !contains(out, "Wrote starter configuration") {
		t.Fatalf("unexpected init output:\n%s", out)
	}

	out = run(t, "validate", "-f", cfgPath)
	if !contains(out, "Configuration OK") {
		t.Fatalf("starter config should validate:\n%s", out)
	}

	// Running init again must not clobber the file.
	if out, err := runExpectingError(t, "init", "-f", cfgPath); err == nil {
		t.Fatalf("expected init to refuse overwriting:\n%s", out)
	}
}

func TestValidateReportsAccounts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := paperConfig(t, dir)

	out := run(t, "validate", "-f", cfgPath)
	if !contains(out, "Leader:    leader on paper") {
		t.Fatalf("missing leader line:\n%s", out)
	}
	if !contains(out, "2 configured, 2 enabled") {
		t.Fatalf("missing follower counts:\n%s", out)
	}
}

func TestValidateConnectDialsAccounts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := paperConfig(t, dir)

	out := run(t, "validate", "-f", cfgPath, "--connect")
	for _, want := range []string{
		"leader        reachable",
		"follower-1    reachable",
		"follower-2    reachable",
	} {
		if !contains(out, want) {
			t.Fatalf("missing %q in validate output:\n%s", want, out)
		}
	}
}

func TestStatusListsAccounts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := paperConfig(t, dir)

	out := run(t, "status", "-f", cfgPath)
	for _, want := range []string{
		"leader (leader on paper)",
		"follower-1 (follower on paper)",
		"Equity: 10000",
		"No open positions",
	} {
		if !contains(out, want) {
			t.Fatalf("missing %q in status output:\n%s", want, out)
		}
	}
}

func TestSyncOnceOnCleanAccounts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := paperConfig(t, dir)

	out := run(t, "sync", "-f", cfgPath, "--once")
	if !contains(out, "Sweep complete") {
		t.Fatalf("missing sweep summary:\n%s", out)
	}
	if !contains(out, "Orphans closed: 0") || !contains(out, "Errors:         0") {
		t.Fatalf("clean accounts should produce an empty sweep:\n%s", out)
	}
}

func TestDemoRoundTrip(t *testing.T) {
	out := run(t, "demo")
	for _, want := range []string{
		"=== Copy Trading Demo ===",
		"follower-1",
		"follower-2",
		"Same report returned, no orders re-sent",
	} {
		if !contains(out, want) {
			t.Fatalf("missing %q in demo output:\n%s", want, out)
		}
	}
}
