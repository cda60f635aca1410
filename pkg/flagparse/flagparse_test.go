package flagparse

import "testing"

func TestParseCommand(t *testing.T) {
	testCases := []struct {
		input    string
		expected Command
		wantErr  bool
	}{
		{"provision", Provision, false},
		{"verify", Verify, false},
		{"snapshot", Snapshot, false},
		{"init", Init, false},
		{"serve", Serve, false},
		{"watch", Watch, false},
		{"version", Version, false},
		{"bogus", None, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseCommand(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("got %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestParseNoArgsDefaultsToProvision(t *testing.T) {
	cmd, flagMap, err := Parse([]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != Provision {
		t.Errorf("expected Provision, got %v", cmd)
	}
	if len(flagMap) != 0 {
		t.Errorf("expected empty flag map, got %v", flagMap)
	}
}

func TestParseLeadingFlagMeansProvision(t *testing.T) {
	cmd, flagMap, err := Parse([]string{"-staging", "/tmp/stage", "-dry-run"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != Provision {
		t.Errorf("expected Provision, got %v", cmd)
	}
	if flagMap["staging"] != "/tmp/stage" {
		t.Errorf("expected staging flag to be recorded, got %v", flagMap["staging"])
	}
	if flagMap["dry-run"] != true {
		t.Errorf("expected dry-run flag to be recorded, got %v", flagMap["dry-run"])
	}
}

func TestParseOnlyRecordsSetFlags(t *testing.T) {
	cmd, flagMap, err := Parse([]string{"verify", "-strict"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != Verify {
		t.Errorf("expected Verify, got %v", cmd)
	}
	if flagMap["strict"] != true {
		t.Errorf("expected strict flag to be recorded")
	}
	if _, ok := flagMap["project"]; ok {
		t.Error("project flag was not set and must not appear in the map")
	}
}

func TestParseSnapshotFlags(t *testing.T) {
	cmd, flagMap, err := Parse([]string{"snapshot", "-staging", "/tmp/stage", "-format", "tar.zst"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != Snapshot {
		t.Errorf("expected Snapshot, got %v", cmd)
	}
	if flagMap["format"] != "tar.zst" {
		t.Errorf("expected format flag, got %v", flagMap["format"])
	}
}

func TestParseVersionHasNoFlags(t *testing.T) {
	cmd, flagMap, err := Parse([]string{"version"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != Version {
		t.Errorf("expected Version, got %v", cmd)
	}
	if flagMap != nil {
		t.Errorf("expected nil flag map, got %v", flagMap)
	}
}
