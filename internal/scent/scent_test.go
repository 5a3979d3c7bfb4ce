package scent

import "testing"

func TestScentValidate(t *testing.T) {
	cases := []struct {
		name    string
		s       Scent
		wantErr bool
	}{
		{"valid clean", Scent{ID: "s1", Source: "api"}, false},
		{"missing id", Scent{Source: "api"}, true},
		{"missing source", Scent{ID: "s1"}, true},
		{"valid with threat", Scent{ID: "s1", Source: "api", Threat: &Threat{Category: CategoryMalware, Severity: SeverityHigh}}, false},
		{"invalid threat category", Scent{ID: "s1", Source: "api", Threat: &Threat{Category: "bogus", Severity: SeverityHigh}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestSeverityRank(t *testing.T) {
	if SeverityLow.Rank() >= SeverityMedium.Rank() {
		t.Fatal("expected low < medium")
	}
	if SeverityMedium.Rank() >= SeverityHigh.Rank() {
		t.Fatal("expected medium < high")
	}
	if SeverityHigh.Rank() >= SeverityCritical.Rank() {
		t.Fatal("expected high < critical")
	}
	if Severity("bogus").Rank() != -1 {
		t.Fatal("expected unrecognized severity to rank -1")
	}
}

func TestThreatValidate(t *testing.T) {
	if err := (Threat{Category: CategoryDDoS, Severity: SeverityLow}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Threat{Category: CategoryDDoS, Severity: "bogus"}).Validate(); err == nil {
		t.Fatal("expected error for invalid severity")
	}
}
