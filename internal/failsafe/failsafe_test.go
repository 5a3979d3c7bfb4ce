package failsafe

import "testing"

func defaultThresholds() Thresholds {
	return Thresholds{Warning: 0.7, Critical: 0.85, Emergency: 0.95}
}

func TestLevelForPicksHighestMatch(t *testing.T) {
	th := defaultThresholds()
	if lvl, ok := th.levelFor(0.5); ok {
		t.Fatalf("expected no match below warning, got %v", lvl)
	}
	if lvl, ok := th.levelFor(0.7); !ok || lvl != LevelWarning {
		t.Fatalf("expected LevelWarning, got %v ok=%v", lvl, ok)
	}
	if lvl, ok := th.levelFor(0.9); !ok || lvl != LevelCritical {
		t.Fatalf("expected LevelCritical, got %v ok=%v", lvl, ok)
	}
	if lvl, ok := th.levelFor(0.99); !ok || lvl != LevelEmergency {
		t.Fatalf("expected LevelEmergency, got %v ok=%v", lvl, ok)
	}
}

func TestCheckQuarantineFiresOnlyAboveThreshold(t *testing.T) {
	fs := New(Config{Quarantine: defaultThresholds()}, nil)
	if ev := fs.CheckQuarantine(5, 100); ev != nil {
		t.Fatalf("expected no event at low occupancy, got %+v", ev)
	}
	ev := fs.CheckQuarantine(96, 100)
	if ev == nil || ev.Level != LevelEmergency {
		t.Fatalf("expected emergency event at 96%% occupancy, got %+v", ev)
	}
}

func TestOnLevelAndOnAnyDispatch(t *testing.T) {
	fs := New(Config{Quarantine: defaultThresholds()}, nil)
	var levelHits, anyHits int
	fs.OnLevel(LevelCritical, func(Event) { levelHits++ })
	fs.OnAny(func(Event) { anyHits++ })

	fs.CheckQuarantine(90, 100) // critical
	fs.CheckQuarantine(50, 100) // below warning, no event

	if levelHits != 1 {
		t.Fatalf("expected 1 level-specific hit, got %d", levelHits)
	}
	if anyHits != 1 {
		t.Fatalf("expected 1 any hit, got %d", anyHits)
	}
}

func TestCallbackPanicIsContained(t *testing.T) {
	fs := New(Config{Quarantine: defaultThresholds()}, nil)
	var called bool
	fs.OnAny(func(Event) { panic("boom") })
	fs.OnAny(func(Event) { called = true })

	fs.Trip(LevelWarning, nil)
	if !called {
		t.Fatal("expected second callback to still run after first panicked")
	}
}

func TestHistoryWrapsAtCapacity(t *testing.T) {
	fs := New(Config{Quarantine: Thresholds{Warning: 0}}, nil)
	for i := 0; i < ringCapacity+10; i++ {
		fs.CheckQuarantine(1, 1)
	}
	hist := fs.History()
	if len(hist) != ringCapacity {
		t.Fatalf("expected history capped at %d, got %d", ringCapacity, len(hist))
	}
}

func TestTripBypassesThresholds(t *testing.T) {
	fs := New(Config{}, nil)
	ev := fs.Trip(LevelEmergency, map[string]any{"reason": "manual"})
	if ev.Level != LevelEmergency || ev.Probe != ProbeManual {
		t.Fatalf("unexpected trip event: %+v", ev)
	}
}
