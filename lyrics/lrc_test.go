package lyrics

import "testing"

func TestParseLRC(t *testing.T) {
	synced := "[00:12.34] Hello\n[00:15.000]World\n[00:20.00]   \n[00:25.50]End\nnot a marker line"

	doc := ParseLRC(synced, 30000)

	if doc.Type != SyncLine {
		t.Fatalf("Expected Line sync, got %q", doc.Type)
	}
	if len(doc.Lines) != 3 {
		t.Fatalf("Expected 3 lines after dropping empty text, got %d", len(doc.Lines))
	}

	tests := []struct {
		text     string
		time     int
		duration int
		key      string
	}{
		{"Hello", 12340, 2660, "L1"},
		{"World", 15000, 5000, "L2"},
		{"End", 25500, 4500, "L4"},
	}
	for i, tt := range tests {
		line := doc.Lines[i]
		if line.Text != tt.text {
			t.Errorf("Line %d: expected text %q, got %q", i, tt.text, line.Text)
		}
		if line.Time != tt.time {
			t.Errorf("Line %d: expected time %d, got %d", i, tt.time, line.Time)
		}
		if line.Duration != tt.duration {
			t.Errorf("Line %d: expected duration %d, got %d", i, tt.duration, line.Duration)
		}
		if line.Element.Key != tt.key {
			t.Errorf("Line %d: expected key %q, got %q", i, tt.key, line.Element.Key)
		}
	}
}

func TestParseLRC_FractionDigits(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected int
	}{
		{"Two digits are centiseconds", "[01:02.05]text", 62050},
		{"Three digits are milliseconds", "[01:02.005]text", 62005},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := ParseLRC(tt.line, 120000)
			if len(doc.Lines) != 1 {
				t.Fatalf("Expected 1 line, got %d", len(doc.Lines))
			}
			if doc.Lines[0].Time != tt.expected {
				t.Errorf("Expected time %d, got %d", tt.expected, doc.Lines[0].Time)
			}
		})
	}
}

func TestParseLRC_Empty(t *testing.T) {
	doc := ParseLRC("no markers here\n\n", 1000)
	if len(doc.Lines) != 0 {
		t.Errorf("Expected no lines, got %d", len(doc.Lines))
	}
}
