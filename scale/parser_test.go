package scale

import "testing"

func TestParseFrames(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Reading
	}{
		{
			name: "full pricing frame",
			line: "P0001W+001.234U0850.00T1048.90",
			want: Reading{Weight: 1.234, ProductRef: "0001", UnitPrice: 850.00, Total: 1048.90},
		},
		{
			name: "full frame with six digit PLU",
			line: "P123456W+000.500U0100.00T0050.00",
			want: Reading{Weight: 0.5, ProductRef: "123456", UnitPrice: 100.00, Total: 50.00},
		},
		{
			name: "plu and weight only",
			line: "P0002W+002.000",
			want: Reading{Weight: 2.0, ProductRef: "0002"},
		},
		{
			name: "weight only uppercase",
			line: "W+001.234",
			want: Reading{Weight: 1.234},
		},
		{
			name: "weight only lowercase negative",
			line: "w-000.120",
			want: Reading{Weight: -0.12},
		},
		{
			name: "unit suffix",
			line: "1.500 kg",
			want: Reading{Weight: 1.5},
		},
		{
			name: "unit suffix uppercase no space",
			line: "0.750KG",
			want: Reading{Weight: 0.75},
		},
		{
			name: "bare decimal",
			line: "2.345",
			want: Reading{Weight: 2.345},
		},
		{
			name: "bare negative decimal",
			line: "-0.005",
			want: Reading{Weight: -0.005},
		},
		{
			name: "frame embedded in noise",
			line: "\x02P0001W+001.234\x03",
			want: Reading{Weight: 1.234, ProductRef: "0001"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.line)
			if !ok {
				t.Fatalf("Parse(%q) not ok, want %+v", tt.line, tt.want)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseSkipsLinesWithoutWeight(t *testing.T) {
	lines := []string{
		"",
		"READY",
		"kg",
		"ERROR 42", // integer without fractional part is not a weight
		"P0001",    // PLU without a weight token
		"\x02\x03",
	}

	for _, line := range lines {
		if got, ok := Parse(line); ok {
			t.Errorf("Parse(%q) = %+v, want no match", line, got)
		}
	}
}

func TestParsePriorityFullBeforePartial(t *testing.T) {
	// A full frame also matches the plu+weight and weight-only patterns;
	// the most specific form must win.
	got, ok := Parse("P0001W+001.234U0850.00T1048.90")
	if !ok {
		t.Fatal("Parse() not ok")
	}
	if got.UnitPrice != 850.00 || got.Total != 1048.90 {
		t.Errorf("pricing fields = %v/%v, want 850.00/1048.90", got.UnitPrice, got.Total)
	}
}
