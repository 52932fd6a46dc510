package bytesize

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "1024", 1024, false},
		{"bytes suffix", "512B", 512, false},
		{"kibibytes", "1Ki", 1024, false},
		{"mebibytes", "64Mi", 64 * 1024 * 1024, false},
		{"mebibytes full", "64MiB", 64 * 1024 * 1024, false},
		{"gibibytes", "1Gi", 1024 * 1024 * 1024, false},
		{"kilobytes", "1K", 1000, false},
		{"megabytes", "100MB", 100 * 1000 * 1000, false},
		{"lowercase", "1gi", 1024 * 1024 * 1024, false},
		{"whitespace", "  1Gi  ", 1024 * 1024 * 1024, false},
		{"float", "1.5Mi", ByteSize(1.5 * 1024 * 1024), false},
		{"empty", "", 0, true},
		{"whitespace only", "   ", 0, true},
		{"bad unit", "1Xi", 0, true},
		{"negative", "-1Gi", 0, true},
		{"no number", "Gi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0"},
		{512, "512"},
		{KiB, "1Ki"},
		{64 * MiB, "64Mi"},
		{2 * GiB, "2Gi"},
		{1500, "1500"},
	}

	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", uint64(tt.in), got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, size := range []ByteSize{1, KiB, 64 * MiB, GiB, 3 * TiB} {
		got, err := Parse(size.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", size.String(), err)
		}
		if got != size {
			t.Errorf("round trip %d -> %q -> %d", uint64(size), size.String(), uint64(got))
		}
	}
}
