package address

import "testing"

func TestParseFTN(t *testing.T) {
	tests := []struct {
		input   string
		want    FTNAddress
		wantErr bool
	}{
		{"1:103/705", FTNAddress{1, 103, 705, 0}, false},
		{"1:103/705.0", FTNAddress{1, 103, 705, 0}, false},
		{"21:3/110.2", FTNAddress{21, 3, 110, 2}, false},
		{" 2:5020/1042.1 ", FTNAddress{2, 5020, 1042, 1}, false},
		{"invalid", FTNAddress{}, true},
		{"1:2", FTNAddress{}, true},
		{"-1:2/3", FTNAddress{}, true},
		{"0:2/3", FTNAddress{}, true},
		{"7@2", FTNAddress{}, true},
		{"", FTNAddress{}, true},
	}

	for _, tt := range tests {
		got, err := ParseFTN(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFTN(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFTN(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFTN(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestFTNAddressString(t *testing.T) {
	if got := (FTNAddress{21, 1, 100, 0}).String(); got != "21:1/100" {
		t.Errorf("String() = %q", got)
	}
	if got := (FTNAddress{21, 1, 100, 3}).String(); got != "21:1/100.3" {
		t.Errorf("String() = %q", got)
	}
}
