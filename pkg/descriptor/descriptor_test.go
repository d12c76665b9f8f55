package descriptor

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/daimatz/gojasm/pkg/derrors"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"I", Type{Kind: Int}},
		{"J", Type{Kind: Long}},
		{"Ljava/lang/String;", Type{Kind: Object, Class: "java/lang/String"}},
		{"[[D", Type{Kind: Double, Dims: 2}},
		{"[Ljava/lang/Object;", Type{Kind: Object, Dims: 1, Class: "java/lang/Object"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseField(tt.in)
			if err != nil {
				t.Fatalf("ParseField(%q): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseField(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
			if s := got.String(); s != tt.in {
				t.Errorf("String() = %q, want %q", s, tt.in)
			}
		})
	}
}

func TestParseFieldErrors(t *testing.T) {
	for _, in := range []string{"", "V", "X", "L;", "Ljava/lang/String", "II", "[V"} {
		_, err := ParseField(in)
		if !errors.Is(err, derrors.MalformedDescriptor) {
			t.Errorf("ParseField(%q): got %v, want MalformedDescriptor", in, err)
		}
	}
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in       string
		params   int
		argSlots int
	}{
		{"()V", 0, 0},
		{"([Ljava/lang/String;)V", 1, 1},
		{"(IJLjava/lang/Object;D)Z", 4, 6},
		{"(II)I", 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMethod(tt.in)
			if err != nil {
				t.Fatalf("ParseMethod(%q): %v", tt.in, err)
			}
			if len(m.Params) != tt.params {
				t.Errorf("params: got %d, want %d", len(m.Params), tt.params)
			}
			if got := m.ArgSlots(); got != tt.argSlots {
				t.Errorf("ArgSlots: got %d, want %d", got, tt.argSlots)
			}
			if s := m.String(); s != tt.in {
				t.Errorf("String() = %q, want %q", s, tt.in)
			}
		})
	}
}

func TestParseMethodErrors(t *testing.T) {
	for _, in := range []string{"", "V", "(", "(I", "(V)V", "()", "()VV", "()[V"} {
		_, err := ParseMethod(in)
		if !errors.Is(err, derrors.MalformedDescriptor) {
			t.Errorf("ParseMethod(%q): got %v, want MalformedDescriptor", in, err)
		}
	}
}
