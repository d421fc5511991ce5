package extentmap

import "testing"

func TestSamePhysicalLayout(t *testing.T) {
	cases := []struct {
		name string
		a, b []Extent
		want bool
	}{
		{
			name: "identical",
			a:    []Extent{{Physical: 100, Length: 4096}},
			b:    []Extent{{Physical: 100, Length: 4096}},
			want: true,
		},
		{
			name: "different physical offset",
			a:    []Extent{{Physical: 100, Length: 4096}},
			b:    []Extent{{Physical: 200, Length: 4096}},
			want: false,
		},
		{
			name: "different extent count",
			a:    []Extent{{Physical: 100, Length: 2048}, {Physical: 2148, Length: 2048}},
			b:    []Extent{{Physical: 100, Length: 4096}},
			want: false,
		},
		{
			name: "both empty",
			a:    nil,
			b:    nil,
			want: true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := SamePhysicalLayout(c.a, c.b); got != c.want {
				t.Errorf("SamePhysicalLayout() = %v, want %v", got, c.want)
			}
		})
	}
}
