package markers

import (
	"math"
	"testing"
)

func TestHaversineMeters(t *testing.T) {
	cases := []struct {
		name string
		a, b Point
		want float64
		tol  float64
	}{
		{
			name: "same point",
			a:    Point{Lat: 55.7558, Lon: 37.6173},
			b:    Point{Lat: 55.7558, Lon: 37.6173},
			want: 0,
			tol:  0.001,
		},
		{
			name: "a few meters apart",
			// 0.0001 deg latitude is about 11.1m.
			a:    Point{Lat: 55.7558, Lon: 37.6173},
			b:    Point{Lat: 55.7559, Lon: 37.6173},
			want: 11.1,
			tol:  0.2,
		},
		{
			name: "moscow to st petersburg",
			a:    Point{Lat: 55.7558, Lon: 37.6173},
			b:    Point{Lat: 59.9311, Lon: 30.3609},
			want: 634000,
			tol:  5000,
		},
	}
	for _, tc := range cases {
		got := HaversineMeters(tc.a, tc.b)
		if math.Abs(got-tc.want) > tc.tol {
			t.Errorf("%s: distance = %.2fm, want %.2fm (tolerance %.2fm)", tc.name, got, tc.want, tc.tol)
		}
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Point{Lat: 55.7558, Lon: 37.6173}
	b := Point{Lat: 55.7600, Lon: 37.6200}
	if d1, d2 := HaversineMeters(a, b), HaversineMeters(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("distance should be symmetric: %v vs %v", d1, d2)
	}
}
