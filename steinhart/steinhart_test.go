package steinhart

import (
	"math"
	"testing"
)

func TestTemperatureRoundTrip(t *testing.T) {
	cases := []Params{
		{T0: CelsiusToKelvin(25), R0: 10000, B: 3988},
		{T0: CelsiusToKelvin(0), R0: 5000, B: 3500},
		{T0: CelsiusToKelvin(70), R0: 1000, B: 4200},
	}
	for _, p := range cases {
		r, err := Resistance(p.T0, p)
		if err != nil {
			t.Fatalf("Resistance(%+v): %v", p, err)
		}
		got, err := Temperature(r, p)
		if err != nil {
			t.Fatalf("Temperature(%+v): %v", p, err)
		}
		if math.Abs(got-p.T0) > 1e-6 {
			t.Errorf("round trip: got %v want %v", got, p.T0)
		}
	}
}

func TestTemperatureInvalidParam(t *testing.T) {
	good := Params{T0: 298.15, R0: 10000, B: 3988}
	cases := []struct {
		name string
		r    float64
		p    Params
	}{
		{"zero resistance", 0, good},
		{"negative resistance", -1, good},
		{"zero r0", 10000, Params{T0: 298.15, R0: 0, B: 3988}},
		{"negative r0", 10000, Params{T0: 298.15, R0: -10, B: 3988}},
		{"zero b", 10000, Params{T0: 298.15, R0: 10000, B: 0}},
		{"zero t0", 10000, Params{T0: 0, R0: 10000, B: 3988}},
	}
	for _, c := range cases {
		if _, err := Temperature(c.r, c.p); err != ErrInvalidParam {
			t.Errorf("%s: got err %v, want ErrInvalidParam", c.name, err)
		}
	}
}

func TestCelsiusKelvin(t *testing.T) {
	if got := CelsiusToKelvin(0); got != 273.15 {
		t.Errorf("CelsiusToKelvin(0) = %v, want 273.15", got)
	}
	if got := KelvinToCelsius(273.15); got != 0 {
		t.Errorf("KelvinToCelsius(273.15) = %v, want 0", got)
	}
}
