package temperature

import "testing"

func TestRoundTripCelsiusKelvin(t *testing.T) {
	c := Celsius(20)
	k := C2K(c)
	if float64(k) != 293.15 {
		t.Errorf("C2K(20) = %v, want 293.15", k)
	}
	if K2C(k) != c {
		t.Errorf("K2C(C2K(20)) = %v, want 20", K2C(k))
	}
}

func TestFahrenheitConversions(t *testing.T) {
	if C2F(100) != 212 {
		t.Errorf("C2F(100) = %v, want 212", C2F(100))
	}
	if F2C(32) != 0 {
		t.Errorf("F2C(32) = %v, want 0", F2C(32))
	}
	if F2K(32) != 273.15 {
		t.Errorf("F2K(32) = %v, want 273.15", F2K(32))
	}
	if K2F(273.15) != 32 {
		t.Errorf("K2F(273.15) = %v, want 32", K2F(273.15))
	}
}
