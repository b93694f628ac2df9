// Package temperature provides typed temperature scales so drivers can
// declare which scale an instrument speaks in their signatures.
package temperature

type (
	// Celsius is a temperature in degrees C
	Celsius float64

	// Kelvin is a temperature in K
	Kelvin float64

	// Fahrenheit is a temperature in degrees F
	Fahrenheit float64
)

// C2K converts Celsius to Kelvin
func C2K(c Celsius) Kelvin {
	return Kelvin(c + 273.15)
}

// K2C converts Kelvin to Celsius
func K2C(k Kelvin) Celsius {
	return Celsius(k - 273.15)
}

// C2F converts Celsius to Fahrenheit
func C2F(c Celsius) Fahrenheit {
	return Fahrenheit(c*9/5 + 32)
}

// F2C converts Fahrenheit to Celsius
func F2C(f Fahrenheit) Celsius {
	return Celsius((f - 32) * 5 / 9)
}

// F2K converts Fahrenheit to Kelvin
func F2K(f Fahrenheit) Kelvin {
	return C2K(F2C(f))
}

// K2F converts Kelvin to Fahrenheit
func K2F(k Kelvin) Fahrenheit {
	return C2F(K2C(k))
}
