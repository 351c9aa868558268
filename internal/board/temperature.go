package board

const (
	// MaxVoltage is the ADC reference voltage.
	MaxVoltage = 5
	// MaxSensorValue is the ADC full-scale count (10-bit).
	MaxSensorValue = 1024
	// ResistorResistance is the fixed divider resistor in ohms.
	ResistorResistance = 1000
)

// PinValueToTemperature converts a raw ADC reading in [0, MaxSensorValue)
// to degrees Celsius.
//
// The reading is turned into the divider voltage, then into the thermistor
// resistance, then mapped through a linear approximation of the
// resistance/temperature curve (0.385 ohm per degree around 1000 ohm at 0°C).
// A reading of MaxSensorValue puts the full supply across the thermistor and
// yields +Inf; it is not clamped.
func PinValueToTemperature(v int) float64 {
	voltage := float64(MaxVoltage) * float64(v) / MaxSensorValue
	resistance := ResistorResistance * voltage / (MaxVoltage - voltage)
	return 100.0/385.0*resistance - 100000.0/385.0
}
