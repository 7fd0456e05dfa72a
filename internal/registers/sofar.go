package registers

// ME3000 holding block layout: offsets below count from HoldingStart.
const (
	HoldingStart    = 0x0200
	HoldingQuantity = 69
)

// Home Assistant device/state classes used in the table
const (
	classVoltage     = "voltage"
	classCurrent     = "current"
	classPower       = "power"
	classEnergy      = "energy"
	classFrequency   = "frequency"
	classBattery     = "battery"
	classTemperature = "temperature"

	stateMeasurement     = "measurement"
	stateTotalIncreasing = "total_increasing"
)

func reg(offset uint16, name string, enc Encoding, scale float64, unit, class, state string) RegisterSpec {
	return RegisterSpec{
		Offset:      offset,
		Name:        name,
		Encoding:    enc,
		Scale:       scale,
		Unit:        unit,
		DeviceClass: class,
		StateClass:  state,
	}
}

func raw(offset uint16, name string) RegisterSpec {
	return RegisterSpec{Offset: offset, Name: name, Encoding: Unsigned16, Scale: 1}
}

// sofarME3000Specs is the Sofar ME3000SP holding register table.
// Offsets 2-5, 8-11 (grid B/C phase) and 50-53 (grid S/T phase) are
// not reported by single-phase units and are left out.
var sofarME3000Specs = []RegisterSpec{
	reg(1, "running_state", Unsigned16, 0.1, "", "", ""),
	reg(6, "grid_a_voltage", Unsigned16, 0.1, "V", classVoltage, stateMeasurement),
	reg(7, "grid_a_current", Signed16, 0.01, "A", classCurrent, stateMeasurement),
	reg(12, "grid_frequency", Unsigned16, 0.01, "Hz", classFrequency, stateMeasurement),
	reg(13, "batt_power", Signed16, 10, "W", classPower, stateMeasurement),
	reg(14, "batt_voltage", Unsigned16, 0.1, "V", classVoltage, stateMeasurement),
	reg(15, "batt_current", Signed16, 0.01, "A", classCurrent, stateMeasurement),
	reg(16, "batt_soc", Unsigned16, 1, "%", classBattery, stateMeasurement),
	reg(17, "batt_temp", Unsigned16, 1, "°C", classTemperature, stateMeasurement),
	reg(18, "grid_power", Signed16, 10, "W", classPower, stateMeasurement),
	reg(19, "home_load_power", Signed16, 10, "W", classPower, stateMeasurement),
	reg(20, "inverter_power", Signed16, 10, "W", classPower, stateMeasurement),
	reg(21, "pv_generation_power", Signed16, 10, "W", classPower, stateMeasurement),
	reg(22, "eps_voltage", Unsigned16, 0.1, "V", classVoltage, stateMeasurement),
	reg(23, "eps_power", Unsigned16, 10, "W", classPower, stateMeasurement),
	reg(24, "day_pv_generated", Unsigned16, 0.01, "kWh", classEnergy, stateTotalIncreasing),
	reg(25, "day_export_grid", Unsigned16, 0.01, "kWh", classEnergy, stateTotalIncreasing),
	reg(26, "day_import_grid", Unsigned16, 0.01, "kWh", classEnergy, stateTotalIncreasing),
	reg(27, "day_load_use", Unsigned16, 0.01, "kWh", classEnergy, stateTotalIncreasing),
	reg(28, "total_pv_gen_HB", Unsigned16, HighWordScale, "", "", ""),
	reg(29, "total_pv_gen_LB", Unsigned16, 1, "", "", ""),
	reg(30, "total_export_grid_HB", Unsigned16, HighWordScale, "", "", ""),
	reg(31, "total_export_grid_LB", Unsigned16, 1, "", "", ""),
	reg(32, "total_import_grid_HB", Unsigned16, HighWordScale, "", "", ""),
	reg(33, "total_import_grid_LB", Unsigned16, 1, "", "", ""),
	reg(34, "total_load_use_HB", Unsigned16, HighWordScale, "", "", ""),
	reg(35, "total_load_use_LB", Unsigned16, 1, "", "", ""),
	reg(36, "charge_total", Unsigned16, 0.1, "", "", ""),
	reg(37, "discharge_total", Unsigned16, 0.1, "", "", ""),
	raw(38, "value_38_0x226"),
	raw(39, "value_39_0x227"),
	raw(40, "value_40_0x228"),
	raw(41, "value_41_0x229"),
	raw(42, "value_42_0x22A"),
	raw(43, "value_43_0x22B"),
	raw(44, "batt_cycles"),
	reg(45, "inverter_bus_voltage", Unsigned16, 0.1, "V", classVoltage, stateMeasurement),
	reg(46, "llc_bus_voltage", Unsigned16, 0.1, "V", classVoltage, stateMeasurement),
	// Datasheet lists this as unsigned; device behaviour unconfirmed.
	reg(47, "buck_current", Unsigned16, 0.01, "A", classCurrent, stateMeasurement),
	reg(48, "grid_r_voltage", Unsigned16, 0.1, "V", classVoltage, stateMeasurement),
	reg(49, "grid_r_current", Signed16, 0.01, "A", classCurrent, stateMeasurement),
	raw(54, "pv_generation_current_0x236"),
	raw(55, "battery_power_0x237"),
	reg(56, "inverter_internal_temp", Signed16, 1, "°C", classTemperature, stateMeasurement),
	reg(57, "inverter_heatsink_temp", Signed16, 1, "°C", classTemperature, stateMeasurement),
	raw(58, "country"),
	reg(59, "dc_current", Signed16, 0.001, "A", classCurrent, stateMeasurement),
	reg(60, "dc_voltage", Signed16, 0.1, "V", classVoltage, stateMeasurement),
	raw(61, "batt_fault_1_61_0x23D"),
	raw(62, "batt_fault_2_62_0x23E"),
	raw(63, "batt_fault_3_63_0x23F"),
	raw(64, "batt_fault_4_64_0x240"),
	raw(65, "batt_fault_1_65_0x241"),
	raw(66, "today_gen_time"),
	reg(67, "total_gen_time_HB", Unsigned16, HighWordScale, "", "", ""),
	reg(68, "total_gen_time_LB", Unsigned16, 1, "", "", ""),
}

// SofarME3000 returns the register map for Sofar ME3000SP storage inverters
func SofarME3000() *Map {
	m, err := NewMap(sofarME3000Specs...)
	if err != nil {
		panic(err)
	}
	return m
}
