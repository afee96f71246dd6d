package adapter

import "github.com/hydroworks/aquapilot/types"

// The water network profile: the register layout, sensor translations
// and command routes shared by the stock site configurations. Sites
// with different field wiring supply their own tables instead.

// WaterNetworkRegisters is the Modbus holding-register layout of the
// stock SCADA RTU.
func WaterNetworkRegisters() map[string]ModbusRegister {
	return map[string]ModbusRegister{
		"flow_01":        {Address: 100, Multiplier: 0.1, Unit: "L/min"},
		"pressure_01":    {Address: 101, Multiplier: 0.01, Unit: "bar"},
		"quality_01":     {Address: 102, Multiplier: 0.01, Unit: "pH"},
		"temperature_01": {Address: 103, Multiplier: 0.1, Unit: "C"},
	}
}

// WaterNetworkSensors translates the profile's native sensor names into
// the canonical model.
func WaterNetworkSensors() map[string]SensorMapping {
	return map[string]SensorMapping{
		"flow_01": {
			CanonicalID: "flow_01",
			SensorType:  types.SensorFlow,
			Unit:        "L/min",
		},
		"pressure_01": {
			CanonicalID: "pressure_01",
			SensorType:  types.SensorPressure,
			Unit:        "bar",
		},
		"quality_01": {
			CanonicalID: "quality_01",
			SensorType:  types.SensorQuality,
			Unit:        "pH",
		},
		"temperature_01": {
			CanonicalID: "temperature_01",
			SensorType:  types.SensorTemperature,
			Unit:        "C",
		},
	}
}

// WaterNetworkCommands routes the canonical command targets the planner
// and optimizer address onto the profile's devices.
func WaterNetworkCommands() map[string]CommandMapping {
	return map[string]CommandMapping{
		"main_pump": {
			LegacyTarget: "pump_01",
			Bounds:       &types.Bounds{Min: 0, Max: 6},
		},
		"main_valve": {
			LegacyTarget: "valve_01",
			Bounds:       &types.Bounds{Min: 0, Max: 200},
		},
		"treatment_unit": {
			LegacyTarget: "treatment_01",
		},
		"distribution_network": {
			LegacyTarget: "network_master",
		},
	}
}
