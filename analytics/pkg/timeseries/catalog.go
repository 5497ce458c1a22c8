package timeseries

import (
	"fmt"
	"maps"
	"slices"
)

// DeviceType describes one family of devices and the datapoints they report.
type DeviceType struct {
	Pattern     string   `json:"pattern"`
	Description string   `json:"description"`
	Datapoints  []string `json:"datapoints"`
}

// AllDeviceTypes selects the whole catalog.
const AllDeviceTypes = "all"

var waterLoopDatapoints = []string{"supply_water_temperature", "return_water_temperature", "flow_rate", "water_delta_temperature"}

var catalog = map[string]DeviceType{
	"plant": {
		Pattern:     "plant",
		Description: "Overall plant aggregate data",
		Datapoints: []string{
			"cooling_rate", "cumulative_cooling_energy", "cumulative_energy",
			"efficiency", "efficiency_annual", "efficiency_cdp", "efficiency_chiller",
			"efficiency_ct", "efficiency_pchp", "heat_balance", "heat_reject",
			"number_of_running_cdps", "number_of_running_chillers", "number_of_running_cts",
			"number_of_running_pchps", "power", "power_all_cdps", "power_all_chillers",
			"power_all_cts", "power_all_pchps", "running_capacity",
			"target_cdw_setpoint", "target_chw_setpoint",
		},
	},
	"chiller": {
		Pattern:     "chiller_{N}",
		Description: "Individual chillers (chiller_1, chiller_2, chiller_3, etc.)",
		Datapoints: []string{
			"alarm", "compressor_runtime",
			"cond_approach_temperature", "cond_delta_temperature",
			"cond_entering_water_temperature", "cond_leaving_water_temperature",
			"cond_sat_refrig_pressure", "cond_sat_refrig_temperature",
			"cond_water_flow_rate", "cond_water_flow_status",
			"cooling_rate", "cumulative_energy",
			"current_average", "current_l1", "current_l2", "current_l3",
			"demand_limit_setpoint_local", "demand_limit_setpoint_read", "demand_limit_setpoint_write",
			"efficiency",
			"evap_approach_temperature", "evap_delta_temperature",
			"evap_entering_water_temperature", "evap_leaving_water_temperature",
			"evap_sat_refrig_pressure", "evap_sat_refrig_temperature",
			"evap_water_flow_rate", "evap_water_flow_status",
			"heat_balance", "heat_reject", "mode",
			"oil_diff_pressure", "oil_pump_disc_temperature", "oil_tank_pressure", "oil_tank_temperature",
			"percentage_rla", "power", "power_factor", "running_capacity",
			"setpoint_local", "setpoint_read", "setpoint_write",
			"status_local", "status_read", "status_write",
			"voltage_l1l2", "voltage_l2l3", "voltage_l3l1", "voltage_ll_average",
		},
	},
	"chilled_water_loop": {
		Pattern:     "chilled_water_loop",
		Description: "Chilled water loop",
		Datapoints:  waterLoopDatapoints,
	},
	"condenser_water_loop": {
		Pattern:     "condenser_water_loop",
		Description: "Condenser water loop",
		Datapoints:  waterLoopDatapoints,
	},
	"cooling_tower": {
		Pattern:     "ct_{N}",
		Description: "Cooling towers (ct_1, ct_2, etc.)",
		Datapoints:  []string{"alarm", "status_read"},
	},
	"weather": {
		Pattern:     "outdoor_weather_station",
		Description: "Outdoor weather station",
		Datapoints:  []string{"drybulb_temperature", "wetbulb_temperature", "humidity"},
	},
	"pump": {
		Pattern:     "pchp_{N}, schp_{N}, cdp_{N}",
		Description: "Pumps - primary (pchp), secondary (schp), condenser (cdp)",
		// freqeuncy_read is the point name as stored by the site gateways.
		Datapoints: []string{"status_read", "efficiency", "power", "alarm", "freqeuncy_read"},
	},
}

// DeviceTypeNames returns the catalog keys, sorted.
func DeviceTypeNames() []string {
	return slices.Sorted(maps.Keys(catalog))
}

// ListDatapoints returns the catalog entries for deviceType, or the whole
// catalog for "" and "all". The returned map is a copy.
func ListDatapoints(deviceType string) (map[string]DeviceType, error) {
	if deviceType == "" || deviceType == AllDeviceTypes {
		out := make(map[string]DeviceType, len(catalog))
		for name, dt := range catalog {
			out[name] = dt.clone()
		}
		return out, nil
	}
	if deviceType == "ct" {
		deviceType = "cooling_tower"
	}
	dt, ok := catalog[deviceType]
	if !ok {
		return nil, fmt.Errorf("unknown device type %q", deviceType)
	}
	return map[string]DeviceType{deviceType: dt.clone()}, nil
}

func (d DeviceType) clone() DeviceType {
	d.Datapoints = slices.Clone(d.Datapoints)
	return d
}
