package config

import (
	"sort"

	"github.com/jregier/n1sim/internal/study"
)

// Presets are ready-made study layouts for the run command. Treatment
// names follow the Treatment_N convention of the parameter documents.
var Presets = map[string]*Config{
	"crossover": {
		Design: study.Design{
			{Treatment: "Treatment_1", Days: 14},
			{Treatment: "Treatment_2", Days: 14},
		},
		DaysPerPeriod: 14,
		Patients:      DefaultPatients,
	},
	"alternating": {
		Design: study.Design{
			{Treatment: "Treatment_1", Days: 7},
			{Treatment: "Treatment_2", Days: 7},
			{Treatment: "Treatment_1", Days: 7},
			{Treatment: "Treatment_2", Days: 7},
		},
		DaysPerPeriod: 7,
		Patients:      DefaultPatients,
	},
	"washout": {
		Design: study.Design{
			{Treatment: "Treatment_1", Days: 14},
			{Treatment: "", Days: 7},
			{Treatment: "Treatment_2", Days: 14},
		},
		DaysPerPeriod: 14,
		Patients:      DefaultPatients,
	},
}

func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
