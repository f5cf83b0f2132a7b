package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"messgate/internal/meal"
)

// windowsFile is the YAML layout of MEAL_WINDOWS_FILE:
//
//	timezone: Asia/Kolkata
//	windows:
//	  - category: Breakfast
//	    start: "07:30"
//	    end: "11:00"
type windowsFile struct {
	Timezone string `yaml:"timezone"`
	Windows  []struct {
		Category string `yaml:"category"`
		Start    string `yaml:"start"`
		End      string `yaml:"end"`
	} `yaml:"windows"`
}

// LoadWindows parses a meal window table. The returned timezone is empty
// when the file does not set one.
func LoadWindows(r io.Reader) (string, []meal.Window, error) {
	var f windowsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return "", nil, fmt.Errorf("config: decode meal windows: %w", err)
	}
	if len(f.Windows) == 0 {
		return "", nil, fmt.Errorf("config: meal windows file lists no windows")
	}

	out := make([]meal.Window, 0, len(f.Windows))
	for _, w := range f.Windows {
		category, err := meal.ParseCategory(w.Category)
		if err != nil {
			return "", nil, fmt.Errorf("config: %w", err)
		}
		start, err := meal.ParseClock(w.Start)
		if err != nil {
			return "", nil, fmt.Errorf("config: %s start: %w", category, err)
		}
		end, err := meal.ParseClock(w.End)
		if err != nil {
			return "", nil, fmt.Errorf("config: %s end: %w", category, err)
		}
		out = append(out, meal.Window{Category: category, Start: start, End: end})
	}
	return f.Timezone, out, nil
}
