package models

import (
	"fmt"
	"strings"
)

// Region is a grid area tracked independently. ID is what upstream expects in
// the request body, Name is what gets stored.
type Region struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ParseRegions reads a comma separated list of id:name pairs.
func ParseRegions(raw []string) ([]Region, error) {
	regions := make([]Region, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, name, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid region %q, expected id:name", entry)
		}
		regions = append(regions, Region{ID: strings.TrimSpace(id), Name: strings.TrimSpace(name)})
	}
	return regions, nil
}
