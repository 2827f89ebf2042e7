// Package systems maps grid regions to the interconnected system they
// belong to.
package systems

import (
	"strings"
	"unicode"

	"github.com/Gobusters/ectolinq"
	"github.com/Ramsey-B/sunflower/pkg/models"
	"golang.org/x/text/unicode/norm"
)

var (
	bajaCalifornia    = []string{"baja california"}
	bajaCaliforniaSur = []string{"baja california sur", "mulege"}
)

// Classify returns the system of a region. Regions outside the two Baja
// California grids belong to the national system.
func Classify(region string) models.System {
	name := normalize(region)
	switch {
	case ectolinq.Contains(bajaCaliforniaSur, name):
		return models.SystemBCS
	case ectolinq.Contains(bajaCalifornia, name):
		return models.SystemBCA
	default:
		return models.SystemSIN
	}
}

// Resolve keeps a valid explicit system and classifies the region otherwise.
func Resolve(explicit models.System, region string) models.System {
	if explicit.IsValid() {
		return explicit
	}
	return Classify(region)
}

func normalize(region string) string {
	decomposed := norm.NFD.String(strings.ToLower(strings.TrimSpace(region)))
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
