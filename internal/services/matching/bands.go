package matching

import (
	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/models"
)

// Categorize maps a 0-100 confidence score to its routing band. It never
// alters the score.
func Categorize(confidence float64, b config.BandBoundaries) models.Band {
	switch {
	case confidence >= b.High:
		return models.BandHigh
	case confidence >= b.Medium:
		return models.BandMedium
	case confidence >= b.Low:
		return models.BandLow
	default:
		return models.BandUnmatched
	}
}
