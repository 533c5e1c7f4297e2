package pools

import (
	"time"

	"github.com/microinsure/poolregistry/pkg/models"
)

// Stats counts pools per risk type.
type Stats struct {
	Total           int       `json:"total"`
	CropFailure     int       `json:"cropFailure"`
	ExtremeWeather  int       `json:"extremeWeather"`
	HealthEmergency int       `json:"healthEmergency"`
	LivestockLoss   int       `json:"livestockLoss"`
	Other           int       `json:"other"`
	LoadedAt        time.Time `json:"loadedAt"`
}

// Summarize counts pools. Unknown risk labels count as Other.
func Summarize(pools []models.PoolRecord) Stats {
	st := Stats{Total: len(pools)}
	for _, p := range pools {
		switch p.RiskType {
		case models.RiskCropFailure:
			st.CropFailure++
		case models.RiskExtremeWeather:
			st.ExtremeWeather++
		case models.RiskHealthEmergency:
			st.HealthEmergency++
		case models.RiskLivestockLoss:
			st.LivestockLoss++
		default:
			st.Other++
		}
	}
	return st
}

// Filter keeps pools matching q. An empty q keeps everything.
func Filter(pools []models.PoolRecord, q string) []models.PoolRecord {
	out := make([]models.PoolRecord, 0, len(pools))
	for _, p := range pools {
		if p.Matches(q) {
			out = append(out, p)
		}
	}
	return out
}
