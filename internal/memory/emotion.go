package memory

import "math"

// Physiology is the derived somatic response vector for an emotional memory.
type Physiology struct {
	HeartRateDelta     float64 `json:"heart_rate_delta"`     // bpm
	BreathingRateDelta float64 `json:"breathing_rate_delta"` // breaths/min
	MuscleTension      float64 `json:"muscle_tension"`       // [0, 1]
	StressHormone      float64 `json:"stress_hormone"`       // [0, 1]
	EnergyLevel        float64 `json:"energy_level"`         // [-1, 1]
}

// emotionModifier shifts the baseline response for a well-known emotion type.
type emotionModifier struct {
	HeartRate float64
	Breathing float64
	Tension   float64
	Stress    float64
	Energy    float64
}

// Fixed modifier table. Emotion type is open vocabulary; anything not listed
// here gets the neutral zero modifier.
var emotionModifiers = map[string]emotionModifier{
	"joy":      {HeartRate: 8, Breathing: 1.5, Tension: -0.15, Stress: -0.20, Energy: 0.40},
	"fear":     {HeartRate: 25, Breathing: 5.0, Tension: 0.40, Stress: 0.50, Energy: 0.20},
	"anger":    {HeartRate: 20, Breathing: 4.0, Tension: 0.50, Stress: 0.40, Energy: 0.30},
	"sadness":  {HeartRate: -5, Breathing: -1.0, Tension: 0.10, Stress: 0.20, Energy: -0.40},
	"surprise": {HeartRate: 15, Breathing: 3.0, Tension: 0.20, Stress: 0.10, Energy: 0.20},
	"disgust":  {HeartRate: 5, Breathing: 1.0, Tension: 0.30, Stress: 0.20, Energy: -0.10},
}

// DerivePhysiology computes the deterministic somatic response from
// valence [-1,1], arousal [0,1] and intensity [0,1], shifted by the
// emotion-specific modifier.
func DerivePhysiology(emotionType string, valence, arousal, intensity float64) Physiology {
	mod := emotionModifiers[emotionType] // zero value for unknown types

	negValence := math.Max(0, -valence)
	return Physiology{
		HeartRateDelta:     (arousal*30 + mod.HeartRate) * intensity,
		BreathingRateDelta: (arousal*8 + mod.Breathing) * intensity,
		MuscleTension:      clamp01(((1-valence)/2*0.5 + arousal*0.3 + mod.Tension) * intensity),
		StressHormone:      clamp01((negValence*0.6 + arousal*0.2 + mod.Stress) * intensity),
		EnergyLevel:        clamp((valence*0.4+arousal*0.3+mod.Energy)*intensity, -1, 1),
	}
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
