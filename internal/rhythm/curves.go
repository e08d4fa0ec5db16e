package rhythm

// Chronotype is a persona's circadian activity profile, expressed as 24
// hourly activity weights. A weight of exactly 0 marks a sleep hour.
type Chronotype string

const (
	ChronoEarlyBird Chronotype = "early-bird"
	ChronoNormal    Chronotype = "normal"
	ChronoNightOwl  Chronotype = "night-owl"
)

var earlyBirdCurve = [24]float64{
	0, 0, 0, 0, 0, 0.3, // 00-05
	0.7, 1.0, 0.9, 0.8, 0.7, 0.6, // 06-11
	0.6, 0.5, 0.5, 0.5, 0.6, 0.7, // 12-17
	0.6, 0.4, 0.3, 0.2, 0, 0, // 18-23
}

var normalCurve = [24]float64{
	0, 0, 0, 0, 0, 0, // 00-05
	0, 0.3, 0.6, 0.7, 0.7, 0.8, // 06-11
	0.9, 0.8, 0.7, 0.7, 0.7, 0.8, // 12-17
	0.9, 1.0, 0.9, 0.8, 0.6, 0.3, // 18-23
}

var nightOwlCurve = [24]float64{
	0.9, 0.8, 0.6, 0.4, 0, 0, // 00-05
	0, 0, 0, 0, 0, 0.3, // 06-11
	0.5, 0.6, 0.6, 0.7, 0.7, 0.8, // 12-17
	0.8, 0.9, 0.9, 1.0, 1.0, 0.9, // 18-23
}

// Curve returns the chronotype's hourly activity weights. Unknown values
// fall back to the normal curve.
func (c Chronotype) Curve() [24]float64 {
	switch c {
	case ChronoEarlyBird:
		return earlyBirdCurve
	case ChronoNightOwl:
		return nightOwlCurve
	default:
		return normalCurve
	}
}

func curveAverage(curve [24]float64) float64 {
	var sum float64
	for _, v := range curve {
		sum += v
	}
	return sum / 24
}
