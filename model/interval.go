package model

// Interval is one closed runway occupancy by one plane. Times are
// simulation-relative seconds since session start.
type Interval struct {
	Runway  int     `json:"runway"`
	PlaneID int     `json:"plane"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Duration returns End - Start.
func (i Interval) Duration() float64 {
	return i.End - i.Start
}
