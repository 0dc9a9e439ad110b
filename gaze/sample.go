// Package gaze records binocular eye-tracker samples during a session.
package gaze

import (
	"math"
	"strconv"
)

// Point is a position on the display area in tracker coordinates: (0, 0) is the
// top-left corner and (1, 1) the bottom-right one.
type Point struct {
	X, Y float64
}

// RawSample is one sample as delivered by the tracker SDK.
type RawSample struct {
	SystemTimeStamp int64 // microseconds, tracker clock

	LeftGaze       Point
	LeftGazeValid  bool
	RightGaze      Point
	RightGazeValid bool

	LeftPupil       float64 // mm
	LeftPupilValid  bool
	RightPupil      float64
	RightPupilValid bool
}

// Screen converts display-area coordinates to screen-centred pixels with y up.
type Screen struct {
	Width, Height int
}

func (s Screen) ToPixels(p Point) (x, y float64) {
	return (p.X - 0.5) * float64(s.Width), (0.5 - p.Y) * float64(s.Height)
}

// Sample is a converted sample. Time is in milliseconds since recording start.
// Gaze positions are screen-centred pixels, NaN when not detected.
type Sample struct {
	SystemTime int64
	Time       float64

	LeftX, LeftY   float64
	LeftValid      bool
	RightX, RightY float64
	RightValid     bool
	X, Y           float64

	LeftPupil       float64
	LeftPupilValid  bool
	RightPupil      float64
	RightPupilValid bool
	Pupil           float64
}

// Convert turns a raw sample into a Sample relative to t0 (tracker microseconds).
func Convert(raw RawSample, screen Screen, t0 int64) Sample {
	lx, ly := screen.ToPixels(raw.LeftGaze)
	rx, ry := screen.ToPixels(raw.RightGaze)
	x, y := averageGaze(raw, lx, ly, rx, ry)

	return Sample{
		SystemTime: raw.SystemTimeStamp,
		Time:       round(float64(raw.SystemTimeStamp-t0)/1000.0, 1),

		LeftX:      round(lx, 4),
		LeftY:      round(ly, 4),
		LeftValid:  raw.LeftGazeValid,
		RightX:     round(rx, 4),
		RightY:     round(ry, 4),
		RightValid: raw.RightGazeValid,
		X:          round(x, 4),
		Y:          round(y, 4),

		LeftPupil:       round(raw.LeftPupil, 4),
		LeftPupilValid:  raw.LeftPupilValid,
		RightPupil:      round(raw.RightPupil, 4),
		RightPupilValid: raw.RightPupilValid,
		Pupil:           round(averagePupil(raw), 4),
	}
}

func averageGaze(raw RawSample, lx, ly, rx, ry float64) (float64, float64) {
	switch {
	case !raw.LeftGazeValid && !raw.RightGazeValid:
		return math.NaN(), math.NaN()
	case !raw.LeftGazeValid:
		return rx, ry
	case !raw.RightGazeValid:
		return lx, ly
	default:
		return (lx + rx) / 2, (ly + ry) / 2
	}
}

func averagePupil(raw RawSample) float64 {
	switch {
	case !raw.LeftPupilValid && !raw.RightPupilValid:
		return math.NaN()
	case !raw.LeftPupilValid:
		return raw.RightPupil
	case !raw.RightPupilValid:
		return raw.LeftPupil
	default:
		return (raw.LeftPupil + raw.RightPupil) / 2
	}
}

func round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// formatFloat writes NaN as "nan" so downstream conversion can recognise it.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
