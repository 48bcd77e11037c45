// Package academics holds the grade-point and attendance arithmetic.
package academics

import (
	"math"

	"github.com/academe-app/academe/internal/model"
)

// gradePoints is the ten-point scale used by the portal.
var gradePoints = map[string]float64{
	"O":  10,
	"A+": 9,
	"A":  8,
	"B+": 7,
	"B":  6,
	"C":  5,
	"P":  4,
	"F":  0,
}

// GradePoint returns the point value of a letter grade; ok is false for
// unknown letters, which are excluded from CGPA.
func GradePoint(letter string) (float64, bool) {
	p, ok := gradePoints[letter]
	return p, ok
}

// CGPA computes the credit-weighted grade-point average across grades.
// Grades with unknown letters or non-positive credits are skipped; zero
// total credits yields 0.
func CGPA(grades []model.Grade) float64 {
	var points, credits float64
	for _, g := range grades {
		p, ok := GradePoint(g.Grade)
		if !ok || g.Credits <= 0 {
			continue
		}
		points += p * g.Credits
		credits += g.Credits
	}
	if credits == 0 {
		return 0
	}
	return points / credits
}

// Percentage returns attendance as a percentage; zero total yields 0.
func Percentage(e model.AttendanceEntry) float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.Attended) / float64(e.Total) * 100
}

// Overall aggregates attendance across entries into one percentage.
func Overall(entries []model.AttendanceEntry) float64 {
	var attended, total int
	for _, e := range entries {
		attended += e.Attended
		total += e.Total
	}
	if total <= 0 {
		return 0
	}
	return float64(attended) / float64(total) * 100
}

// ClassesNeeded returns how many consecutive classes must be attended to
// reach target percent: smallest x with (attended+x)/(total+x) >= target.
func ClassesNeeded(e model.AttendanceEntry, targetPercent float64) int {
	t := targetPercent / 100
	if t >= 1 {
		if e.Attended == e.Total {
			return 0
		}
		return -1 // unreachable short of perfect history
	}
	cur := float64(e.Attended)
	if e.Total > 0 && cur/float64(e.Total) >= t {
		return 0
	}
	// (attended+x) >= t*(total+x)  =>  x >= (t*total - attended)/(1-t)
	x := (t*float64(e.Total) - cur) / (1 - t)
	return int(math.Ceil(x))
}

// ClassesBunkable returns how many upcoming classes can be missed while
// staying at or above target percent: largest x with
// attended/(total+x) >= target.
func ClassesBunkable(e model.AttendanceEntry, targetPercent float64) int {
	t := targetPercent / 100
	if t <= 0 {
		return math.MaxInt32
	}
	if e.Total > 0 && float64(e.Attended)/float64(e.Total) < t {
		return 0
	}
	// attended >= t*(total+x)  =>  x <= attended/t - total
	x := float64(e.Attended)/t - float64(e.Total)
	return int(math.Floor(x))
}
