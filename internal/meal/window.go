// Package meal classifies clock times into mess meal windows.
package meal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category is one of the fixed meal services of a day.
type Category string

const (
	Breakfast Category = "Breakfast"
	Lunch     Category = "Lunch"
	Snack     Category = "Snack"
	Dinner    Category = "Dinner"
)

// Categories lists every category in serving order.
var Categories = []Category{Breakfast, Lunch, Snack, Dinner}

// ErrOutsideWindow is returned when a time falls in no meal window.
var ErrOutsideWindow = errors.New("out of meal time")

// ErrUnknownCategory is returned by ParseCategory.
var ErrUnknownCategory = errors.New("unknown meal category")

const lastMinute = 24*60 - 1

// ParseCategory matches a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Window is an inclusive range of minutes from midnight mapped to a category.
type Window struct {
	Category Category
	Start    int
	End      int
}

// Contains reports whether minute lies inside the window, bounds included.
func (w Window) Contains(minute int) bool {
	return minute >= w.Start && minute <= w.End
}

// DefaultWindows returns the canonical serving hours.
func DefaultWindows() []Window {
	return []Window{
		{Category: Breakfast, Start: 7*60 + 30, End: 11 * 60},
		{Category: Lunch, Start: 11*60 + 45, End: 14 * 60},
		{Category: Snack, Start: 15*60 + 20, End: 18 * 60},
		{Category: Dinner, Start: 18*60 + 45, End: 21*60 + 45},
	}
}

// Classifier maps instants to meal categories in a fixed civil timezone.
// It is immutable once built and safe for concurrent use.
type Classifier struct {
	loc     *time.Location
	windows []Window
}

// NewClassifier validates the window table and returns a classifier.
// Windows must be ordered, non-overlapping and within a single day.
func NewClassifier(loc *time.Location, windows []Window) (*Classifier, error) {
	if loc == nil {
		return nil, errors.New("meal: timezone required")
	}
	if len(windows) == 0 {
		return nil, errors.New("meal: at least one window required")
	}
	seen := make(map[Category]bool, len(windows))
	for i, w := range windows {
		if _, err := ParseCategory(string(w.Category)); err != nil {
			return nil, fmt.Errorf("meal: window %d: %w", i, err)
		}
		if seen[w.Category] {
			return nil, fmt.Errorf("meal: category %s configured twice", w.Category)
		}
		seen[w.Category] = true
		if w.Start < 0 || w.End > lastMinute || w.Start > w.End {
			return nil, fmt.Errorf("meal: window %s has invalid bounds [%d,%d]", w.Category, w.Start, w.End)
		}
		if i > 0 && w.Start <= windows[i-1].End {
			return nil, fmt.Errorf("meal: window %s overlaps or precedes %s", w.Category, windows[i-1].Category)
		}
	}
	cp := make([]Window, len(windows))
	copy(cp, windows)
	return &Classifier{loc: loc, windows: cp}, nil
}

// Location returns the institution timezone.
func (c *Classifier) Location() *time.Location { return c.loc }

// Windows returns a copy of the configured table.
func (c *Classifier) Windows() []Window {
	out := make([]Window, len(c.windows))
	copy(out, c.windows)
	return out
}

// Classify returns the category whose window contains t, or ErrOutsideWindow.
func (c *Classifier) Classify(t time.Time) (Category, error) {
	return c.ClassifyMinute(MinuteOfDay(t.In(c.loc)))
}

// ClassifyMinute classifies a minute-of-day directly.
func (c *Classifier) ClassifyMinute(minute int) (Category, error) {
	for _, w := range c.windows {
		if w.Contains(minute) {
			return w.Category, nil
		}
	}
	return "", ErrOutsideWindow
}

// DayBucket returns the start of t's civil day in the institution timezone.
func (c *Classifier) DayBucket(t time.Time) time.Time {
	local := t.In(c.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// MinuteOfDay returns hour*60+minute of t in its own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ParseClock parses "HH:MM" into minutes from midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("meal: invalid clock %q: %w", s, err)
	}
	return MinuteOfDay(t), nil
}
