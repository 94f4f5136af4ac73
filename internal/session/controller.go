// Package session drives the pre-close warning and forced square-off of one trading day.
package session

import (
	"fmt"
	"time"

	"github.com/yanun0323/logs"
)

const (
	defaultWarningTime   = "15:00"
	defaultSquareOffTime = "15:15"
	defaultLocation      = "Asia/Kolkata"
)

// State is the one-way session state.
type State uint16

const (
	StatePreWarning State = iota
	StateWarned
	StateSquaredOff
)

func (s State) String() string {
	switch s {
	case StatePreWarning:
		return "PRE_WARNING"
	case StateWarned:
		return "WARNED"
	case StateSquaredOff:
		return "SQUARED_OFF"
	default:
		return "UNKNOWN"
	}
}

// Config holds session clock times as HH:MM in Location.
type Config struct {
	WarningTime   string
	SquareOffTime string
	Location      string
}

func (c Config) withDefaults() Config {
	if c.WarningTime == "" {
		c.WarningTime = defaultWarningTime
	}
	if c.SquareOffTime == "" {
		c.SquareOffTime = defaultSquareOffTime
	}
	if c.Location == "" {
		c.Location = defaultLocation
	}
	return c
}

// Actions reports the transitions made by one CheckTime call.
type Actions struct {
	WarningIssued bool
	SquareOffDue  bool
}

// Controller is the session clock. It is driven by simulated tick time.
type Controller struct {
	loc       *time.Location
	warning   clockTime
	squareOff clockTime

	state State
	day   string

	warnedAt  time.Time
	squaredAt time.Time
}

// NewController parses the config and creates a controller in PRE_WARNING.
func NewController(cfg Config) (*Controller, error) {
	cfg = cfg.withDefaults()
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid session config: location %q: %w", cfg.Location, err)
	}
	warning, err := parseClock(cfg.WarningTime)
	if err != nil {
		return nil, fmt.Errorf("invalid session config: warning time: %w", err)
	}
	squareOff, err := parseClock(cfg.SquareOffTime)
	if err != nil {
		return nil, fmt.Errorf("invalid session config: square off time: %w", err)
	}
	if squareOff.minutes() < warning.minutes() {
		return nil, fmt.Errorf("invalid session config: square off %s before warning %s", cfg.SquareOffTime, cfg.WarningTime)
	}
	return &Controller{loc: loc, warning: warning, squareOff: squareOff}, nil
}

// Location returns the session time zone.
func (c *Controller) Location() *time.Location {
	return c.loc
}

// CheckTime advances the state machine. Each transition is reported exactly once per day.
func (c *Controller) CheckTime(now time.Time) Actions {
	local := now.In(c.loc)
	if day := local.Format(time.DateOnly); day != c.day {
		if c.day != "" {
			logs.Infof("session day changed %s -> %s, reset", c.day, day)
		}
		c.reset(day)
	}

	var actions Actions
	if c.state == StatePreWarning && !c.warning.after(local) {
		c.state = StateWarned
		c.warnedAt = now
		actions.WarningIssued = true
		logs.Warnf("session warning at %s: new entries blocked", local.Format(time.TimeOnly))
	}
	if c.state == StateWarned && !c.squareOff.after(local) {
		c.state = StateSquaredOff
		c.squaredAt = now
		actions.SquareOffDue = true
		logs.Warnf("session square off due at %s", local.Format(time.TimeOnly))
	}
	return actions
}

// State returns the current session state.
func (c *Controller) State() State {
	return c.state
}

// WarningIssued reports whether the warning transition happened today.
func (c *Controller) WarningIssued() bool {
	return c.state >= StateWarned
}

// NewEntriesBlocked reports whether new BUY entries are refused. Exits are never blocked.
func (c *Controller) NewEntriesBlocked() bool {
	return c.state >= StateWarned
}

// SquareOffExecuted reports whether the square-off transition happened today.
func (c *Controller) SquareOffExecuted() bool {
	return c.state == StateSquaredOff
}

// Reset returns to PRE_WARNING for a new day.
func (c *Controller) Reset() {
	c.reset("")
}

func (c *Controller) reset(day string) {
	c.state = StatePreWarning
	c.day = day
	c.warnedAt = time.Time{}
	c.squaredAt = time.Time{}
}

type clockTime struct {
	hour, minute int
}

func parseClock(s string) (clockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return clockTime{}, err
	}
	return clockTime{hour: t.Hour(), minute: t.Minute()}, nil
}

func (c clockTime) minutes() int {
	return c.hour*60 + c.minute
}

// after reports whether the clock time is later than local's wall time.
func (c clockTime) after(local time.Time) bool {
	at := time.Date(local.Year(), local.Month(), local.Day(), c.hour, c.minute, 0, 0, local.Location())
	return at.After(local)
}

// Status is a read-only view of the controller.
type Status struct {
	State        string    `json:"state"`
	Day          string    `json:"day"`
	WarnedAt     time.Time `json:"warned_at,omitempty"`
	SquaredOffAt time.Time `json:"squared_off_at,omitempty"`
}

// Status returns the controller state for publication.
func (c *Controller) Status() Status {
	return Status{
		State:        c.state.String(),
		Day:          c.day,
		WarnedAt:     c.warnedAt,
		SquaredOffAt: c.squaredAt,
	}
}
