package migration

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/fulldump/unikv/engine"
)

const (
	Before = "before"
	After  = "after"
)

// Context is shared by every step of one upgrade.
type Context struct {
	DB         *engine.Database
	Tx         *engine.Transaction
	OldVersion int
	NewVersion int
	Log        zerolog.Logger
}

// Step applies one schema version. It must call next exactly once, with nil
// to go on or with the error that aborts the upgrade.
type Step func(c *Context, next func(err error))

// Map binds versions ("1", "2", ...) to steps. Before and After wrap the
// selected steps; any other key, "01" included, is ignored.
type Map map[string]Step

var ErrBadVersionKey = errors.New("bad migration key")

// versionOf parses the canonical version key of a step.
func versionOf(key string) (int, bool) {
	n, err := strconv.Atoi(key)
	if err != nil || n <= 0 || strconv.Itoa(n) != key {
		return 0, false
	}
	return n, true
}

// Validate rejects keys that look like versions without being canonical,
// such as "01" next to "1".
func Validate(m Map) error {
	for key := range m {
		if key == Before || key == After {
			continue
		}
		if _, ok := versionOf(key); ok {
			continue
		}
		if n, err := strconv.Atoi(key); err == nil && n > 0 {
			return fmt.Errorf("%w: '%s', use '%d'", ErrBadVersionKey, key, n)
		}
	}
	return nil
}

type version struct {
	number int
	key    string
}

// Select returns the keys of the steps an upgrade from oldVersion to
// newVersion runs, in execution order.
func Select(m Map, oldVersion, newVersion int) []string {
	versions := []version{}
	for key, step := range m {
		if step == nil || key == Before || key == After {
			continue
		}
		n, ok := versionOf(key)
		if !ok {
			continue
		}
		versions = append(versions, version{number: n, key: key})
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].number < versions[j].number
	})

	plan := []string{}
	if m[Before] != nil {
		plan = append(plan, Before)
	}
	for _, v := range versions {
		if v.number > newVersion {
			break
		}
		if v.number <= oldVersion {
			continue
		}
		plan = append(plan, v.key)
	}
	if m[After] != nil {
		plan = append(plan, After)
	}

	return plan
}

// Migrate runs the selected steps of m one after the other and then calls
// onComplete. The first step failure (an error passed to next or a panic)
// ends the sequence and is passed to onComplete.
func Migrate(c *Context, m Map, oldVersion, newVersion int, onComplete func(err error)) {
	c.OldVersion = oldVersion
	c.NewVersion = newVersion

	plan := Select(m, oldVersion, newVersion)
	s := &sequencer{
		c:          c,
		labels:     plan,
		steps:      make([]Step, len(plan)),
		onComplete: onComplete,
	}
	for i, key := range plan {
		s.steps[i] = m[key]
	}

	c.Log.Debug().Int("old_version", oldVersion).Int("new_version", newVersion).
		Strs("steps", plan).Msg("migrate")

	s.advance()
}

// sequencer walks steps; i is the next one to run.
type sequencer struct {
	c          *Context
	labels     []string
	steps      []Step
	i          int
	onComplete func(err error)
}

func (s *sequencer) advance() {
	if s.i >= len(s.steps) {
		s.onComplete(nil)
		return
	}

	label, step := s.labels[s.i], s.steps[s.i]
	s.i++

	continued := false
	next := func(err error) {
		if continued {
			s.c.Log.Warn().Str("step", label).Msg("migration step continued twice")
			return
		}
		continued = true
		if err != nil {
			s.c.Log.Error().Err(err).Str("step", label).Msg("migration step failed")
			s.onComplete(fmt.Errorf("migration step '%s': %w", label, err))
			return
		}
		s.advance()
	}

	s.c.Log.Debug().Str("step", label).Msg("migration step")
	s.run(step, next, func() bool { return continued })
}

// run calls step turning a panic into a failure. Panics raised after the
// step continued belong to later code and are propagated.
func (s *sequencer) run(step Step, next func(err error), continued func() bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if continued() {
			panic(r)
		}
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("%v", r)
		}
		next(fmt.Errorf("panic: %w", err))
	}()

	step(s.c, next)
}
