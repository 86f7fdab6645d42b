package events

import (
	"fmt"
	"strings"
)

// Level selects which log categories reach sinks.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelError Level = "error"
	LevelNone  Level = "none"
)

var levelCategories = map[Level][]Category{
	LevelDebug: {CategoryInfo, CategorySuccess, CategoryWarning, CategoryDanger, CategoryCache, CategoryRequest},
	LevelInfo:  {CategoryInfo, CategorySuccess, CategoryWarning, CategoryDanger},
	LevelError: {CategoryDanger},
	LevelNone:  {},
}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelCategories[l]; !ok {
		return "", fmt.Errorf("unknown log level %q: must be one of debug, info, error, none", s)
	}
	return l, nil
}

// Allows reports whether c is emitted at level l. Unknown levels behave like debug.
func (l Level) Allows(c Category) bool {
	cats, ok := levelCategories[l]
	if !ok {
		cats = levelCategories[LevelDebug]
	}
	for _, allowed := range cats {
		if allowed == c {
			return true
		}
	}
	return false
}
