package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidData is matched by every ValidationError via errors.Is.
var ErrInvalidData = errors.New("invalid data")

// ValidationError reports why a source was rejected. The store is left
// untouched when it is returned.
type ValidationError struct {
	Table    string
	Problems []string
}

func (e ValidationError) Error() string {
	where := "source"
	if e.Table != "" {
		where = "table " + e.Table
	}
	if len(e.Problems) == 0 {
		return fmt.Sprintf("%s: %s", where, ErrInvalidData)
	}
	return fmt.Sprintf("%s: %s: %s", where, ErrInvalidData, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrInvalidData) hold.
func (e ValidationError) Is(target error) bool { return target == ErrInvalidData }

// ErrUnknownTable is returned when a table name is not in the registry.
type ErrUnknownTable struct {
	Name string
}

func (e ErrUnknownTable) Error() string {
	return fmt.Sprintf("unknown table %q", e.Name)
}
