package event

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/tabledger/errors"
)

// Kind provides structured type information for events, replacing the legacy
// convention of encoding the schema version as a ".v1" suffix on the type
// string. The pair is parsed once, at registration or ingestion, so the rest
// of the system never does runtime string splitting.
//
// Kind constants should be defined in domain packages to maintain clear
// ownership. Example:
//
//	var SaleRecorded = event.Kind{Name: "sale.recorded", Version: 1}
type Kind struct {
	// Name identifies the event type using dotted notation.
	// Examples: "sale.recorded", "customer.profile.upserted"
	Name string `json:"name"`

	// Version identifies the payload schema version. Enables schema evolution.
	Version int `json:"version"`
}

// Key returns the canonical string form: "name.v<version>".
// This implements the index key for the by-kind index and the wire form
// used by storage backends.
func (k Kind) Key() string {
	return fmt.Sprintf("%s.v%d", k.Name, k.Version)
}

// String returns the same as Key().
func (k Kind) String() string {
	return k.Key()
}

// IsValid checks if the Kind has required fields populated.
func (k Kind) IsValid() bool {
	return k.Name != "" && k.Version >= 1
}

// ParseKind parses a canonical "name.v<version>" string back into a Kind.
// A bare name with no version suffix is treated as version 1, which is how
// legacy stores encoded their unversioned event types.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return Kind{}, errors.WrapInvalid(
			fmt.Errorf("empty kind string"), "event", "ParseKind", "parse kind")
	}

	idx := strings.LastIndex(s, ".v")
	if idx > 0 {
		if v, err := strconv.Atoi(s[idx+2:]); err == nil && v >= 1 {
			return Kind{Name: s[:idx], Version: v}, nil
		}
	}

	// No recognizable version suffix: legacy unversioned type
	return Kind{Name: s, Version: 1}, nil
}
