package domain

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// ID prefixes. IDs are K-sortable TypeIDs in the form "prefix_suffix".
const (
	PrefixJob   = "job"
	PrefixEntry = "txn"
)

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return newID(PrefixJob)
}

// NewEntryID returns a fresh ledger entry identifier.
func NewEntryID() string {
	return newID(PrefixEntry)
}

func newID(prefix string) string {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("domain: invalid id prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// ValidateJobID checks that s is a TypeID carrying the job prefix.
func ValidateJobID(s string) error {
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: job id %q: %v", ErrInvalidInput, s, err)
	}
	if tid.Prefix() != PrefixJob {
		return fmt.Errorf("%w: job id %q: expected prefix %q", ErrInvalidInput, s, PrefixJob)
	}
	return nil
}
