// Package unit holds persistence unit configuration values that the
// execution boundary reads: when pending changes are flushed and how
// transactions are managed.
package unit

import (
	"fmt"
	"strings"
)

// FlushMode controls when pending changes are flushed to the database
type FlushMode int

const (
	// FlushAuto flushes before query execution
	FlushAuto FlushMode = iota
	// FlushCommit flushes only at transaction commit
	FlushCommit
)

// DefaultFlushMode is used when none is configured
const DefaultFlushMode = FlushAuto

// String returns the configuration spelling of the flush mode
func (m FlushMode) String() string {
	switch m {
	case FlushAuto:
		return "AUTO"
	case FlushCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// ParseFlushMode converts a configuration value to a FlushMode.
// An empty value yields the default.
func ParseFlushMode(s string) (FlushMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return DefaultFlushMode, nil
	case "AUTO":
		return FlushAuto, nil
	case "COMMIT":
		return FlushCommit, nil
	default:
		return 0, fmt.Errorf("unknown flush mode: %s", s)
	}
}

// TransactionType controls who manages transactions
type TransactionType int

const (
	// ResourceLocal transactions are begun and committed by the persistence layer
	ResourceLocal TransactionType = iota
	// JTA transactions are managed by the caller and joined from the context
	JTA
)

// DefaultTransactionType is used when none is configured
const DefaultTransactionType = ResourceLocal

// String returns the configuration spelling of the transaction type
func (t TransactionType) String() string {
	switch t {
	case ResourceLocal:
		return "RESOURCE_LOCAL"
	case JTA:
		return "JTA"
	default:
		return "UNKNOWN"
	}
}

// ParseTransactionType converts a configuration value to a TransactionType.
// An empty value yields the default.
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return DefaultTransactionType, nil
	case "RESOURCE_LOCAL", "RESOURCE-LOCAL":
		return ResourceLocal, nil
	case "JTA":
		return JTA, nil
	default:
		return 0, fmt.Errorf("unknown transaction type: %s", s)
	}
}
