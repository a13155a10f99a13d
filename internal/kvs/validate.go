package kvs

import (
	"fmt"
	"strings"
)

// CloudFront KeyValueStore limits.
const (
	MaxKeyBytes   = 512
	MaxEntryBytes = 1024    // key + value
	MaxTotalBytes = 5242880 // 5 MB
)

// ValidationError describes a single constraint violation.
type ValidationError struct {
	Key     string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// ValidationErrors collects every violation found in one pass.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// DataStats holds summary size information for a Data set.
type DataStats struct {
	NumKeys    int
	TotalBytes int
}

// Stats returns the number of keys and total byte size of the data.
func (d *Data) Stats() DataStats {
	total := 0
	for _, e := range d.Entries {
		total += e.size()
	}
	return DataStats{NumKeys: len(d.Entries), TotalBytes: total}
}

func (e Entry) size() int {
	return len(e.Key) + len(e.Value)
}

// Validate checks the per-entry limits for a single entry.
func (e Entry) Validate() ValidationErrors {
	var errs ValidationErrors
	if n := len(e.Key); n > MaxKeyBytes {
		errs = append(errs, ValidationError{
			Key:     e.Key,
			Message: fmt.Sprintf("key exceeds %d bytes (%d bytes)", MaxKeyBytes, n),
		})
	}
	if n := e.size(); n > MaxEntryBytes {
		errs = append(errs, ValidationError{
			Key:     e.Key,
			Message: fmt.Sprintf("key+value exceeds %d bytes (%d bytes)", MaxEntryBytes, n),
		})
	}
	return errs
}

// Validate checks all KVS constraints. Returns nil if valid.
func (d *Data) Validate() ValidationErrors {
	var errs ValidationErrors
	for _, e := range d.Entries {
		errs = append(errs, e.Validate()...)
	}
	if total := d.Stats().TotalBytes; total > MaxTotalBytes {
		errs = append(errs, ValidationError{
			Key:     "(total)",
			Message: fmt.Sprintf("total data exceeds %d bytes (%d bytes)", MaxTotalBytes, total),
		})
	}
	return errs
}
