// Package record defines LynxDB's record representation and the utility
// functions shared by the matcher and the transactional core: primary-key
// string construction, deep structural equality, and synthetic ID generation.
package record

import "go.mongodb.org/mongo-driver/bson"

// Record is an open key/value document, the dynamic record type every table
// and query operates on.
type Record = bson.M

// Clone makes a shallow copy of r, enough to give callers an independent map
// header while the field values themselves are shared. This is what
// BaseTable's FindByPk and Select hand back.
func Clone(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// DeepClone copies r and recursively copies any nested map/slice values, used
// wherever the engine needs a value that cannot alias the original (the
// candidate and overlay records a transactional update stages).
func DeepClone(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Record:
		return DeepClone(t)
	case map[string]interface{}:
		return DeepClone(Record(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Merge applies patch into r in place, returning r. Zero-length patches are a
// no-op, so callers can skip the iteration entirely by checking len(patch)
// first.
func Merge(r Record, patch Record) Record {
	for k, v := range patch {
		r[k] = v
	}
	return r
}
