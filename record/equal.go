package record

import "github.com/google/go-cmp/cmp"

// DeepEqual is the single structural-equality helper used by the matcher:
// $eq/$ne, $in/$nin membership and array $includes.
func DeepEqual(a, b interface{}) bool {
	return cmp.Equal(a, b)
}
