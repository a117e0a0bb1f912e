package ingest

import (
	"fmt"
	"io"
	"slices"

	"github.com/tidwall/gjson"
)

// nativeIDKey holds the source's own id in an import file.
const nativeIDKey = "native_id"

// ReadRecords reads a hand-assembled listing file: a JSON array of flat
// objects keyed by raw field name, plus an optional native_id.
func ReadRecords(r io.Reader, source string) (SliceAdapter, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("read records: not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("read records: expected an array of objects")
	}

	var out SliceAdapter
	for i, item := range root.Array() {
		if !item.IsObject() {
			return nil, fmt.Errorf("read records: item %d is not an object", i)
		}
		rec := RawRecord{Source: source, Fields: map[string]string{}}
		var bad error
		item.ForEach(func(key, value gjson.Result) bool {
			k := key.String()
			switch {
			case k == nativeIDKey:
				rec.NativeID = value.String()
			case !slices.Contains(rawFields, k):
				bad = fmt.Errorf("read records: item %d: unknown field %q", i, k)
				return false
			case value.Type != gjson.Null:
				rec.Fields[k] = value.String()
			}
			return true
		})
		if bad != nil {
			return nil, bad
		}
		out = append(out, rec)
	}
	return out, nil
}
