package extract

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/EfeObus/NextProperty-sub002/internal/records"
)

// jsonExtractor decodes a JSON array of objects. The whole array is decoded
// before slicing at the resume offset; JSON sources in this system are
// hand-curated and small compared to the delimited exports.
type jsonExtractor struct {
	path string
	opt  Options
}

func newJSONExtractor(path string, opt Options) *jsonExtractor {
	return &jsonExtractor{path: path, opt: opt}
}

// decode reads and decodes the source. Supported shapes mirror what export
// tools actually produce: a root array of objects, or an envelope object
// holding the records in an array-of-objects field (the first such field in
// sorted key order when there are several).
func (e *jsonExtractor) decode() ([]records.Record, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return nil, &SourceFormatError{Path: e.path, Reason: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	var root any
	if err := json.NewDecoder(bufio.NewReaderSize(f, 1<<16)).Decode(&root); err != nil {
		return nil, &SourceFormatError{Path: e.path, Reason: fmt.Sprintf("decode: %v", err)}
	}

	switch v := root.(type) {
	case []any:
		return objectSlice(v)
	case map[string]any:
		// Map iteration order is random; walk candidate fields in sorted key
		// order so an envelope with several arrays always yields the same one.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			arr, ok := v[k].([]any)
			if !ok || len(arr) == 0 {
				continue
			}
			if recs, err := objectSlice(arr); err == nil {
				return recs, nil
			}
		}
		return nil, &SourceFormatError{Path: e.path, Reason: "object envelope contains no array of records"}
	default:
		return nil, &SourceFormatError{Path: e.path, Reason: fmt.Sprintf("unsupported root type %T (want array)", v)}
	}
}

func objectSlice(arr []any) ([]records.Record, error) {
	out := make([]records.Record, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, not an object", i, elem)
		}
		out = append(out, records.Record(obj))
	}
	return out, nil
}

func (e *jsonExtractor) Stream(ctx context.Context, out chan<- Batch, onErr func(int, error)) error {
	recs, err := e.decode()
	if err != nil {
		return err
	}
	if e.opt.ResumeFrom >= len(recs) {
		return nil
	}
	recs = recs[e.opt.ResumeFrom:]

	size := e.opt.batchSize()
	for i := 0; i < len(recs); i += size {
		end := i + size
		if end > len(recs) {
			end = len(recs)
		}
		b := Batch{
			Index:   i / size,
			Offset:  e.opt.ResumeFrom + i,
			Records: recs[i:end],
		}
		if err := emit(ctx, out, b); err != nil {
			return err
		}
	}
	return nil
}

// Count reports the decoded list length.
func (e *jsonExtractor) Count(ctx context.Context) (int64, error) {
	recs, err := e.decode()
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}
