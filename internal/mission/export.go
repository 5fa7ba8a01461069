package mission

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Export writes records in the shared database format: a pretty-printed JSON
// object keyed by post id. Progress is never exported.
func Export(w io.Writer, records []Record) error {
	out := make(map[string]Record, len(records))
	for _, r := range records {
		out[r.PostID] = r
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}

// ParseExport reads the shared database format. Entries that are not valid
// record objects are counted in rejected; progress keys such as cleared or
// totalLoot are dropped because Record has no place for them.
func ParseExport(r io.Reader) (records []Record, rejected int, err error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("decoding export: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var rec Record
		if err := json.Unmarshal(raw[k], &rec); err != nil {
			rejected++
			continue
		}
		records = append(records, rec)
	}
	return records, rejected, nil
}
