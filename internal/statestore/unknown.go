package statestore

import (
	"encoding/json"
	"reflect"
	"strings"
)

// fieldNamesOf collects the JSON tag names of v's exported fields, used to
// tell "known" schema fields from the unknown ones that must round-trip on
// read-modify-write (spec §6).
func fieldNamesOf(v any) map[string]bool {
	names := map[string]bool{}
	t := reflect.TypeOf(v)
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			names[name] = true
		}
	}
	return names
}

func extraFields(raw []byte, known map[string]bool) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	extra := map[string]any{}
	for k, v := range m {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// mergeUnknown marshals v to a map, then re-attaches any unknown fields
// already on disk at path before returning the merged map for writing.
func mergeUnknown(path string, v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	existing, ok, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	if ok {
		known := fieldNamesFromValue(v)
		for k, val := range existing {
			if !known[k] {
				merged[k] = val
			}
		}
	}
	return merged, nil
}

func fieldNamesFromValue(v any) map[string]bool {
	switch v.(type) {
	case *Session:
		return sessionKnownFields
	case *Worker:
		return workerKnownFields
	default:
		return map[string]bool{}
	}
}
