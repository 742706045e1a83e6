// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package data

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Form is a flat view of request fields. PHP-style list keys ("etags[]",
// "etags[0]") are folded into one key holding the values in index order.
type Form struct {
	values url.Values
}

func NewForm() *Form {
	return &Form{values: url.Values{}}
}

// FormFromValues folds v into a Form.
func FormFromValues(v url.Values) *Form {
	f := NewForm()
	indexed := map[string]map[int]string{}
	for key, vals := range v {
		name, idx, isList := splitListKey(key)
		switch {
		case !isList:
			f.values[name] = append(f.values[name], vals...)
		case idx < 0:
			f.values[name] = append(f.values[name], vals...)
		default:
			if indexed[name] == nil {
				indexed[name] = map[int]string{}
			}
			indexed[name][idx] = vals[len(vals)-1]
		}
	}
	for name, m := range indexed {
		idxs := make([]int, 0, len(m))
		for i := range m {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		for _, i := range idxs {
			f.values[name] = append(f.values[name], m[i])
		}
	}
	return f
}

// FormFromJSON accepts a JSON object of scalars and scalar arrays.
func FormFromJSON(body []byte) (*Form, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	f := NewForm()
	for key, v := range raw {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				f.values[key] = append(f.values[key], scalar(item))
			}
		case map[string]any:
			return nil, fmt.Errorf("field %q: nested objects are not supported", key)
		default:
			f.values.Set(key, scalar(t))
		}
	}
	return f, nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func splitListKey(key string) (name string, idx int, isList bool) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return key, -1, false
	}
	name, inner := key[:open], key[open+1:len(key)-1]
	if inner == "" {
		return name, -1, true
	}
	n, err := strconv.Atoi(inner)
	if err != nil || n < 0 {
		return key, -1, false
	}
	return name, n, true
}

// String returns the first value of the first key present, trimmed.
func (f *Form) String(keys ...string) string {
	for _, k := range keys {
		if vals, ok := f.values[k]; ok && len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
	}
	return ""
}

func (f *Form) Strings(key string) []string {
	return f.values[key]
}

func (f *Form) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// Int64 parses key; missing or empty is zero.
func (f *Form) Int64(key string) (int64, error) {
	s := f.String(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Front ends sometimes send sizes as floats.
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("field %s: %q is not a number", key, s)
		}
		n = int64(fl)
	}
	return n, nil
}

func (f *Form) Int(key string) (int, error) {
	n, err := f.Int64(key)
	return int(n), err
}

// OptionalInt is nil when key is missing or empty.
func (f *Form) OptionalInt(key string) (*int, error) {
	if f.String(key) == "" {
		return nil, nil
	}
	n, err := f.Int(key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Bool treats "1", "true", "on" and "yes" as true.
func (f *Form) Bool(key string) bool {
	switch strings.ToLower(f.String(key)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

// Fill copies fields of v that f does not already have.
func (f *Form) Fill(v url.Values) {
	for k, vals := range FormFromValues(v).values {
		if _, ok := f.values[k]; !ok {
			f.values[k] = vals
		}
	}
}
