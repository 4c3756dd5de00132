/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringList is a string slice with GORM scanner/valuer support, stored as JSON.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal StringList: %v", value)
	}
	if len(bytes) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Contains reports whether the list contains value, case-insensitively.
// An empty list matches nothing; callers treat empty as "untargeted" upstream.
func (l StringList) Contains(value string) bool {
	for _, item := range l {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
