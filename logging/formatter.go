// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// prettyFormatter is a logrus.Formatter that prints a human-readable block
// per entry instead of a single JSON line, for interactive use.
type prettyFormatter struct{}

func isJSON(buf []byte) bool {
	var tmp any
	return json.Unmarshal(buf, &tmp) == nil
}

func spaces(n int) string {
	return strings.Repeat(" ", n)
}

func (p *prettyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b := new(bytes.Buffer)

	level := strings.ToUpper(e.Level.String())
	fmt.Fprintf(b, "[%s] %s\n", level, e.Message)

	const fieldIndent = 2
	const multiLineIndent = 6
	for _, k := range sortedKeys(e.Data) {
		v := e.Data[k]
		stringVal, ok := v.(string)
		switch {
		case ok && strings.Contains(stringVal, "\n"):
			sb := strings.Builder{}
			for i, line := range strings.Split(stringVal, "\n") {
				if i != 0 {
					sb.WriteString(spaces(multiLineIndent))
				}
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
			stringVal = sb.String()
		case ok && isJSON([]byte(stringVal)):
			var tmp bytes.Buffer
			if err := json.Indent(&tmp, []byte(stringVal), spaces(multiLineIndent), spaces(2)); err != nil {
				return nil, err
			}
			stringVal = tmp.String()
		default:
			jsonVal, err := json.MarshalIndent(v, spaces(multiLineIndent), spaces(2))
			if err != nil {
				return nil, err
			}
			stringVal = string(jsonVal)
		}

		b.WriteString(spaces(fieldIndent))
		b.WriteString(k)
		if strings.Contains(stringVal, "\n") {
			b.WriteString(" = |\n")
			b.WriteString(spaces(multiLineIndent))
		} else {
			b.WriteString(" = ")
		}
		b.WriteString(stringVal)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func sortedKeys(m logrus.Fields) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
