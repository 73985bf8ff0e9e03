// Copyright 2026 The Metabase Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestWithFields(t *testing.T) {
	logger := New().WithFields(map[string]any{"context": "contextvalue"})

	fieldvalue, ok := logger.(*StandardLogger).fields["context"]
	if !ok {
		t.Fatal("logger did not contain configured field")
	}
	if fieldvalue.(string) != "contextvalue" {
		t.Fatal("logger did not contain configured field value")
	}
}

func TestWithFieldsOverrides(t *testing.T) {
	logger := New().
		WithFields(map[string]any{"context": "contextvalue"}).
		WithFields(map[string]any{"context": "changedcontextvalue"})

	fieldvalue := logger.(*StandardLogger).fields["context"]
	if fieldvalue.(string) != "changedcontextvalue" {
		t.Fatal("logger did not override field value")
	}
}

func TestCaptureWarningWithErrorLevelSet(t *testing.T) {
	buf := bytes.Buffer{}
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(Error)

	logger.Warn("This is a warning. Next time, I won't compile.")
	logger.Error("Fix your issues. I'm not compiling.")

	if strings.Contains(buf.String(), "warning") {
		t.Error("warning should have been suppressed below the error level")
	}
	if !strings.Contains(buf.String(), "Fix your issues") {
		t.Error("expected error message not found in logs")
	}
}

func TestGetSetLevelRoundTrips(t *testing.T) {
	logger := New()
	for _, lvl := range []Level{Debug, Info, Warn, Error} {
		logger.SetLevel(lvl)
		if got := logger.GetLevel(); got != lvl {
			t.Errorf("SetLevel(%v) then GetLevel() = %v", lvl, got)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"": Info, "debug": Debug, "info": Info, "warn": Warn, "error": Error}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("nonsense"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestPrettyFormatterProducesReadableBlock(t *testing.T) {
	logger := New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetFormatter(GetFormatter("text", ""))

	logger.WithFields(map[string]any{"path": "/a.txt"}).(*StandardLogger).Info("indexed")

	out := buf.String()
	if !strings.Contains(out, "[INFO] indexed") {
		t.Errorf("expected pretty level/message header, got %q", out)
	}
	if !strings.Contains(out, "path") {
		t.Errorf("expected field name in output, got %q", out)
	}
}
