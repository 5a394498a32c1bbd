package mysqllog

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func withCapturedOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Writer()
	origFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(orig)
		log.SetFlags(origFlags)
	}()
	fn()
	return buf.String()
}

func TestStdGatesByLevel(t *testing.T) {
	s := NewStd(LevelError)

	out := withCapturedOutput(t, func() {
		s.Debugf("debug %d", 1)
		s.Infof("info %d", 2)
		s.Errorf("error %d", 3)
	})

	if strings.Contains(out, "debug") || strings.Contains(out, "info") {
		t.Fatalf("expected Debugf/Infof to be suppressed at LevelError, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] error 3") {
		t.Fatalf("expected the error line to be logged, got %q", out)
	}
}

func TestStdLevelDebugLogsEverything(t *testing.T) {
	s := NewStd(LevelDebug)

	out := withCapturedOutput(t, func() {
		s.Debugf("debug %d", 1)
		s.Infof("info %d", 2)
		s.Errorf("error %d", 3)
	})

	for _, want := range []string{"[DEBUG] debug 1", "[INFO] info 2", "[ERROR] error 3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestStdLevelOffLogsNothing(t *testing.T) {
	s := NewStd(LevelOff)

	out := withCapturedOutput(t, func() {
		s.Debugf("debug")
		s.Infof("info")
		s.Errorf("error")
	})

	if out != "" {
		t.Fatalf("expected no output at LevelOff, got %q", out)
	}
}

func TestNoopDiscardsEverything(t *testing.T) {
	var l Logger = Noop{}
	l.Debugf("x")
	l.Infof("x")
	l.Errorf("x")
}
