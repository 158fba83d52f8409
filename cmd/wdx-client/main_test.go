package main

import "testing"

func TestNewCLIParserAcceptsExpectedOptions(t *testing.T) {
	parser := newCLIParser()

	result, err := parser.Parse([]string{
		"--log-channel", "stderr",
		"--log-level", "debug",
		"--tracer", "stdout",
		"--trace-route", "r1",
		"--trace-route", "r2",
		"--backend-socket", "/tmp/svc.sock",
		"--worker-count", "2",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := result.Values[optBackend].String; got != "/tmp/svc.sock" {
		t.Errorf("backend socket = %q; want /tmp/svc.sock", got)
	}
	if got := result.Values[optWorkers].Uint; got != 2 {
		t.Errorf("worker count = %d; want 2", got)
	}
	routes := result.Values[optTraceRoute].Strings
	if len(routes) != 2 || routes[0] != "r1" || routes[1] != "r2" {
		t.Errorf("trace routes = %v; want [r1 r2]", routes)
	}
	if got := result.Values[optLogLevel].Custom; got != "debug" {
		t.Errorf("log level = %v; want debug", got)
	}
}

func TestNewCLIParserRejectsUnknownEnumValue(t *testing.T) {
	parser := newCLIParser()
	if _, err := parser.Parse([]string{"--log-level", "not-a-level"}); err == nil {
		t.Error("expected error for an unrecognized --log-level value")
	}
}

func TestNewCLIParserHelpFlag(t *testing.T) {
	parser := newCLIParser()
	result, err := parser.Parse([]string{"--help"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !result.HelpWanted {
		t.Error("expected HelpWanted for --help")
	}
}

func TestRunRejectsWorkerCountOverMax(t *testing.T) {
	code := run([]string{"wdx-client", "--worker-count", "99"})
	if code != exitParseFailure {
		t.Errorf("exit code = %d; want %d", code, exitParseFailure)
	}
}

func TestRunHelpExitsSuccess(t *testing.T) {
	code := run([]string{"wdx-client", "--help"})
	if code != exitSuccess {
		t.Errorf("exit code = %d; want %d", code, exitSuccess)
	}
}
