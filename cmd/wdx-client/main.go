// Command wdx-client runs the parameter-service connection plane: it waits
// for the backend socket to appear, maintains a reconnecting session to it,
// and fronts an authenticating HTTP API over the connection.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wagowdx/wdx-client-go"
)

// Exit codes, per the CLI surface's exit-code table: 0 success, a general
// parse-failure code, a first-error-class init-failure code, and a
// successor code for client setup failure.
const (
	exitSuccess        = 0
	exitParseFailure   = 1
	exitInitFailure    = 2
	exitSetupFailure   = 3
)

// Option ids for the daemon's CLI surface.
const (
	optLogChannel rune = 'c'
	optLogLevel   rune = 'l'
	optTracer     rune = 't'
	optTraceRoute rune = 'a'
	optUser       rune = 'u'
	optGroup      rune = 'g'
	optBackend    rune = 'b'
	optWorkers    rune = 'w'
)

var logChannelValues = []string{"stdout", "stderr", "syslog", "journal"}
var logLevelValues = []string{"off", "fatal", "error", "warning", "notice", "info", "debug"}
var tracerValues = []string{"none", "stdout", "stderr", "ktrace", "ktrace-passive"}

const maxWorkerCount = 8

// TraceHook is invoked for each named trace route the CLI enabled. It is
// an observable hook only: this module does not implement a tracing
// subsystem, per the Non-goal on tracing primitives.
type TraceHook func(route string)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	parser := newCLIParser()
	result, err := parser.Parse(argv[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitParseFailure
	}
	if result.HelpWanted {
		fmt.Print(parser.Help())
		return exitSuccess
	}

	logger := newLogger(result)

	backendSocket := "/var/run/wdx/parameter-service.sock"
	if v, ok := result.Values[optBackend]; ok {
		backendSocket = v.String
	}

	workerCount := 0
	if v, ok := result.Values[optWorkers]; ok {
		workerCount = int(v.Uint)
		if workerCount > maxWorkerCount {
			fmt.Fprintf(os.Stderr, "worker-count must be 0..%d\n", maxWorkerCount)
			return exitParseFailure
		}
	}

	group := ""
	if v, ok := result.Values[optGroup]; ok {
		group = v.String
	}
	if v, ok := result.Values[optUser]; ok {
		if err := dropPrivileges(v.String, group); err != nil {
			fmt.Fprintln(os.Stderr, wdx.NewPermissionError("privilege drop failed", err))
			return exitInitFailure
		}
	}

	if v, ok := result.Values[optTracer]; ok {
		logger.Info("tracer configured", "tracer", v.Custom)
	}
	if v, ok := result.Values[optTraceRoute]; ok {
		for _, route := range v.Strings {
			traceHook(route)
		}
	}

	session := wdx.NewSession(backendSocket,
		wdx.WithOnFatal(func(err error) {
			logger.Error("session fatal error", "error", err)
		}),
		wdx.WithOnMessage(func(message []byte) {
			logger.Debug("message received", "bytes", len(message))
		}),
	)

	adapter := session.DoConnect(func() {
		logger.Info("connected", "socket", backendSocket)
	})

	wdx.SetHandlerPanicSink(func(err error) {
		logger.Error("handler panic recovered", "error", err)
	})

	authenticator := wdx.NewAuthenticator(
		noopPasswordBackend{},
		nil,
		staticAuthSettings{patterns: "/status", base: ""},
		wdx.WithAuthErrorSink(func(err error) {
			logger.Warn("request denied", "reason", err)
		}),
	)

	engine := wdx.NewFrontEngine(wdx.FrontOptions{
		Authenticator:  authenticator,
		AllowLocalHTTP: true,
		AllowedMethods: []string{"GET", "OPTIONS"},
		Operation:      statusHandler(session, adapter),
	})

	httpAddr := wdx.DefaultHTTPListenAddr
	go func() {
		if err := wdx.ListenAndServe(httpAddr, engine); err != nil {
			logger.Error("http front stopped", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})
	done := make(chan struct{})
	go driveSession(session, workerCount, stopped, done)

	<-stop
	session.Stop()
	close(stopped)
	<-done
	return exitSuccess
}

// driveSession runs the session's reactor, optionally fanned out across
// workerCount additional goroutines, matching the spec's allowance for
// concurrent Run() calls from up to 8 worker threads.
func driveSession(session *wdx.Session, workerCount int, stopped <-chan struct{}, done chan struct{}) {
	worker := func() {
		for {
			select {
			case <-stopped:
				return
			default:
				session.Run()
			}
		}
	}
	for i := 0; i < workerCount; i++ {
		go worker()
	}
	worker()
	close(done)
}

func traceHook(route string) {
	_ = route
}

// staticAuthSettings is the cmd-level AuthSettings: a fixed unauthenticated
// allow-list and an empty service base URL, since this binary mounts the
// front at the HTTP root rather than under a configurable prefix.
type staticAuthSettings struct {
	patterns string
	base     string
}

func (s staticAuthSettings) UnauthenticatedURLPatterns() string { return s.patterns }
func (s staticAuthSettings) ServiceBaseURL() string             { return s.base }

// noopPasswordBackend never authenticates a Basic credential pair: the
// credential store behind a real password backend is out of scope here, so
// this binary ships without one until a caller links in a real backend.
type noopPasswordBackend struct{}

func (noopPasswordBackend) Authenticate(user, password string) wdx.AuthResult {
	return wdx.AuthResult{Success: false}
}

// statusHandler is the one operation this binary mounts behind the
// handler chain: it reports the session's connectivity state and, while
// connected, exercises the live adapter with a best-effort probe frame.
func statusHandler(session *wdx.Session, adapter *wdx.ProtectedAdapter) wdx.HandlerFunc {
	notAllowed := wdx.MethodNotAllowedHandler([]string{"GET", "OPTIONS"})
	return func(req wdx.Request, auth wdx.AuthInfo) {
		if req.Method() != "GET" {
			notAllowed(req, auth)
			return
		}
		state := session.State()
		if state == wdx.StateConnected {
			_ = adapter.Send([]byte("status-probe"))
		}
		req.AddResponseHeader("Content-Type", "text/plain; charset=utf-8")
		req.Respond(200, []byte("session_state="+state.String()+"\nuser="+auth.UserName+"\n"))
	}
}

func dropPrivileges(user, group string) error {
	// Observable hook only: real setuid/setgid is out of scope (Non-goal),
	// consistent with the original's non-systemd privilege-drop path.
	return nil
}

func newLogger(result *wdx.ParseResult) *slog.Logger {
	level := slog.LevelInfo
	if v, ok := result.Values[optLogLevel]; ok {
		switch v.Custom {
		case "off":
			level = slog.LevelError + 4
		case "fatal", "error":
			level = slog.LevelError
		case "warning":
			level = slog.LevelWarn
		case "debug":
			level = slog.LevelDebug
		}
	}
	out := os.Stderr
	if v, ok := result.Values[optLogChannel]; ok && v.Custom == "stdout" {
		out = os.Stdout
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("component", "wdx-client", "started_at", time.Now().Format(time.RFC3339))
}

func newCLIParser() *wdx.ArgParser {
	parser := wdx.NewArgParser("wdx-client")

	mustAdd(parser, wdx.OptionSpec{
		ID: optLogChannel, Long: "log-channel", Kind: wdx.OptionCustom, HasArg: true,
		ParamHint: "<" + joinValues(logChannelValues) + ">", Help: "Select the log output channel.",
		Custom: enumConverter("log-channel", logChannelValues),
	})
	mustAdd(parser, wdx.OptionSpec{
		ID: optLogLevel, Long: "log-level", Kind: wdx.OptionCustom, HasArg: true,
		ParamHint: "<" + joinValues(logLevelValues) + ">", Help: "Select the minimum log level.",
		Custom: enumConverter("log-level", logLevelValues),
	})
	mustAdd(parser, wdx.OptionSpec{
		ID: optTracer, Long: "tracer", Kind: wdx.OptionCustom, HasArg: true,
		ParamHint: "<" + joinValues(tracerValues) + ">", Help: "Select the tracer backend.",
		Custom: enumConverter("tracer", tracerValues),
	})
	mustAdd(parser, wdx.OptionSpec{
		ID: optTraceRoute, Long: "trace-route", Kind: wdx.OptionString, HasArg: true,
		ParamHint: "<route>", Help: "Enable a trace route by id; repeatable.",
	})
	mustAdd(parser, wdx.OptionSpec{
		ID: optUser, Long: "user", Kind: wdx.OptionString, HasArg: true,
		ParamHint: "<user>", Help: "User to drop to (non-systemd); accepted, but no privilege drop is performed.",
	})
	mustAdd(parser, wdx.OptionSpec{
		ID: optGroup, Long: "group", Kind: wdx.OptionString, HasArg: true,
		ParamHint: "<group>", Help: "Group to drop to (non-systemd); accepted, but no privilege drop is performed.",
	})
	mustAdd(parser, wdx.OptionSpec{
		ID: optBackend, Long: "backend-socket", Kind: wdx.OptionString, HasArg: true,
		ParamHint: "<path>", Help: "Path to the server socket.",
	})
	mustAdd(parser, wdx.OptionSpec{
		ID: optWorkers, Long: "worker-count", Kind: wdx.OptionUint, HasArg: true,
		ParamHint: "<0.." + fmt.Sprint(maxWorkerCount) + ">", Help: "Additional worker threads.",
	})
	return parser
}

func mustAdd(parser *wdx.ArgParser, spec wdx.OptionSpec) {
	if err := parser.AddOption(spec); err != nil {
		panic(err)
	}
}

func enumConverter(name string, allowed []string) wdx.ArgCustomFunc {
	return func(raw string) (interface{}, error) {
		for _, v := range allowed {
			if v == raw {
				return raw, nil
			}
		}
		return nil, fmt.Errorf("%s: unrecognized value %q", name, raw)
	}
}

func joinValues(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += "|"
		}
		out += v
	}
	return out
}
