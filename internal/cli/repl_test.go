package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"
)

type stubExec struct {
	loggedIn bool
	calls    []string
}

func (s *stubExec) record(name string) error {
	s.calls = append(s.calls, name)
	return nil
}

func (s *stubExec) isLoggedIn() bool                         { return s.loggedIn }
func (s *stubExec) Signup(ctx context.Context) error         { return s.record("signup") }
func (s *stubExec) Login(ctx context.Context) error          { return s.record("login") }
func (s *stubExec) LoginPhone(ctx context.Context) error     { return s.record("login-phone") }
func (s *stubExec) LoginGoogle(ctx context.Context) error    { return s.record("login-google") }
func (s *stubExec) LoginApple(ctx context.Context) error     { return s.record("login-apple") }
func (s *stubExec) LoginBiometric(ctx context.Context) error { return s.record("login-biometric") }
func (s *stubExec) EnableBiometric(ctx context.Context) error {
	return s.record("enable-biometric")
}
func (s *stubExec) WhoAmI(ctx context.Context) error        { return s.record("whoami") }
func (s *stubExec) Refresh(ctx context.Context) error       { return s.record("refresh") }
func (s *stubExec) UpdateName(ctx context.Context) error    { return s.record("update-name") }
func (s *stubExec) ResetPassword(ctx context.Context) error { return s.record("reset-password") }
func (s *stubExec) Logout(ctx context.Context) error        { return s.record("logout") }

func runWithInput(t *testing.T, a *stubExec, input string) []string {
	t.Helper()

	var printed []string
	orig := printlnFn
	printlnFn = func(args ...any) (int, error) {
		for _, arg := range args {
			if s, ok := arg.(string); ok {
				printed = append(printed, s)
			}
		}
		return 0, nil
	}
	defer func() { printlnFn = orig }()

	runREPL(context.Background(), a, func() string { return "test" }, bufio.NewScanner(strings.NewReader(input)))
	return printed
}

func TestREPL_DispatchesCommands(t *testing.T) {
	a := &stubExec{}
	runWithInput(t, a, "login\nwhoami\nlogout\nexit\n")

	want := []string{"login", "whoami", "logout"}
	if len(a.calls) != len(want) {
		t.Fatalf("want %v, got %v", want, a.calls)
	}
	for i := range want {
		if a.calls[i] != want[i] {
			t.Fatalf("want %v, got %v", want, a.calls)
		}
	}
}

func TestREPL_UnknownCommand(t *testing.T) {
	a := &stubExec{}
	printed := runWithInput(t, a, "frobnicate\nexit\n")

	if len(a.calls) != 0 {
		t.Fatalf("unexpected calls: %v", a.calls)
	}
	found := false
	for _, line := range printed {
		if strings.Contains(line, "Unknown command") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unknown-command message, got %v", printed)
	}
}

func TestREPL_HelpReflectsLoginState(t *testing.T) {
	printed := runWithInput(t, &stubExec{loggedIn: false}, "help\nexit\n")
	joined := strings.Join(printed, "\n")
	if !strings.Contains(joined, "signup") {
		t.Fatalf("signed-out help missing signup: %v", printed)
	}

	printed = runWithInput(t, &stubExec{loggedIn: true}, "help\nexit\n")
	joined = strings.Join(printed, "\n")
	if !strings.Contains(joined, "logout") {
		t.Fatalf("signed-in help missing logout: %v", printed)
	}
}

func TestREPL_ExitsOnEOF(t *testing.T) {
	a := &stubExec{}
	runWithInput(t, a, "login\n")
	if len(a.calls) != 1 {
		t.Fatalf("unexpected calls: %v", a.calls)
	}
}

func TestREPL_BlankLinesIgnored(t *testing.T) {
	a := &stubExec{}
	runWithInput(t, a, "\n\n  \nlogin\nexit\n")
	if len(a.calls) != 1 || a.calls[0] != "login" {
		t.Fatalf("unexpected calls: %v", a.calls)
	}
}
