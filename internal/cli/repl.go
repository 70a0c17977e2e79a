package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies
// it; tests can provide a stub.
type execIface interface {
	isLoggedIn() bool
	Signup(ctx context.Context) error
	Login(ctx context.Context) error
	LoginPhone(ctx context.Context) error
	LoginGoogle(ctx context.Context) error
	LoginApple(ctx context.Context) error
	LoginBiometric(ctx context.Context) error
	EnableBiometric(ctx context.Context) error
	WhoAmI(ctx context.Context) error
	Refresh(ctx context.Context) error
	UpdateName(ctx context.Context) error
	ResetPassword(ctx context.Context) error
	Logout(ctx context.Context) error
}

// runREPL reads a command per line and dispatches to a. Handler errors are
// printed by the handlers themselves; the loop exits on EOF, "exit" or
// "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("ak> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch cmd := parts[0]; cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: whoami, refresh, update-name, enable-biometric, logout, exit")
			} else {
				printlnFn("Available commands: signup, login, login-phone, login-google, login-apple, login-biometric, reset-password, exit")
			}

		case "signup":
			_ = a.Signup(ctx)

		case "login":
			_ = a.Login(ctx)

		case "login-phone":
			_ = a.LoginPhone(ctx)

		case "login-google":
			_ = a.LoginGoogle(ctx)

		case "login-apple":
			_ = a.LoginApple(ctx)

		case "login-biometric":
			_ = a.LoginBiometric(ctx)

		case "enable-biometric":
			_ = a.EnableBiometric(ctx)

		case "whoami":
			_ = a.WhoAmI(ctx)

		case "refresh":
			_ = a.Refresh(ctx)

		case "update-name":
			_ = a.UpdateName(ctx)

		case "reset-password":
			_ = a.ResetPassword(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
