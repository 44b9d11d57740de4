package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/amirk1998/account-manager/internal/audit"
	"github.com/amirk1998/account-manager/internal/models"
	"github.com/amirk1998/account-manager/pkg/errors"
)

// runCLI runs the interactive command-line interface
func (app *Application) runCLI(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if app.sessionToken == "" {
			app.showAuthMenu()
		} else {
			app.showMainMenu()
		}

		fmt.Print("\nSelect option: ")
		if !scanner.Scan() {
			return
		}

		choice := strings.TrimSpace(scanner.Text())
		fmt.Println()

		var quit bool
		if app.sessionToken == "" {
			quit = app.handleAuthChoice(ctx, choice, scanner)
		} else {
			quit = app.handleMainChoice(ctx, choice, scanner)
		}
		if quit {
			fmt.Println("Goodbye!")
			return
		}
	}
}

func (app *Application) showAuthMenu() {
	fmt.Println("\n--- Account Menu ---")
	fmt.Println("1. Register")
	fmt.Println("2. Login")
	fmt.Println("3. Request Password Reset")
	fmt.Println("4. Reset Password")
	fmt.Println("5. Exit")
}

func (app *Application) showMainMenu() {
	fmt.Printf("\n--- Main Menu (User: %s) ---\n", app.username)
	fmt.Println("1. Verify Session")
	fmt.Println("2. View Audit Logs")
	fmt.Println("3. Logout")
	fmt.Println("4. Exit")
}

func (app *Application) handleAuthChoice(ctx context.Context, choice string, scanner *bufio.Scanner) bool {
	switch choice {
	case "1":
		app.handleRegister(ctx, scanner)
	case "2":
		app.handleLogin(ctx, scanner)
	case "3":
		app.handleRequestReset(ctx, scanner)
	case "4":
		app.handleResetPassword(ctx, scanner)
	case "5":
		return true
	default:
		fmt.Println("Invalid option")
	}
	return false
}

func (app *Application) handleMainChoice(ctx context.Context, choice string, scanner *bufio.Scanner) bool {
	switch choice {
	case "1":
		app.handleVerify(ctx)
	case "2":
		app.handleViewAuditLogs(ctx)
	case "3":
		app.handleLogout(ctx)
	case "4":
		return true
	default:
		fmt.Println("Invalid option")
	}
	return false
}

func (app *Application) handleRegister(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Println("=== Register ===")

	req := &models.CreateUserRequest{
		Username: prompt(scanner, "Username: "),
		Email:    prompt(scanner, "Email: "),
		Password: promptPassword(scanner, "Password: "),
	}

	profile, err := app.accountService.Register(ctx, req)
	if err != nil {
		printError("Registration failed", err)
		return
	}

	fmt.Printf("✓ Account created for %s <%s>\n", profile.Username, profile.Email)
}

func (app *Application) handleLogin(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Println("=== Login ===")

	req := &models.LoginRequest{
		Username: prompt(scanner, "Username: "),
		Password: promptPassword(scanner, "Password: "),
	}

	resp, err := app.accountService.Login(ctx, req)
	if err != nil {
		printError("Login failed", err)
		return
	}

	app.sessionToken = resp.SessionToken
	app.username = resp.Username
	fmt.Printf("✓ Login successful! Welcome, %s\n", resp.Username)
	fmt.Printf("Session token: %s\n", resp.SessionToken)
}

func (app *Application) handleVerify(ctx context.Context) {
	profile, err := app.accountService.VerifyToken(ctx, app.sessionToken)
	if err != nil {
		if printError("Session check failed", err).Code == http.StatusUnauthorized {
			app.clearSession()
		}
		return
	}

	fmt.Printf("✓ Session valid for %s <%s>\n", profile.Username, profile.Email)
}

func (app *Application) handleLogout(ctx context.Context) {
	if err := app.accountService.Logout(ctx, app.sessionToken); err != nil {
		printError("Logout failed", err)
		return
	}

	fmt.Printf("✓ Goodbye, %s!\n", app.username)
	app.clearSession()
}

func (app *Application) handleRequestReset(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Println("=== Request Password Reset ===")

	ack, err := app.accountService.RequestPasswordReset(ctx, prompt(scanner, "Email: "))
	if err != nil {
		printError("Request failed", err)
		return
	}

	fmt.Println(ack)
}

func (app *Application) handleResetPassword(ctx context.Context, scanner *bufio.Scanner) {
	fmt.Println("=== Reset Password ===")

	req := &models.ResetPasswordRequest{
		Token:       prompt(scanner, "Reset token: "),
		NewPassword: promptPassword(scanner, "New password: "),
	}

	if err := app.accountService.ResetPassword(ctx, req); err != nil {
		printError("Password reset failed", err)
		return
	}

	fmt.Println("✓ Password has been reset successfully.")
}

func (app *Application) handleViewAuditLogs(ctx context.Context) {
	profile, err := app.accountService.VerifyToken(ctx, app.sessionToken)
	if err != nil {
		printError("Session check failed", err)
		return
	}

	events, err := app.auditLogger.QueryLogs(ctx, audit.QueryFilters{
		UserID: &profile.ID,
		Limit:  20,
	})
	if err != nil {
		printError("Failed to query logs", err)
		return
	}

	if len(events) == 0 {
		fmt.Println("No audit logs found")
		return
	}

	fmt.Println("=== Recent Audit Logs ===")
	for _, event := range events {
		fmt.Printf("\n[%s] %s - %s\n",
			event.Timestamp.Format("2006-01-02 15:04:05"),
			event.Level,
			event.Action,
		)
		fmt.Printf("Resource: %s | Success: %v\n", event.Resource, event.Success)
		if event.ErrorMsg != "" {
			fmt.Printf("Error: %s\n", event.ErrorMsg)
		}
		fmt.Println("---")
	}
}

func (app *Application) clearSession() {
	app.sessionToken = ""
	app.username = ""
}

func prompt(scanner *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

// promptPassword reads without echo on a terminal and falls back to a plain
// line read when input is piped.
func promptPassword(scanner *bufio.Scanner, label string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Print(label)
		if !scanner.Scan() {
			return ""
		}
		return scanner.Text()
	}

	fmt.Print(label)
	password, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return ""
	}
	return string(password)
}

// printError shows err prefixed by action. Internal failures print as the
// generic ErrInternal.
func printError(action string, err error) *errors.AppError {
	appErr := errors.Wrap(err, action)
	fmt.Println(appErr.Error())
	return appErr
}
