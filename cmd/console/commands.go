package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jrsteele09/billing-console/authapi"
	apperrors "github.com/jrsteele09/billing-console/internal/errors"
	"github.com/jrsteele09/billing-console/session"
)

const shellHelp = `commands: status, login <email> <password>, register <tenant> <slug> <email> <password> [name],
logout, logout-all, sessions, terminate <id>, refresh, tenant <id>, token,
open, use <n>, list, help, quit`

// exec runs one command against inst.
func (a *app) exec(ctx context.Context, inst *instance, args []string, out io.Writer) error {
	c := inst.controller
	switch args[0] {
	case "status":
		printState(out, inst.id, c.State(), c.HasAccessToken())
		if err := inst.creds.Check(ctx); err != nil {
			fmt.Fprintf(out, "warning: %v; sign-in will not survive a restart\n", err)
		}
		return nil

	case "login":
		email, password := a.opts.email, a.opts.password
		if len(args) >= 3 {
			email, password = args[1], args[2]
		}
		if email == "" || password == "" {
			return fmt.Errorf("login needs an email and a password")
		}
		if err := c.Login(ctx, email, password); err != nil {
			return err
		}
		printState(out, inst.id, c.State(), c.HasAccessToken())
		return nil

	case "register":
		req := authapi.RegisterRequest{
			TenantName:    a.opts.tenantName,
			TenantSlug:    a.opts.tenantSlug,
			AdminEmail:    a.opts.email,
			AdminPassword: a.opts.password,
			AdminName:     a.opts.adminName,
		}
		if len(args) >= 5 {
			req.TenantName, req.TenantSlug, req.AdminEmail, req.AdminPassword = args[1], args[2], args[3], args[4]
			if len(args) >= 6 {
				req.AdminName = strings.Join(args[5:], " ")
			}
		}
		if err := c.Register(ctx, req); err != nil {
			return err
		}
		if req.AdminName != "" {
			// The API never returns the display name; keep the one we sent.
			s := c.State()
			u := *s.User
			u.Name = req.AdminName
			c.SetUser(u)
		}
		printState(out, inst.id, c.State(), c.HasAccessToken())
		return nil

	case "logout":
		c.Logout(ctx)
		fmt.Fprintln(out, "signed out")
		return nil

	case "logout-all":
		err := c.LogoutAll(ctx)
		fmt.Fprintln(out, "signed out")
		if apperrors.Is(err, apperrors.ErrRemoteLogoutFailed) {
			fmt.Fprintln(out, "warning: other devices may still be signed in")
		}
		return err

	case "sessions":
		list, err := c.ListSessions(ctx)
		if err != nil {
			return err
		}
		current, _ := inst.creds.SessionID(ctx)
		printSessions(out, list, current)
		return nil

	case "terminate":
		if len(args) < 2 {
			return fmt.Errorf("terminate needs a session id")
		}
		if err := c.TerminateSession(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "session %s ended\n", args[1])
		return nil

	case "refresh":
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "credentials refreshed")
		return nil

	case "tenant":
		if len(args) < 2 {
			return fmt.Errorf("tenant needs an id")
		}
		c.SetTenantID(ctx, args[1])
		printState(out, inst.id, c.State(), c.HasAccessToken())
		return nil

	case "token":
		tok, err := c.TokenSource().Token()
		if err != nil {
			return err
		}
		expiry := "never"
		if !tok.Expiry.IsZero() {
			expiry = tok.Expiry.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s token valid until %s\n", tok.TokenType, expiry)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// shell reads commands from in until EOF or quit. Errors are printed and
// the loop continues.
func (a *app) shell(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, shellHelp)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "[%d] > ", a.current().id)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}

		var err error
		switch args[0] {
		case "quit", "exit":
			return nil
		case "help":
			fmt.Fprintln(out, shellHelp)
		case "open":
			var inst *instance
			if inst, err = a.open(ctx); err == nil {
				printState(out, inst.id, inst.controller.State(), inst.controller.HasAccessToken())
			}
		case "use":
			if len(args) < 2 {
				err = fmt.Errorf("use needs an instance number")
				break
			}
			var n int
			if n, err = strconv.Atoi(args[1]); err == nil {
				err = a.use(n)
			}
		case "list":
			for _, inst := range a.instances {
				printState(out, inst.id, inst.controller.State(), inst.controller.HasAccessToken())
			}
		default:
			err = a.exec(ctx, a.current(), args, out)
		}
		if err != nil {
			fmt.Fprintf(out, "error: %s\n", describeError(err))
		}
	}
}

func printState(out io.Writer, id int, s session.State, hasAccessToken bool) {
	fmt.Fprintf(out, "instance %d: %s", id, s.Phase)
	if s.User != nil {
		fmt.Fprintf(out, " as %s (%s)", s.User.Email, s.User.Role)
		if s.User.Name != "" {
			fmt.Fprintf(out, " %q", s.User.Name)
		}
	}
	if s.TenantID != "" {
		fmt.Fprintf(out, " tenant=%s", s.TenantID)
	}
	fmt.Fprintf(out, " access-token=%t\n", hasAccessToken)
}

func printSessions(out io.Writer, list []authapi.SessionInfo, current string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEVICE\tIP\tLAST ACTIVE\tEXPIRES\t")
	for _, s := range list {
		id := s.ID
		if id == current {
			id += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", id, s.DeviceInfo, s.IPAddress,
			s.LastActiveAt.Format(time.RFC3339), s.ExpiresAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

// describeError renders Auth API rejections by status and code; other
// errors print as they are.
func describeError(err error) string {
	var apiErr *authapi.Error
	if !apperrors.As(err, &apiErr) {
		return err.Error()
	}
	desc := fmt.Sprintf("auth api rejected the request (%d %s)", apiErr.StatusCode, apiErr.Code)
	if apiErr.Message != "" {
		desc += ": " + apiErr.Message
	}
	return desc
}
