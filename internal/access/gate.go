package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IIAteeneaaII/ontester/internal/operator"
)

// Verdict is the outcome of a gate check.
type Verdict int

const (
	Allow Verdict = iota
	RedirectLogin
	BadRequest
	Unauthorized
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision describes what the gate decided for one page load.
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Page    string  `json:"page"`
	// Target is where the browser goes next. Relative for login pages,
	// absolute path for the error pseudo routes, empty on Allow.
	Target  string `json:"target,omitempty"`
	Level   Level  `json:"level"`
	Matched bool   `json:"matched"`
	// Checked is set when the session status was queried.
	Checked      bool   `json:"checked"`
	SessionLevel int    `json:"session_level,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// SessionChecker is the device side of the gate.
type SessionChecker interface {
	// CheckSession reports whether the browser session is logged in and
	// its role bits. Unparsable levels are returned as -1.
	CheckSession(ctx context.Context) (loggedIn bool, level int, err error)
	Heartbeat(ctx context.Context) error
}

// FailurePolicy decides the verdict when the session status query itself
// fails.
type FailurePolicy int

const (
	FailOpen FailurePolicy = iota
	FailClosed
)

// ParseFailurePolicy accepts "open" and "closed".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Gate evaluates page requests against the permission tables.
type Gate struct {
	catalog *Catalog
	policy  FailurePolicy
	logger  *slog.Logger
}

type Option func(*Gate)

func WithFailurePolicy(p FailurePolicy) Option {
	return func(g *Gate) { g.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func NewGate(c *Catalog, opts ...Option) *Gate {
	g := &Gate{catalog: c, logger: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Catalog exposes the tables the gate reads.
func (g *Gate) Catalog() *Catalog { return g.catalog }

// Check decides a page load. The returned error is only set when the
// permission data itself is broken; device failures end up in the
// decision according to the failure policy.
func (g *Gate) Check(ctx context.Context, oc operator.Context, urlPath string, sc SessionChecker) (Decision, error) {
	dir, page := SplitPage(urlPath)
	d := Decision{Page: page}
	if page == "" {
		d.Reason = "directory request"
		return d, nil
	}

	table, err := g.catalog.Build(oc, dir)
	if err != nil {
		return d, fmt.Errorf("build table for %s: %w", oc.Operator, err)
	}

	if forcedPasswordChange(oc, page) {
		d.Verdict = Unauthorized
		d.Target = operator.PathUnauthorized
		d.Reason = "password change required"
		return d, nil
	}

	level, ok := table.Lookup(page)
	if !ok {
		d.Verdict = BadRequest
		d.Target = operator.PathBadRequest
		d.Reason = "page not in table"
		return d, nil
	}
	d.Level = level
	d.Matched = true
	if level == Public {
		return d, nil
	}

	loggedIn, session, err := sc.CheckSession(ctx)
	if err != nil {
		g.logger.Warn("session status check failed", "operator", oc.Operator, "page", page, "error", err)
		d.Reason = "status check failed"
		if g.policy == FailClosed {
			d.Verdict = RedirectLogin
			d.Target = operator.LoginPage(oc.Operator)
		}
		return d, nil
	}
	d.Checked = true
	d.SessionLevel = session

	switch {
	case !loggedIn:
		d.Verdict = RedirectLogin
		d.Target = operator.LoginPage(oc.Operator)
		d.Reason = "not logged in"
	case !level.Admits(session):
		d.Verdict = RedirectLogin
		d.Target = operator.LoginPage(oc.Operator)
		d.Reason = "insufficient role"
	default:
		if err := sc.Heartbeat(ctx); err != nil {
			g.logger.Debug("heartbeat failed", "operator", oc.Operator, "error", err)
		}
	}
	return d, nil
}

// forcedPasswordChange locks BZ_INTELBRAS accounts on their first login to
// the password change page.
func forcedPasswordChange(oc operator.Context, page string) bool {
	if oc.Operator != operator.BZ_INTELBRAS {
		return false
	}
	if oc.AreaCode == operator.BZ_VERO || oc.AreaCode == operator.BZ_FIBRASIL {
		return false
	}
	if page == "admin_modifypwd_bz_intelbras.html" {
		return false
	}
	switch oc.Login.Role {
	case operator.RoleAdmin:
		return oc.Login.FirstLoginAdmin
	case operator.RoleUser:
		return oc.Login.FirstLoginUser
	}
	return false
}

// NeedsLoginState reports whether Check reads oc.Login for this context.
func NeedsLoginState(oc operator.Context) bool {
	return oc.Operator == operator.BZ_INTELBRAS &&
		oc.AreaCode != operator.BZ_VERO && oc.AreaCode != operator.BZ_FIBRASIL
}
