package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/IIAteeneaaII/ontester/internal/access"
	"github.com/IIAteeneaaII/ontester/internal/browser"
	"github.com/IIAteeneaaII/ontester/internal/gateway"
	"github.com/IIAteeneaaII/ontester/internal/login"
	"github.com/IIAteeneaaII/ontester/internal/operator"
	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

func onePage(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected exactly one page path")
	}
	return args[0], nil
}

// operatorContext returns the configured operator context, asking the
// device for whatever is missing.
func (a *app) operatorContext(ctx context.Context) (operator.Context, error) {
	oc, err := gateway.ResolveContext(ctx, a.client, a.cfg.Operator)
	if err != nil {
		return oc, fmt.Errorf("resolve operator context: %w", err)
	}
	a.client.SetOperator(oc.Operator)
	return oc, nil
}

func (a *app) table(ctx context.Context, args []string) error {
	page, err := onePage(args)
	if err != nil {
		return err
	}
	catalog, err := access.LoadCatalog(a.cfg.Access.TablesDir)
	if err != nil {
		return err
	}
	oc := a.cfg.Operator
	if oc.Operator == "" {
		if oc, err = a.operatorContext(ctx); err != nil {
			return err
		}
	}
	dir, file := access.SplitPage(page)
	t, err := catalog.Build(oc, dir)
	if err != nil {
		return err
	}
	out := map[string]any{"operator": oc.Operator, "area_code": oc.AreaCode, "dir": dir, "page": file, "entries": t}
	if lvl, ok := t.Lookup(file); ok {
		out["level"] = lvl
		out["level_name"] = lvl.String()
	}
	return a.out.Encode(out)
}

func (a *app) check(ctx context.Context, args []string) error {
	page, err := onePage(args)
	if err != nil {
		return err
	}
	catalog, err := access.LoadCatalog(a.cfg.Access.TablesDir)
	if err != nil {
		return err
	}
	oc, err := a.operatorContext(ctx)
	if err != nil {
		return err
	}
	if a.cfg.Device.Username != "" {
		out, err := a.submit(ctx)
		if err != nil {
			return err
		}
		if out.Result != login.ResultSuccess {
			return fmt.Errorf("login failed: result %d %s", out.Result, out.Message)
		}
	}
	gate := access.NewGate(catalog, access.WithFailurePolicy(a.cfg.Policy()), access.WithLogger(a.logger))
	d, err := gate.Check(ctx, oc, page, a.client)
	if err != nil {
		return err
	}
	return a.out.Encode(map[string]any{"decision": d, "verdict": d.Verdict.String()})
}

func (a *app) submit(ctx context.Context) (login.Outcome, error) {
	opts := []login.Option{login.WithLogger(a.logger)}
	if a.captcha != "" {
		code := a.captcha
		opts = append(opts, login.WithCaptchaSource(func() string { return code }))
	}
	ctl := login.NewController(a.client, opts...)
	out, err := ctl.Submit(ctx, login.Credentials{
		Username: a.cfg.Device.Username,
		Password: a.cfg.Device.Password,
		Captcha:  a.captcha,
	})
	if err != nil {
		var ve *login.ValidationError
		if errors.As(err, &ve) {
			return out, fmt.Errorf("login rejected before sending: %s", ve.Key)
		}
		return out, err
	}
	return out, nil
}

func (a *app) login(ctx context.Context) error {
	if a.browser {
		return a.browserLogin(ctx)
	}
	out, err := a.submit(ctx)
	if err != nil {
		return err
	}
	return a.out.Encode(map[string]any{"outcome": out, "cookies": cookieArgs(a.session.SetCookies())})
}

func (a *app) browserLogin(ctx context.Context) error {
	oc, err := a.operatorContext(ctx)
	if err != nil {
		return err
	}
	u, err := url.Parse(a.cfg.Device.BaseURL)
	if err != nil {
		return err
	}
	lp := operator.LoginPage(oc.Operator)
	u = u.JoinPath("html", lp)
	res, err := browser.Login(ctx, browser.Options{
		LoginURL: u.String(),
		Username: a.cfg.Device.Username,
		Password: a.cfg.Device.Password,
		ExecPath: a.cfg.Browser.ExecPath,
		Headless: a.cfg.Browser.Headless,
		Timeout:  a.cfg.Browser.Timeout,
	})
	if err != nil {
		return err
	}
	return a.out.Encode(map[string]any{"final_url": res.FinalURL, "cookies": cookieArgs(res.Cookies)})
}

func (a *app) poll(ctx context.Context, args []string) error {
	method := "get_heartbeat"
	if len(args) > 0 {
		method = args[0]
	}
	p := xhr.NewPoller(a.client)
	p.Poll(ctx, a.interval, method, nil, func(r xhr.Response, err error) {
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_ = a.out.Encode(map[string]any{"method": method, "error": err.Error()})
			return
		}
		_ = a.out.Encode(map[string]any{"method": method, "response": r})
	})
	<-ctx.Done()
	p.Halt()
	p.Wait()
	return nil
}

// verify loads the tables the way the gateway does and checks that every
// operator recipe resolves. Any unresolved recipe fails the command.
func (a *app) verify(args []string) error {
	dir := a.cfg.Access.TablesDir
	if len(args) > 0 {
		dir = args[0]
	}
	catalog, err := access.LoadCatalog(dir)
	if err != nil {
		return err
	}
	ops := make([]string, 0, len(access.Recipes))
	for op := range access.Recipes {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	var failures []string
	for _, op := range ops {
		if _, err := catalog.Build(operator.Context{Operator: op}, "html"); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", op, err))
		}
	}
	if err := a.out.Encode(map[string]any{"tables": catalog.Names(), "operators": len(ops), "failures": failures}); err != nil {
		return err
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d operator recipes do not resolve", len(failures))
	}
	return nil
}

// cookieArgs formats cookies the way --cookie reads them.
func cookieArgs(cs []*http.Cookie) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Name+"="+c.Value)
	}
	return out
}
