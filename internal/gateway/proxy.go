package gateway

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httputil"
	"path"
	"strconv"
	"strings"

	"github.com/IIAteeneaaII/ontester/internal/loginpage"
	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

const maxPageSize = 2 << 20

// loginDocs are the documents that carry the login form.
var loginDocs = map[string]bool{
	"":                 true,
	"index.html":       true,
	"login_inter.html": true,
	"login_pldt.html":  true,
}

func isLoginDoc(p string) bool {
	if strings.HasSuffix(p, "/") {
		return true
	}
	return loginDocs[path.Base(p)]
}

func (s *Server) newProxy() *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(s.upstream)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = s.upstream.Host
		if isLoginDoc(req.URL.Path) {
			// the rewrite needs a plain body
			req.Header.Del("Accept-Encoding")
		}
	}
	proxy.ModifyResponse = s.brandLoginPage
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Error("proxy error", "method", r.Method, "path", r.URL.Path, "upstream", s.upstream.Host, "error", err)
		http.Error(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
	}
	return proxy
}

// brandLoginPage applies the operator branding to the login form before it
// reaches the browser. Any failure leaves the page as the device sent it.
func (s *Server) brandLoginPage(resp *http.Response) error {
	req := resp.Request
	if req == nil || req.Method != http.MethodGet || resp.StatusCode != http.StatusOK || !isLoginDoc(req.URL.Path) {
		return nil
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") || resp.Header.Get("Content-Encoding") != "" {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize+1))
	if err != nil {
		_ = resp.Body.Close()
		return err
	}
	if len(body) > maxPageSize {
		s.logger.Warn("login page too large to brand", "path", req.URL.Path, "limit", maxPageSize)
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return nil
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	sess := xhr.NewSession(req.Cookies())
	ctx := xhr.WithSession(req.Context(), sess)
	ctl := s.newController(s.captchas.issuer(func(c *http.Cookie) { resp.Header.Add("Set-Cookie", c.String()) }))
	b, err := ctl.LoadBranding(ctx)
	if err != nil {
		s.logger.Warn("login branding unavailable", "path", req.URL.Path, "error", err)
		return nil
	}
	out, missed, err := loginpage.Rewrite(bytes.NewReader(body), b.Ops)
	if err != nil {
		s.logger.Warn("login page rewrite failed", "path", req.URL.Path, "error", err)
		return nil
	}
	if len(missed) > 0 {
		s.logger.Debug("branding selectors not on page", "operator", b.Operator, "selectors", loginpage.Missed(missed))
	}
	for _, c := range sess.SetCookies() {
		resp.Header.Add("Set-Cookie", c.String())
	}
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	return nil
}
