package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/IIAteeneaaII/ontester/internal/access"
	"github.com/IIAteeneaaII/ontester/internal/audit"
	"github.com/IIAteeneaaII/ontester/internal/operator"
	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

const loginHTML = `<html><body><table id="login_table"><tr><td id="login_title">router</td></tr>
<tr id="tr_verifi" style="display:none"><td id="verifiCode"></td></tr></table></body></html>`

type fakeDevice struct {
	mu        sync.Mutex
	operator  string
	area      string
	loggedIn  bool
	level     string
	loginUser string
	webConfig map[string]string
	calls     []string
	forms     map[string]url.Values
	// padding appended to login pages
	pad       int
}

func (f *fakeDevice) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.URL.Path == "/cgi-bin/is_logined.cgi":
		f.calls = append(f.calls, "is_logined")
		result := 0
		if f.loggedIn {
			result = 1
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "user": f.level})
		return
	case r.URL.Path == "/cgi-bin/ajax":
	case strings.HasSuffix(r.URL.Path, ".html") || r.URL.Path == "/":
		f.calls = append(f.calls, "page "+r.URL.Path)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if isLoginDoc(r.URL.Path) {
			_, _ = io.WriteString(w, loginHTML)
			if f.pad > 0 {
				_, _ = io.WriteString(w, "<!--"+strings.Repeat("x", f.pad)+"-->")
			}
			return
		}
		_, _ = io.WriteString(w, "<html><body>"+r.URL.Path+"</body></html>")
		return
	default:
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = io.WriteString(w, "// asset")
		return
	}

	method := r.URL.Query().Get("ajaxmethod")
	if r.Method == http.MethodPost {
		_ = r.ParseForm()
		method = r.PostForm.Get("ajaxmethod")
		if f.forms == nil {
			f.forms = map[string]url.Values{}
		}
		f.forms[method] = r.PostForm
	}
	f.calls = append(f.calls, method)
	var body any
	switch method {
	case "get_operator":
		body = map[string]any{"operator_name": f.operator, "SerialNumber": "FHTT12345678", "area_code": f.area}
	case "get_device_name":
		body = map[string]any{"ModelName": "HG6145F"}
	case "get_refresh_sessionid":
		body = map[string]any{"sessionid": "tok"}
	case "do_login":
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "device-session", Path: "/"})
		body = map[string]any{"login_result": 0}
	case "get_login_user":
		body = map[string]any{"login_user": f.loginUser}
	case "get_web_config":
		body = f.webConfig
	case "set_lang_info":
		body = map[string]any{"success": "true"}
	default:
		body = map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

type memAudit struct {
	mu   sync.Mutex
	recs []audit.Record
}

func (m *memAudit) Record(_ context.Context, r *audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *r)
	return nil
}

func (m *memAudit) List(_ context.Context, kind audit.Kind, _ time.Time, _ int) ([]audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Record
	for _, r := range m.recs {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

type harness struct {
	dev   *fakeDevice
	gw    *httptest.Server
	srv   *Server
	audit *memAudit
}

func newHarness(t *testing.T, dev *fakeDevice, oc operator.Context) *harness {
	t.Helper()
	cpe := httptest.NewServer(dev)
	t.Cleanup(cpe.Close)

	var srv *Server
	client, err := xhr.New(cpe.URL,
		xhr.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		xhr.OnSessionExpired(func(se *xhr.SessionExpiredError) { srv.SessionExpired(se) }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if oc.Operator == "" {
		oc.Operator = dev.operator
		oc.AreaCode = dev.area
	}
	mem := &memAudit{}
	srv, err = NewServer(Deps{
		Client:  client,
		Gate:    access.NewGate(access.MustLoadCatalog()),
		Context: oc,
		Audit:   mem,
	})
	if err != nil {
		t.Fatal(err)
	}
	gw := httptest.NewServer(srv.Handler(nil, nil))
	t.Cleanup(gw.Close)
	return &harness{dev: dev, gw: gw, srv: srv, audit: mem}
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func defaultContext() operator.Context {
	return operator.Context{Caps: operator.Capabilities{VoicePorts: 1, WiFi: true, WiFi5G: true, USBPorts: 1}}
}

func TestGateRedirectsAnonymousToOperatorLogin(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	resp, err := noRedirect().Get(h.gw.URL + "/html/reboot.html")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/html/login_inter.html" {
		t.Fatalf("status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if h.dev.called("page /html/reboot.html") != 0 {
		t.Fatal("denied page reached the device")
	}
	recs, _ := h.audit.List(context.Background(), audit.KindGate, time.Time{}, 10)
	if len(recs) != 1 || recs[0].Outcome != "redirect_login" || recs[0].Page != "reboot.html" {
		t.Fatalf("audit %+v", recs)
	}
}

func TestGateAllowsLoggedInRole(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM, loggedIn: true, level: "1"}, defaultContext())
	resp, err := noRedirect().Get(h.gw.URL + "/html/reboot.html")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "/html/reboot.html") {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	if h.dev.called("get_heartbeat") != 1 {
		t.Fatal("heartbeat not sent after an allowed page")
	}
}

func TestGatePublicPageMakesNoStatusCall(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	resp, err := noRedirect().Get(h.gw.URL + "/html/login_inter.html")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if h.dev.called("is_logined") != 0 {
		t.Fatal("public page queried the session")
	}
}

func TestGateUnknownPage(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	resp, err := noRedirect().Get(h.gw.URL + "/html/not_a_page.html")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != operator.PathBadRequest {
		t.Fatalf("status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	resp, err = http.Get(h.gw.URL + operator.PathBadRequest)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("pseudo route status %d", resp.StatusCode)
	}
}

func TestGateForcedPasswordChange(t *testing.T) {
	dev := &fakeDevice{
		operator:  operator.BZ_INTELBRAS,
		loggedIn:  true,
		level:     "2",
		loginUser: "1",
		webConfig: map[string]string{"FirstTimeLoginAdmin": "1"},
	}
	h := newHarness(t, dev, defaultContext())
	resp, err := noRedirect().Get(h.gw.URL + "/html/main_bz_intelbras.html")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Location") != operator.PathUnauthorized {
		t.Fatalf("location %q", resp.Header.Get("Location"))
	}
}

func TestGateCanonicalizesPagePaths(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	tests := []struct {
		path, want string
	}{
		{"/html//reboot.html", "/html/reboot.html"},
		{"/html/./reboot.html", "/html/reboot.html"},
		{"/html/reboot.html/.", "/html/reboot.html"},
		{"/html/reboot.html/", "/html/reboot.html"},
		{"/html/x/../reboot.html?a=1", "/html/reboot.html?a=1"},
	}
	for _, tt := range tests {
		resp, err := noRedirect().Get(h.gw.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMovedPermanently || resp.Header.Get("Location") != tt.want {
			t.Errorf("%s: status %d location %q", tt.path, resp.StatusCode, resp.Header.Get("Location"))
		}
	}
	if n := h.dev.called("page /html/reboot.html"); n != 0 {
		t.Fatalf("device served the page %d times without a check", n)
	}

	resp, err := noRedirect().Get(h.gw.URL + "/html/reboot.html")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Location") != "/html/login_inter.html" {
		t.Fatalf("canonical page location %q", resp.Header.Get("Location"))
	}
}

func TestGateDecoratedPageName(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	resp, err := noRedirect().Get(h.gw.URL + "/html/reboot.html;x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != operator.PathBadRequest {
		t.Fatalf("status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if h.dev.called("is_logined") != 0 {
		t.Fatal("decorated name reached the session check")
	}
}

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                       "/",
		"/":                      "/",
		"/html/":                 "/html/",
		"/html//":                "/html/",
		"/html/reboot.html":      "/html/reboot.html",
		"/html/reboot.html/.":    "/html/reboot.html",
		"/html/../../index.html": "/index.html",
		"html/a.html":            "/html/a.html",
	}
	for in, want := range tests {
		if got := canonicalPath(in); got != want {
			t.Errorf("%q: got %q want %q", in, got, want)
		}
	}
}

func TestAssetsBypassGate(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	resp, err := noRedirect().Get(h.gw.URL + "/js/util.js")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || h.dev.called("is_logined") != 0 {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestLoginPageIsBranded(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.TH_TRUE}, defaultContext())
	resp, err := http.Get(h.gw.URL + "/index.html")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	page := string(body)
	if !strings.Contains(page, `<td id="login_title">HG6145F</td>`) {
		t.Fatalf("title not branded: %s", page)
	}
	if !strings.Contains(page, `<tr id="tr_verifi">`) {
		t.Fatalf("captcha row not shown: %s", page)
	}
	found := false
	for _, c := range resp.Cookies() {
		if c.Name == captchaCookie {
			found = true
		}
	}
	if !found {
		t.Fatal("captcha cookie missing")
	}
}

func TestOversizedLoginPagePassesThrough(t *testing.T) {
	dev := &fakeDevice{operator: operator.TH_TRUE, pad: maxPageSize}
	h := newHarness(t, dev, defaultContext())
	resp, err := http.Get(h.gw.URL + "/index.html")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	want := len(loginHTML) + len("<!---->") + maxPageSize
	if resp.StatusCode != http.StatusOK || len(body) != want {
		t.Fatalf("status %d, got %d bytes want %d", resp.StatusCode, len(body), want)
	}
	if !strings.HasPrefix(string(body), loginHTML) || !strings.HasSuffix(string(body), "-->") {
		t.Fatal("oversized page altered")
	}
	for _, c := range resp.Cookies() {
		if c.Name == captchaCookie {
			t.Fatal("captcha issued for an unbranded page")
		}
	}
}

func postJSON(t *testing.T, c *http.Client, u string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := c.Post(u, "application/json", strings.NewReader(string(b)))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestLoginAPI(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM, loginUser: "2"}, defaultContext())
	resp := postJSON(t, http.DefaultClient, h.gw.URL+"/api/login", map[string]string{"username": "admin", "password": "admin"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	var out struct {
		Result   int    `json:"result"`
		Redirect string `json:"redirect"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Result != 0 || out.Redirect != "main_inter.html" {
		t.Fatalf("outcome %+v", out)
	}
	relayed := false
	for _, c := range resp.Cookies() {
		if c.Name == "sid" && c.Value == "device-session" {
			relayed = true
		}
	}
	if !relayed {
		t.Fatal("device session cookie not relayed")
	}
	h.dev.mu.Lock()
	form := h.dev.forms["do_login"]
	h.dev.mu.Unlock()
	if form.Get("loginpd") != "b27d5efa35dd844614b57d7609ba954f" || form.Get("sessionid") != "tok" {
		t.Fatalf("login form %v", form)
	}
	recs, _ := h.audit.List(context.Background(), audit.KindLogin, time.Time{}, 10)
	if len(recs) != 1 || recs[0].Outcome != "0" {
		t.Fatalf("audit %+v", recs)
	}
}

func TestLoginAPIValidation(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	resp := postJSON(t, http.DefaultClient, h.gw.URL+"/api/login", map[string]string{"username": "admin"})
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusBadRequest || body["key"] != "no_password_alert" {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if h.dev.called("do_login") != 0 {
		t.Fatal("invalid form reached the device")
	}
}

type brandingOps struct {
	Captcha bool `json:"captcha"`
	Ops     []struct {
		Kind     string `json:"kind"`
		Selector string `json:"selector"`
		Value    string `json:"value"`
	} `json:"ops"`
}

func fetchCaptcha(t *testing.T, c *http.Client, base string) string {
	t.Helper()
	resp, err := c.Get(base + "/api/branding")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var b brandingOps
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	for _, op := range b.Ops {
		if op.Kind == "text" && op.Selector == "#verifiCode" {
			if !b.Captcha || op.Value == "" {
				break
			}
			return op.Value
		}
	}
	t.Fatalf("no captcha in branding %+v", b)
	return ""
}

func TestLoginAPICaptchaRoundTrip(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.TH_TRUE, loginUser: "2"}, defaultContext())
	c := &http.Client{Jar: newJar(t)}
	creds := func(code string) map[string]string {
		return map[string]string{"username": "admin", "password": "x", "captcha": code}
	}

	code := fetchCaptcha(t, c, h.gw.URL)
	resp := postJSON(t, c, h.gw.URL+"/api/login", creds("wrong"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong captcha accepted: %d", resp.StatusCode)
	}
	resp = postJSON(t, c, h.gw.URL+"/api/login", creds(code))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("code survived a failed attempt: %d", resp.StatusCode)
	}

	code = fetchCaptcha(t, c, h.gw.URL)
	resp = postJSON(t, c, h.gw.URL+"/api/login", creds(code))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || h.dev.called("do_login") != 1 {
		t.Fatalf("captcha login status %d", resp.StatusCode)
	}

	resp = postJSON(t, c, h.gw.URL+"/api/login", creds(code))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || h.dev.called("do_login") != 1 {
		t.Fatalf("solved code replayed: status %d", resp.StatusCode)
	}
}

func TestLangAPI(t *testing.T) {
	oc := defaultContext()
	oc.Model = "HG6145D2"
	h := newHarness(t, &fakeDevice{operator: operator.MEX_TELMEX}, oc)

	resp := postJSON(t, http.DefaultClient, h.gw.URL+"/api/lang", map[string]string{"lang": "en"})
	var out langResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !out.Reload || out.TermsURL != "./terms_HG6145D2_en.html" {
		t.Fatalf("status %d %+v", resp.StatusCode, out)
	}

	resp = postJSON(t, http.DefaultClient, h.gw.URL+"/api/lang", map[string]string{"lang": "klingon"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown language status %d", resp.StatusCode)
	}
}

func TestAccessTableAPI(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	resp, err := http.Get(h.gw.URL + "/api/access/table?page=/html/reboot.html")
	if err != nil {
		t.Fatal(err)
	}
	var out tableResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if out.Operator != operator.BZ_TIM || out.Dir != "html" || out.Level == nil || *out.Level != 3 || len(out.Entries) == 0 {
		t.Fatalf("unexpected table %+v", out)
	}

	resp, _ = http.Get(h.gw.URL + "/api/access/table")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing page status %d", resp.StatusCode)
	}
}

func TestHealthzAndCorrelationID(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	resp, err := http.Get(h.gw.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Correlation-ID") == "" {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestSessionHubReceivesExpiry(t *testing.T) {
	h := newHarness(t, &fakeDevice{operator: operator.BZ_TIM}, defaultContext())
	wsURL := "ws" + strings.TrimPrefix(h.gw.URL, "http") + "/ws/session"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.srv.Hub().Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.srv.SessionExpired(&xhr.SessionExpiredError{Method: "get_wan_info", Target: "../html/login_inter.html", Alert: "Time Out, Please Login again!"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventSessionExpired || ev.Detail["target"] != "../html/login_inter.html" {
		t.Fatalf("unexpected event %+v", ev)
	}
	recs, _ := h.audit.List(context.Background(), audit.KindSession, time.Time{}, 10)
	if len(recs) != 1 {
		t.Fatalf("audit %+v", recs)
	}
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		page, target, want string
	}{
		{"/html/reboot.html", "../html/login_inter.html", "/html/login_inter.html"},
		{"/html/reboot.html", "../index.html", "/index.html"},
		{"/main_inter.html", "../index.html", "/index.html"},
		{"/html/x.html", operator.PathBadRequest, operator.PathBadRequest},
	}
	for _, tt := range tests {
		if got := resolveTarget(&url.URL{Path: tt.page}, tt.target); got != tt.want {
			t.Errorf("%s -> %s: got %s want %s", tt.page, tt.target, got, tt.want)
		}
	}
}

func TestResolveContext(t *testing.T) {
	dev := &fakeDevice{operator: operator.CHL_MP, area: operator.PRT_LIGAT}
	cpe := httptest.NewServer(dev)
	defer cpe.Close()
	client, err := xhr.New(cpe.URL)
	if err != nil {
		t.Fatal(err)
	}
	oc, err := ResolveContext(context.Background(), client, defaultContext())
	if err != nil {
		t.Fatal(err)
	}
	if oc.Operator != operator.CHL_MP || oc.AreaCode != operator.PRT_LIGAT || oc.Model != "HG6145F" || !oc.Caps.WiFi {
		t.Fatalf("unexpected context %+v", oc)
	}

	fixed := defaultContext()
	fixed.Operator, fixed.Model = operator.BZ_TIM, "X"
	oc, _ = ResolveContext(context.Background(), client, fixed)
	if oc.Operator != operator.BZ_TIM || dev.called("get_operator") != 1 {
		t.Fatal("configured context should not be looked up")
	}
}

func newJar(t *testing.T) *cookiejar.Jar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return jar
}
