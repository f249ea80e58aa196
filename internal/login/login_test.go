package login

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

type fakeDevice struct {
	mu      sync.Mutex
	answers map[string]xhr.Response
	postErr error
	calls   []string
	posted  map[string]url.Values
}

func newFakeDevice(op string) *fakeDevice {
	return &fakeDevice{
		answers: map[string]xhr.Response{
			"get_operator":    {"operator_name": op, "SerialNumber": "FHTT9A1B2C3D", "area_code": ""},
			"get_device_name": {"ModelName": "HG6145F"},
			"get_login_user":  {"login_user": "2"},
		},
		posted: map[string]url.Values{},
	}
}

func (f *fakeDevice) Get(_ context.Context, method string, _ url.Values) (xhr.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	return f.answers[method], nil
}

func (f *fakeDevice) Post(_ context.Context, method string, params url.Values) (xhr.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.posted[method] = params
	return f.answers[method], nil
}

func (f *fakeDevice) called(method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == method {
			return true
		}
	}
	return false
}

func fixedCode() string { return "4711" }

func TestFetchIdentity(t *testing.T) {
	dev := newFakeDevice("BZ_TIM")
	id, err := FetchIdentity(context.Background(), dev)
	if err != nil {
		t.Fatal(err)
	}
	if id.Operator != "BZ_TIM" || id.Model != "HG6145F" || id.DefaultPassword != "9A1B2C3D" {
		t.Fatalf("unexpected identity %+v", id)
	}

	dev.answers["get_operator"] = xhr.Response{}
	id, _ = FetchIdentity(context.Background(), dev)
	if id.Operator != "" {
		t.Fatalf("operator should stay empty, got %q", id.Operator)
	}
	if defaultPassword("ABC") != "ABC" {
		t.Fatal("short serials are used whole")
	}
}

func TestLoadBrandingPerOperator(t *testing.T) {
	tests := []struct {
		op    string
		extra map[string]xhr.Response
		check func(t *testing.T, b *Branding, dev *fakeDevice)
	}{
		{"TH_TRUE", nil, func(t *testing.T, b *Branding, _ *fakeDevice) {
			if !b.Captcha || !hasOp(b.Ops, OpText, "#verifiCode", "4711") {
				t.Fatalf("captcha missing: %+v", b)
			}
		}},
		{"PH_DITO", nil, func(t *testing.T, b *Branding, _ *fakeDevice) {
			if !b.RegisterLink || !hasOp(b.Ops, OpShow, "#td_regist", "") {
				t.Fatal("register link missing")
			}
		}},
		{"PLE_PALTEL", nil, func(t *testing.T, b *Branding, _ *fakeDevice) {
			for _, op := range b.Ops {
				if op.Name == "background-image" {
					t.Fatal("PLE_PALTEL must not get a background image")
				}
			}
		}},
		{"PRT_LIGAT", nil, func(t *testing.T, b *Branding, _ *fakeDevice) {
			if !hasOp(b.Ops, OpAttr, "#login_table", "../image/login_ligat.png") {
				t.Fatal("ligat background missing")
			}
		}},
		{"MEX_TELMEX", map[string]xhr.Response{
			"get_super_userName_telmex": {"super_userName": "TELMEX"},
			"get_lang_info":             {"i18n": "span"},
		}, func(t *testing.T, b *Branding, _ *fakeDevice) {
			if b.SuperUser != "TELMEX" || !b.UsernameLocked || !b.ShowPasswordToggle || b.Lang != "span" {
				t.Fatalf("telmex branding %+v", b)
			}
			if !hasOp(b.Ops, OpValue, "#user_name", "TELMEX") {
				t.Fatal("username not pre-filled")
			}
		}},
		{"BZ_INTELBRAS", map[string]xhr.Response{
			"get_super_userName_telmex": {"super_userName": "admin"},
			"get_web_config":            {"FirstTimeLogin": "1", "FirstTimeLoginAdmin": "1"},
			"get_lang_info":             {"i18n": "pt"},
		}, func(t *testing.T, b *Branding, _ *fakeDevice) {
			if b.UsernameLocked {
				t.Fatal("intelbras username must stay editable")
			}
			if b.WebConfig.FirstTimeLoginAdmin != "1" || !b.LangSelector {
				t.Fatalf("intelbras branding %+v", b)
			}
			if !hasOp(b.Ops, OpAttr, "#user_name", "user_name") {
				t.Fatal("placeholder missing")
			}
		}},
		{"MEX_MEGA", map[string]xhr.Response{
			"get_web_config": {"Date": "2026-01-01"},
		}, func(t *testing.T, b *Branding, _ *fakeDevice) {
			if b.WebConfig.PasswordDate != "2026-01-01" || !hasOp(b.Ops, OpShow, "#tr_date_pwd", "") {
				t.Fatal("password date missing")
			}
		}},
		{"BZ_TIM", nil, func(t *testing.T, b *Branding, dev *fakeDevice) {
			if dev.called("get_web_config") || dev.called("get_lang_info") || dev.called("get_super_userName_telmex") {
				t.Fatal("BZ_TIM needs no extra lookups")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			dev := newFakeDevice(tt.op)
			for k, v := range tt.extra {
				dev.answers[k] = v
			}
			c := NewController(dev, WithCaptchaSource(fixedCode))
			b, err := c.LoadBranding(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, b, dev)
		})
	}
}

func hasOp(ops []DOMOp, kind OpKind, sel, value string) bool {
	for _, o := range ops {
		if o.Kind == kind && o.Selector == sel && (value == "" || o.Value == value) {
			return true
		}
	}
	return false
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		op   string
		cr   Credentials
		key  string
	}{
		{"no username", "BZ_TIM", Credentials{Password: "x"}, "no_username_alert"},
		{"no password", "BZ_TIM", Credentials{Username: "admin"}, "no_password_alert"},
		{"wrong captcha", "TH_3BB", Credentials{Username: "admin", Password: "x", Captcha: "0000"}, "validate_code_alert"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(tt.op)
			c := NewController(dev, WithCaptchaSource(fixedCode))
			_, err := c.Submit(context.Background(), tt.cr)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Key != tt.key {
				t.Fatalf("expected %s, got %v", tt.key, err)
			}
			if dev.called("do_login") {
				t.Fatal("nothing may be posted on a validation error")
			}
		})
	}
}

func TestSubmitBlocksDisabledClaroSuperUser(t *testing.T) {
	dev := newFakeDevice("BZ_CLARO")
	dev.answers["get_super_userName_telmex"] = xhr.Response{"super_userName": "CLAROadmin", "admin_enable": "0"}
	c := NewController(dev)
	_, err := c.Submit(context.Background(), Credentials{Username: "CLAROadmin", Password: "pw"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Key != "name_pwd_error" {
		t.Fatalf("expected name_pwd_error, got %v", err)
	}
}

func TestSubmitFieldNames(t *testing.T) {
	tests := []struct {
		op        string
		field     string
		encrypted bool
	}{
		{"BZ_ALGAR", "login_name", true},
		{"BZ_VTAL", "login_name", true},
		{"BZ_INTELBRAS", "xt_yhm", true},
		{"BZ_TIM", "username", false},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			dev := newFakeDevice(tt.op)
			dev.answers["do_login"] = xhr.Response{"login_result": float64(0)}
			c := NewController(dev)
			if _, err := c.Submit(context.Background(), Credentials{Username: "admin", Password: "admin"}); err != nil {
				t.Fatal(err)
			}
			form := dev.posted["do_login"]
			want := "admin"
			if tt.encrypted {
				want = "b27d5efa35dd844614b57d7609ba954f"
			}
			if form.Get(tt.field) != want {
				t.Fatalf("%s = %q, want %q", tt.field, form.Get(tt.field), want)
			}
			if form.Get("loginpd") != "b27d5efa35dd844614b57d7609ba954f" || form.Get("port") != "0" {
				t.Fatalf("unexpected form %v", form)
			}
		})
	}
}

func TestSubmitTransportError(t *testing.T) {
	dev := newFakeDevice("BZ_TIM")
	dev.postErr = xhr.ErrNoSessionID
	c := NewController(dev)
	_, err := c.Submit(context.Background(), Credentials{Username: "a", Password: "b"})
	if !errors.Is(err, xhr.ErrNoSessionID) {
		t.Fatalf("expected ErrNoSessionID, got %v", err)
	}
	// the form must be usable again
	if _, err := c.Submit(context.Background(), Credentials{Username: "a", Password: "b"}); errors.Is(err, ErrSubmitInProgress) {
		t.Fatal("submit stayed disabled")
	}
}

func TestHandleResultFailures(t *testing.T) {
	tests := []struct {
		op      string
		code    any
		message string
	}{
		{"BZ_TIM", float64(1), "haveuserlogin"},
		{"BZ_TIM", float64(2), "3timeError"},
		{"TH_TRUE", "2", "3timeError_30"},
		{"TH_SME_TRUE", float64(2), "3timeError_30"},
		{"ECU_CNT", float64(2), "3timeError_2"},
		{"PAK_PTCL", float64(2), "10timeError_5"},
		{"BZ_TIM", float64(3), "account_disabled_error"},
		{"BZ_TIM", float64(9), "user_account_disabled_error"},
		{"BZ_TIM", float64(4), "name_pwd_error"},
		{"MEX_TELMEX", float64(4), "name_pwd_error_mex"},
		{"BZ_TIM", float64(100), "login_fail"},
		{"BZ_TIM", float64(77), "unexpected_error"},
	}
	for _, tt := range tests {
		dev := newFakeDevice(tt.op)
		c := NewController(dev)
		out, err := c.HandleResult(context.Background(), xhr.Response{"login_result": tt.code})
		if err != nil {
			t.Fatal(err)
		}
		if out.Message != tt.message || out.Redirect != "" || !out.ClearPassword {
			t.Errorf("%s/%v: got %+v, want message %s", tt.op, tt.code, out, tt.message)
		}
	}
}

func TestHandleResultNilResponse(t *testing.T) {
	c := NewController(newFakeDevice("BZ_TIM"))
	out, err := c.HandleResult(context.Background(), nil)
	if err != nil || out.Alert != "unexpected_error" {
		t.Fatalf("got %+v %v", out, err)
	}
}

func TestHandleResultLanding(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		area      string
		loginUser string
		resp      xhr.Response
		webConfig xhr.Response
		want      string
	}{
		{"default", "BZ_TIM", "", "2", xhr.Response{}, nil, "main_inter.html"},
		{"omantel redirect", "OMN_OMANTEL", "", "2", xhr.Response{"is_redirect": float64(1)}, nil, "user_modifypw_omn_omantel.html"},
		{"omantel plain", "OMN_OMANTEL", "", "2", xhr.Response{}, nil, "main_inter.html"},
		{"telmex redirect", "MEX_TELMEX", "", "2", xhr.Response{"is_redirect": "1"}, nil, "admin_modifypwd_inter.html"},
		{"telmex plain", "MEX_TELMEX", "", "2", xhr.Response{}, nil, "main_inter_telmex.html"},
		{"umniah redirect", "JOR_UMNIAH", "", "2", xhr.Response{"is_redirect": float64(1)}, nil, "admin_modifypwd_inter.html"},
		{"ecu first setup", "ECU_CNT", "", "2", xhr.Response{}, xhr.Response{"FirstTimeSetting": "1"}, "fast_settings_wan_ECU_CNT.html"},
		{"ecu super user", "ECU_CNT", "", "4", xhr.Response{}, xhr.Response{"FirstTimeSetting": "1"}, "main_inter.html"},
		{"my tm", "MY_TM", "", "2", xhr.Response{}, nil, "main_my_tm.html"},
		{"intelbras vero", "BZ_INTELBRAS", "BZ_VERO", "2", xhr.Response{"admin_is_redirect": float64(1)}, nil, "main_bz_intelbras.html"},
		{"intelbras admin change", "BZ_INTELBRAS", "", "2", xhr.Response{"admin_is_redirect": float64(1)}, nil, "admin_modifypwd_bz_intelbras.html"},
		{"intelbras user change", "BZ_INTELBRAS", "", "1", xhr.Response{"user_is_redirect": float64(1)}, nil, "admin_modifypwd_bz_intelbras.html"},
		{"intelbras wrong role", "BZ_INTELBRAS", "", "1", xhr.Response{"admin_is_redirect": float64(1)}, nil, "main_bz_intelbras.html"},
		{"netwey", "MEX_NETWEY", "", "2", xhr.Response{}, nil, "main_mex_netwey.html"},
		{"algar default pwd", "BZ_ALGAR", "", "2", xhr.Response{"is_default_pwd": float64(1)}, nil, "default_pwdmodify_bz_algar.html"},
		{"algar normal", "BZ_ALGAR", "", "2", xhr.Response{}, nil, "main_inter.html"},
		{"vnpt admin change", "VNM_VNPT", "", "2", xhr.Response{"admin_is_redirect": float64(1)}, nil, "admin_modifypwd_inter.html"},
		{"eup user change", "EUP_COMMON", "", "1", xhr.Response{"user_is_redirect": float64(1)}, nil, "admin_modifypwd_inter.html"},
		{"eup plain", "EUP_COMMON", "", "1", xhr.Response{}, nil, "main_inter.html"},
		{"beeline admin setup", "KZ_BEELINE", "", "2", xhr.Response{}, xhr.Response{"FirstTimeSetting": "1"}, "fast_settings_wan_KZ_BEELINE.html"},
		{"beeline user", "KZ_BEELINE", "", "1", xhr.Response{}, xhr.Response{"FirstTimeSetting": "1"}, "main_inter.html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(tt.op)
			dev.answers["get_operator"]["area_code"] = tt.area
			dev.answers["get_login_user"] = xhr.Response{"login_user": tt.loginUser}
			if tt.webConfig != nil {
				dev.answers["get_web_config"] = tt.webConfig
			}
			resp := xhr.Response{"login_result": float64(0)}
			for k, v := range tt.resp {
				resp[k] = v
			}
			c := NewController(dev)
			out, err := c.HandleResult(context.Background(), resp)
			if err != nil {
				t.Fatal(err)
			}
			if out.Redirect != tt.want {
				t.Fatalf("redirect %q, want %q", out.Redirect, tt.want)
			}
			if out.ClearPassword {
				t.Fatal("success keeps the password field")
			}
		})
	}
}

func TestHandleResultEgyptConfirm(t *testing.T) {
	dev := newFakeDevice("EG_TELECOM")
	dev.answers["get_web_config"] = xhr.Response{"FirstTimeLogin": "1"}
	c := NewController(dev)
	out, err := c.HandleResult(context.Background(), xhr.Response{"login_result": float64(0)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Confirm == nil || out.Confirm.Accept != "admin_modifypwd_inter.html" || out.Confirm.Decline != "fast_settings_eg.html" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	dev.answers["get_web_config"] = xhr.Response{"FirstTimeLogin": "0"}
	c = NewController(dev)
	out, _ = c.HandleResult(context.Background(), xhr.Response{"login_result": float64(0)})
	if out.Confirm != nil || out.Redirect != "main_inter.html" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestChangeLanguage(t *testing.T) {
	dev := newFakeDevice("MEX_TELMEX")
	dev.answers["set_lang_info"] = xhr.Response{"success": "true"}
	c := NewController(dev)
	reload, err := c.ChangeLanguage(context.Background(), "spain")
	if err != nil || !reload {
		t.Fatalf("reload=%v err=%v", reload, err)
	}
	if dev.posted["set_lang_info"].Get("lang") != "span" {
		t.Fatalf("posted %v", dev.posted["set_lang_info"])
	}
	if _, err := c.ChangeLanguage(context.Background(), "klingon"); !errors.Is(err, ErrUnknownLanguage) {
		t.Fatalf("expected ErrUnknownLanguage, got %v", err)
	}
}

func TestTermsURL(t *testing.T) {
	if got := TermsURL("en", "HG6145D2"); got != "./terms_HG6145D2_en.html" {
		t.Fatal(got)
	}
	if got := TermsURL("pt", "HG6145D2"); got != "./terms_HG6145D2.html" {
		t.Fatal(got)
	}
}

func TestFiberhomeCipher(t *testing.T) {
	var c FiberhomeCipher
	enc, err := c.Encrypt("admin")
	if err != nil {
		t.Fatal(err)
	}
	if enc != "b27d5efa35dd844614b57d7609ba954f" {
		t.Fatalf("Encrypt(admin) = %s", enc)
	}
	empty, _ := c.Encrypt("")
	if empty != "9a0c457df8591216ec5da21249e5d171" {
		t.Fatalf("Encrypt(\"\") = %s", empty)
	}
	for _, s := range []string{"admin", "a much longer wifi passphrase!", "x"} {
		e, _ := c.Encrypt(s)
		d, err := c.Decrypt(e)
		if err != nil || d != s {
			t.Fatalf("round trip %q: %q %v", s, d, err)
		}
	}
	if _, err := c.Decrypt("zz"); err == nil {
		t.Fatal("expected hex error")
	}
	if _, err := c.Decrypt("abcd"); err == nil {
		t.Fatal("expected block size error")
	}
}
