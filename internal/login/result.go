package login

import (
	"context"

	"github.com/IIAteeneaaII/ontester/internal/operator"
	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

// ResultCode is the login_result field of a do_login answer.
type ResultCode int

const (
	ResultSuccess         ResultCode = 0
	ResultAlreadyLoggedIn ResultCode = 1
	ResultLockout         ResultCode = 2
	ResultDisabled        ResultCode = 3
	ResultMismatch        ResultCode = 4
	ResultUnavailable     ResultCode = 9
	ResultFailure         ResultCode = 100
	ResultUnexpected      ResultCode = -1
)

// checked in this order, the same order the page tests them in
var knownResults = []ResultCode{
	ResultSuccess, ResultAlreadyLoggedIn, ResultLockout, ResultDisabled,
	ResultUnavailable, ResultMismatch, ResultFailure,
}

// Result is a parsed do_login answer.
type Result struct {
	Code            ResultCode
	Redirect        bool
	AdminRedirect   bool
	UserRedirect    bool
	DefaultPassword bool
}

func ParseResult(r xhr.Response) Result {
	res := Result{
		Code:            ResultUnexpected,
		Redirect:        r.Is("is_redirect", 1),
		AdminRedirect:   r.Is("admin_is_redirect", 1),
		UserRedirect:    r.Is("user_is_redirect", 1),
		DefaultPassword: r.Is("is_default_pwd", 1),
	}
	for _, code := range knownResults {
		if r.Is("login_result", int(code)) {
			res.Code = code
			break
		}
	}
	return res
}

// Confirm asks the user a yes/no question and names where each answer goes.
type Confirm struct {
	Prompt  string `json:"prompt"`
	Accept  string `json:"accept"`
	Decline string `json:"decline"`
}

// Outcome is what the login page does next.
type Outcome struct {
	Result   ResultCode `json:"result"`
	Redirect string     `json:"redirect,omitempty"`
	Confirm  *Confirm   `json:"confirm,omitempty"`
	// Message is an i18n key shown in the inline hint.
	Message string `json:"message,omitempty"`
	// Alert is an i18n key shown in a dialog.
	Alert string  `json:"alert,omitempty"`
	Ops   []DOMOp `json:"ops,omitempty"`
	// StoreArea is set when the area code has to be remembered client side.
	StoreArea     bool   `json:"store_area,omitempty"`
	AreaCode      string `json:"area_code,omitempty"`
	LoginUser     string `json:"login_user,omitempty"`
	ClearPassword bool   `json:"clear_password"`
}

const changePasswordPrompt = "If you want to modify you default password , please click yes. Else, you can click no to skip!"

// HandleResult maps a do_login answer to the next step. A nil answer means
// the device said something unreadable.
func (c *Controller) HandleResult(ctx context.Context, resp xhr.Response) (Outcome, error) {
	if resp == nil {
		return Outcome{Result: ResultUnexpected, Alert: "unexpected_error", ClearPassword: true}, nil
	}
	b, err := c.currentBranding(ctx)
	if err != nil {
		return Outcome{}, err
	}

	loginUser := ""
	if u, err := c.t.Get(ctx, "get_login_user", nil); err != nil {
		c.logger.Warn("get_login_user failed", "operator", b.Operator, "error", err)
	} else {
		loginUser = u.String("login_user")
	}

	res := ParseResult(resp)
	out := Outcome{Result: res.Code, LoginUser: loginUser}
	if res.Code == ResultSuccess {
		c.land(ctx, b, res, loginUser, &out)
		return out, nil
	}

	out.ClearPassword = true
	op := b.Operator
	switch res.Code {
	case ResultAlreadyLoggedIn:
		out.Message = "haveuserlogin"
	case ResultLockout:
		switch op {
		case operator.TH_TRUE, operator.TH_SME_TRUE:
			out.Message = "3timeError_30"
		case operator.ECU_CNT:
			out.Message = "3timeError_2"
		case operator.PAK_PTCL:
			out.Message = "10timeError_5"
		default:
			out.Message = "3timeError"
		}
	case ResultDisabled:
		out.Message = "account_disabled_error"
	case ResultUnavailable:
		out.Message = "user_account_disabled_error"
	case ResultMismatch:
		if op == operator.MEX_TELMEX {
			out.Message = "name_pwd_error_mex"
			out.Ops = []DOMOp{{Kind: OpCSS, Selector: "#login_error_hint", Name: "font-size", Value: "16px"}}
		} else {
			out.Message = "name_pwd_error"
		}
	case ResultFailure:
		out.Message = "login_fail"
	default:
		out.Message = "unexpected_error"
	}
	return out, nil
}

func roleRedirect(res Result, loginUser string) bool {
	return (res.AdminRedirect && loginUser == "2") || (res.UserRedirect && loginUser == "1")
}

func (c *Controller) land(ctx context.Context, b *Branding, res Result, loginUser string, out *Outcome) {
	op := b.Operator
	switch {
	case op == operator.OMN_OMANTEL && res.Redirect:
		out.Redirect = "user_modifypw_omn_omantel.html"
	case (op == operator.MEX_TELMEX || op == operator.JOR_UMNIAH) && res.Redirect:
		out.Redirect = "admin_modifypwd_inter.html"
	case op == operator.ECU_CNT:
		if c.firstTimeSetting(ctx, op) && loginUser != "4" {
			out.Redirect = "fast_settings_wan_ECU_CNT.html"
		} else {
			out.Redirect = "main_inter.html"
		}
	case op == operator.EG_TELECOM:
		if b.WebConfig.FirstTimeLogin == "1" {
			out.Confirm = &Confirm{
				Prompt:  changePasswordPrompt,
				Accept:  "admin_modifypwd_inter.html",
				Decline: "fast_settings_eg.html",
			}
		} else {
			out.Redirect = "main_inter.html"
		}
	case op == operator.MY_TM:
		out.Redirect = "main_my_tm.html"
	case op == operator.BZ_INTELBRAS:
		out.StoreArea = true
		switch b.AreaCode {
		case operator.BZ_VERO, operator.BZ_FIBRASIL:
			out.AreaCode = b.AreaCode
			out.Redirect = "main_bz_intelbras.html"
		default:
			if roleRedirect(res, loginUser) {
				out.Redirect = "admin_modifypwd_bz_intelbras.html"
			} else {
				out.Redirect = "main_bz_intelbras.html"
			}
		}
	case op == operator.MEX_NETWEY:
		out.Redirect = "main_mex_netwey.html"
	case op == operator.BZ_ALGAR && res.DefaultPassword:
		out.Redirect = "default_pwdmodify_bz_algar.html"
	case op == operator.VNM_VNPT, op == operator.EUP_COMMON:
		if roleRedirect(res, loginUser) {
			out.Redirect = "admin_modifypwd_inter.html"
		} else {
			out.Redirect = "main_inter.html"
		}
	case op == operator.KZ_BEELINE:
		if c.firstTimeSetting(ctx, op) && loginUser == "2" {
			out.Redirect = "fast_settings_wan_KZ_BEELINE.html"
		} else {
			out.Redirect = "main_inter.html"
		}
	case op == operator.MEX_TELMEX:
		out.Redirect = "main_inter_telmex.html"
	default:
		out.Redirect = "main_inter.html"
	}
}

// firstTimeSetting reads the quick setup flag after a successful login. An
// unreadable answer counts as already set up.
func (c *Controller) firstTimeSetting(ctx context.Context, op string) bool {
	cfg, err := c.t.Get(ctx, "get_web_config", nil)
	if err != nil {
		c.logger.Warn("get_web_config failed", "operator", op, "error", err)
		return false
	}
	return cfg.String("FirstTimeSetting") == "1"
}
