package login

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/IIAteeneaaII/ontester/internal/operator"
)

// OpKind is a DOM change applied to the login page.
type OpKind string

const (
	OpShow  OpKind = "show"
	OpHide  OpKind = "hide"
	OpText  OpKind = "text"
	OpAttr  OpKind = "attr"
	OpCSS   OpKind = "css"
	OpValue OpKind = "value"
)

// DOMOp changes the elements matching Selector. Name is the attribute or
// CSS property for OpAttr and OpCSS. With I18n set, Value is a message key.
type DOMOp struct {
	Kind     OpKind `json:"kind"`
	Selector string `json:"selector"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
	I18n     bool   `json:"i18n,omitempty"`
}

// WebConfig carries the get_web_config flags the login flow reads.
type WebConfig struct {
	FirstTimeSetting    string `json:"first_time_setting"`
	FirstTimeLogin      string `json:"first_time_login"`
	FirstTimeLoginUser  string `json:"first_time_login_user"`
	FirstTimeLoginAdmin string `json:"first_time_login_admin"`
	PasswordDate        string `json:"password_date,omitempty"`
}

// Branding is the operator specific look of the login form.
type Branding struct {
	Identity
	Title string  `json:"title"`
	Ops   []DOMOp `json:"ops"`

	Captcha        bool   `json:"captcha"`
	RegisterLink   bool   `json:"register_link"`
	LangSelector   bool   `json:"lang_selector"`
	Lang           string `json:"lang,omitempty"`
	SuperUser      string `json:"super_user,omitempty"`
	UsernameLocked bool   `json:"username_locked"`
	// AdminDisabled blocks the BZ_CLARO super user from logging in.
	AdminDisabled      bool      `json:"-"`
	MaskPassword       bool      `json:"mask_password"`
	ShowPasswordToggle bool      `json:"show_password_toggle"`
	WebConfig          WebConfig `json:"web_config"`
}

type opList []DOMOp

func (o *opList) show(sels ...string) {
	for _, s := range sels {
		*o = append(*o, DOMOp{Kind: OpShow, Selector: s})
	}
}

func (o *opList) hide(sel string) { *o = append(*o, DOMOp{Kind: OpHide, Selector: sel}) }

func (o *opList) text(sel, v string) {
	*o = append(*o, DOMOp{Kind: OpText, Selector: sel, Value: v})
}

func (o *opList) i18nText(sel, key string) {
	*o = append(*o, DOMOp{Kind: OpText, Selector: sel, Value: key, I18n: true})
}

func (o *opList) i18nAttr(sel, name, key string) {
	*o = append(*o, DOMOp{Kind: OpAttr, Selector: sel, Name: name, Value: key, I18n: true})
}

func (o *opList) attr(sel, name, v string) {
	*o = append(*o, DOMOp{Kind: OpAttr, Selector: sel, Name: name, Value: v})
}

func (o *opList) css(sel, prop, v string) {
	*o = append(*o, DOMOp{Kind: OpCSS, Selector: sel, Name: prop, Value: v})
}

func (o *opList) value(sel, v string) {
	*o = append(*o, DOMOp{Kind: OpValue, Selector: sel, Value: v})
}

// LoadBranding asks the device who it is and works out the login form for
// its operator. Only the identity fetch is fatal; optional lookups that
// fail leave their part of the form at the default.
func (c *Controller) LoadBranding(ctx context.Context) (*Branding, error) {
	id, err := FetchIdentity(ctx, c.t)
	if err != nil {
		return nil, fmt.Errorf("load branding: %w", err)
	}
	b := &Branding{Identity: id, Title: id.Model}
	op := id.Operator
	var ops opList

	ops.text("#login_title", id.Model)

	var challenge string
	switch op {
	case operator.TH_TRUE:
		challenge = c.newCode()
		b.Captcha = true
		ops.show("#tr_verifi")
		ops.text("#verifiCode", challenge)
	case operator.TH_3BB:
		challenge = c.newCode()
		b.Captcha = true
		ops.show("#tr_verifi")
		ops.css("#verifiCode", "letter-spacing", "15px")
		ops.text("#verifiCode", challenge)
	}

	ops.show("#username_common", "#common_password", "#login_btn", "#reset_btn")

	if op == operator.MAR_INWI {
		ops.css("#username_td", "width", "50%")
		ops.css("#pwd_td", "width", "50%")
		ops.attr("#login_table", "background", "../image/login_mar_inwi.png")
		ops.css(".STYLE6", "color", "#FFFFFF")
		ops.css("#login_table", "background-repeat", "no-repeat")
		ops.css(".STYLE1", "background-repeat", "repeat-x")
		ops.css(".STYLE1", "background-color", "#FFFFFF")
		ops.text("#username", "Identifiant")
		ops.show("#mar_imwi")
		ops.hide("#common")
		ops.show("#lang_div")
		ops.css("#lang_div", "margin-top", "60px")
		ops.hide("#SpanishModify")
		ops.show("#FrenchModify")
		ops.css("#FrenchModify", "color", "grey")
		ops.css("#EnglishModify", "color", "grey")
		b.LangSelector = true
		c.applyLang(ctx, b, &ops)
	} else {
		if (op == operator.CHL_MP && id.AreaCode == operator.PRT_LIGAT) || op == operator.PRT_LIGAT {
			ops.attr("#login_table", "background", "../image/login_ligat.png")
			ops.css(".STYLE6", "color", "#FFFFC7")
			ops.css("#login_table", "background-repeat", "no-repeat")
		} else {
			ops.attr("#login_table", "background", "../image/login.png")
		}
		if op != operator.PLE_PALTEL {
			ops.css(".STYLE1", "background-image", "url(../image/background.png)")
			ops.css(".STYLE1", "background-repeat", "repeat-x")
		}
	}

	switch op {
	case operator.EG_TELECOM, operator.BZ_INTELBRAS, operator.MEX_MEGA:
		c.applyWebConfig(ctx, b, &ops)
	}

	switch op {
	case operator.BZ_CLARO:
		c.applySuperUser(ctx, b, &ops)
		b.MaskPassword = true
	case operator.BZ_INTELBRAS:
		c.applySuperUser(ctx, b, &ops)
		b.LangSelector = true
		c.applyLang(ctx, b, &ops)
		ops.show("#lang_div")
		ops.css(".STYLE2", "width", "100px")
	case operator.MEX_TELMEX:
		c.applySuperUser(ctx, b, &ops)
		b.LangSelector = true
		c.applyLang(ctx, b, &ops)
		b.ShowPasswordToggle = true
		ops.show("#show_password", "#lang_div")
		ops.css(".STYLE2", "width", "100px")
	case operator.MEX_NETWEY:
		b.LangSelector = true
		c.applyLang(ctx, b, &ops)
		ops.show("#lang_div")
	case operator.PH_DITO:
		b.RegisterLink = true
		ops.show("#td_regist")
	}

	b.Ops = ops
	c.mu.Lock()
	c.branding = b
	c.challenge = challenge
	c.mu.Unlock()
	return b, nil
}

func (c *Controller) applyWebConfig(ctx context.Context, b *Branding, ops *opList) {
	cfg, err := c.t.Get(ctx, "get_web_config", nil)
	if err != nil {
		c.logger.Warn("get_web_config failed", "operator", b.Operator, "error", err)
		return
	}
	if cfg == nil {
		return
	}
	b.WebConfig = WebConfig{
		FirstTimeSetting:    cfg.String("FirstTimeSetting"),
		FirstTimeLogin:      cfg.String("FirstTimeLogin"),
		FirstTimeLoginUser:  cfg.String("FirstTimeLoginUser"),
		FirstTimeLoginAdmin: cfg.String("FirstTimeLoginAdmin"),
	}
	if b.Operator == operator.MEX_MEGA && cfg.String("Date") != "" {
		b.WebConfig.PasswordDate = cfg.String("Date")
		ops.show("#tr_date_pwd")
		ops.text("#date_pwd_value", b.WebConfig.PasswordDate)
	}
}

func (c *Controller) applySuperUser(ctx context.Context, b *Branding, ops *opList) {
	data, err := c.t.Get(ctx, "get_super_userName_telmex", nil)
	if err != nil {
		c.logger.Warn("get_super_userName_telmex failed", "operator", b.Operator, "error", err)
		return
	}
	b.SuperUser = data.String("super_userName")
	b.AdminDisabled = data.Has("admin_enable") && data.Is("admin_enable", 0)
	if b.Operator == operator.BZ_INTELBRAS || data == nil {
		return
	}
	b.UsernameLocked = true
	ops.value("#user_name", b.SuperUser)
	ops.css("#user_name", "background-color", "#F5F5F5")
	ops.attr("#user_name", "disabled", "disabled")
}

func (c *Controller) applyLang(ctx context.Context, b *Branding, ops *opList) {
	data, err := c.t.Get(ctx, "get_lang_info", nil)
	if err != nil {
		c.logger.Warn("get_lang_info failed", "operator", b.Operator, "error", err)
		return
	}
	if !data.Has("i18n") {
		return
	}
	b.Lang = data.String("i18n")
	placeholders := func() {
		ops.i18nAttr("#user_name", "placeholder", "user_name")
		ops.i18nAttr("#loginpp", "placeholder", "loginpp")
	}
	switch b.Lang {
	case "span":
		ops.css("#SpanishModify", "color", "#00BFFF")
		ops.css("#EnglishModify", "color", "black")
		if b.Operator == operator.MEX_NETWEY {
			ops.i18nText("#login_btn", "login_btn")
			placeholders()
		}
	case "en":
		ops.css("#EnglishModify", "color", "#00BFFF")
		ops.css("#SpanishModify", "color", "black")
		ops.i18nText("#login_btn", "login_btn")
		if b.Operator == operator.BZ_INTELBRAS {
			placeholders()
		} else if b.Operator == operator.MAR_INWI {
			ops.css("#EnglishModify", "color", "#fff")
		}
	case "pt":
		ops.css("#PortugueseModify", "color", "#00BFFF")
		ops.css("#EnglishModify", "color", "black")
		ops.i18nText("#login_btn", "login_btn")
		if b.Operator == operator.BZ_INTELBRAS {
			placeholders()
		}
	case "french":
		ops.css("#FrenchModify", "color", "#fff")
	}
}

func randomCode() string {
	return fmt.Sprintf("%04d", rand.IntN(10000))
}
