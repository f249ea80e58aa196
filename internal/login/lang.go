package login

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var ErrUnknownLanguage = errors.New("login: unknown language")

var langCodes = map[string]string{
	"en":     "en",
	"spain":  "span",
	"pt":     "pt",
	"french": "french",
}

// ChangeLanguage switches the device UI language. The bool reports whether
// the page has to reload to pick it up.
func (c *Controller) ChangeLanguage(ctx context.Context, kind string) (bool, error) {
	code, ok := langCodes[kind]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownLanguage, kind)
	}
	resp, err := c.t.Post(ctx, "set_lang_info", url.Values{"lang": {code}})
	if err != nil {
		return false, fmt.Errorf("set_lang_info: %w", err)
	}
	return resp.String("success") == "true", nil
}

// TermsURL is the terms of use page for a model in the current language.
func TermsURL(lang, model string) string {
	if lang == "en" {
		return "./terms_" + model + "_en.html"
	}
	return "./terms_" + model + ".html"
}
