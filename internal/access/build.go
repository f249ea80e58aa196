package access

import (
	"strings"

	"github.com/IIAteeneaaII/ontester/internal/operator"
)

// SplitPage returns the parent directory name and file name of a URL path.
// "/html/wan.html" gives ("html", "wan.html"); "/" gives ("", "").
func SplitPage(urlPath string) (dir, file string) {
	parts := strings.Split(urlPath, "/")
	file = parts[len(parts)-1]
	if len(parts) > 1 {
		dir = parts[len(parts)-2]
	}
	return dir, file
}

// Build assembles the effective permission table for a page request. The
// result depends only on the context and the parent directory of the page.
func (c *Catalog) Build(oc operator.Context, dir string) (Table, error) {
	extra := modelAdditions(oc.Model)

	var t Table
	for _, name := range RecipeFor(oc.Operator, oc.AreaCode) {
		part, err := c.Table(name)
		if err != nil {
			return nil, err
		}
		t = t.Concat(part, extra[name])
	}

	if oc.UI.MultiAP {
		if err := c.appendTable(&t, "fragment_multiap"); err != nil {
			return nil, err
		}
	}
	if oc.UI.NewUI {
		if err := c.appendTable(&t, "fragment_newui"); err != nil {
			return nil, err
		}
	}

	switch oc.FTTR {
	case operator.FTTRMain:
		if err := c.prependFTTR(&t, oc, "fragment_fttr_main"); err != nil {
			return nil, err
		}
	case operator.FTTRSub:
		if err := c.prependFTTR(&t, oc, "fragment_fttr_sub"); err != nil {
			return nil, err
		}
	}

	return applyFilters(t, oc, dir), nil
}

func (c *Catalog) appendTable(t *Table, name string) error {
	frag, err := c.Table(name)
	if err != nil {
		return err
	}
	*t = t.Concat(frag)
	return nil
}

func (c *Catalog) prependFTTR(t *Table, oc operator.Context, name string) error {
	frag, err := c.Table(name)
	if err != nil {
		return err
	}
	*t = frag.Concat(*t)
	if oc.Operator == operator.ALGERIA_TELECOM {
		alg, err := c.Table(name + "_algeria")
		if err != nil {
			return err
		}
		*t = alg.Concat(*t)
	}
	return nil
}

func applyFilters(t Table, oc operator.Context, dir string) Table {
	if oc.Caps.VoicePorts == 0 || oc.Operator == operator.FTTR_SUB_COMMON {
		t = t.Without("voice")
	}
	if !oc.Caps.WiFi {
		t = t.Without("wifi", "wlan")
	} else if !oc.Caps.WiFi5G {
		t = t.Without("5g", "5G")
	}
	if oc.Caps.USBPorts == 0 {
		t = t.Without("ftp_server")
	}
	if oc.Is(operator.FTTR_SUB_COMMON, operator.FTTR_MAIN_SFU_COMMON) {
		t = t.Without("parental_control_inter")
	}
	if oc.Operator == operator.COL_ETB {
		t = t.Without("port_mirror_inter")
	}

	// the two UI generations live in separate directories and never mix
	if (oc.UI.NewUI && dir == "html") || (!oc.UI.NewUI && dir == "new_ui") {
		return Table{}
	}
	if oc.UI.NewUI {
		return t.Without("main_inter")
	}
	return t.Without("main_new_ui", "home_new")
}
