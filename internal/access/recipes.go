package access

import "github.com/IIAteeneaaII/ontester/internal/operator"

const baseTable = "base"

// Recipe lists the tables an operator's effective table is assembled from,
// in scan order.
type Recipe []string

func replace(name string) Recipe { return Recipe{name} }

func prepend(name string) Recipe { return Recipe{name, baseTable} }

type areaKey struct {
	operator string
	area     string
}

// areaRecipes win over Recipes when both operator and area code match.
var areaRecipes = map[areaKey]Recipe{
	{operator.CHL_MP, operator.PRT_LIGAT}:     replace("prt_ligat"),
	{operator.BZ_INTELBRAS, operator.BZ_VERO}: {"bz_vero", "bz_intelbras"},
}

// Recipes maps each operator with its own permission data to the tables it
// uses. Operators missing here get the base table.
var Recipes = map[string]Recipe{
	"BZ_TIM":               replace("bz_tim"),
	"IDN_TELKOM":           prepend("idn_telkom"),
	"TH_3BB":               prepend("th_3bb"),
	"PH_PLDT":              replace("pldt"),
	"TH_TRUE":              replace("th_true"),
	"OMN_OMANTEL":          replace("omn_omantel"),
	"ARG_CLARO":            replace("arg_claro"),
	"CHL_MP":               replace("chl_mp"),
	"PRT_LIGAT":            replace("prt_ligat"),
	"JOR_UMNIAH":           replace("jor_umniah"),
	"MEX_TP":               replace("mex_tp"),
	"SFU_MEX_TP":           replace("sfu_mex_tp"),
	"TUR_TURKSAT":          replace("tur_turksat"),
	"PLE_PALTEL":           replace("paltel"),
	"COL_CLARO":            prepend("col_claro"),
	"COL_MILLICOM":         replace("col_millicom"),
	"MEX_TELMEX":           replace("telmex"),
	"BZ_CLARO":             replace("bz_claro"),
	"ECU_CNT":              replace("ecu_cnt"),
	"EG_TELECOM":           replace("eg_telecom"),
	"TH_AIS":               replace("th_ais"),
	"CHL_ENTEL":            replace("chl_entel"),
	"PAK_PTCL":             prepend("pak_ptcl"),
	"ROM_RCSRDS":           replace("rom_rcsrds"),
	"MAGYAR_4IG":           replace("rom_rcsrds"),
	"BZ_ALGAR":             prepend("bz_algar"),
	"BZ_WDC":               prepend("bz_wdc"),
	"COL_EMCALI":           prepend("col_emcali"),
	"FTTR_SUB_COMMON":      prepend("fttr_sub"),
	"FTTR_MAIN_SFU_COMMON": prepend("fttr_main"),
	"ARG_GIGARED":          prepend("arg_gigared"),
	"ARG_HORIZON":          prepend("arg_gigared"),
	"ES_DIGI":              prepend("es_digi"),
	"MY_TM":                replace("my_tm"),
	"PAK_CYBERNET":         replace("pak_cybernet"),
	"BZ_INTELBRAS":         replace("bz_intelbras"),
	"MEX_MEGA":             replace("mex_mega"),
	"MAR_INWI":             replace("mar_imwi"),
	"MEX_NETWEY":           replace("mex_netwey"),
	"IDN_LINKNET":          prepend("idn_linknet"),
	"PRY_NUCLEO":           replace("pry_nucleo"),
	"ALB_AFT":              prepend("alb_aft"),
	"COL_ETB":              prepend("col_etb"),
	"ARM_GNC":              prepend("arm_gnc"),
	"IDN_IFORTE":           prepend("idn_iforte"),
	"ESP_EMBOU":            prepend("esp_embou"),
	"IDN_IMI":              prepend("idn_imi"),
	"BZ_VTAL":              replace("bz_vtal"),
	"BZ_DESKTOP":           prepend("bz_desktop"),
	"CHL_GTD":              replace("chl_gtd"),
	"VNM_VNPT":             replace("vnm_vnpt"),
	"NPL_TELECOM":          prepend("npl_telecom"),
	"KZ_BEELINE":           prepend("kz_beeline"),
	"EUP_COMMON":           prepend("eup_common"),
	"PAK_SCO":              prepend("pak_sco"),
}

// RecipeFor returns the recipe for an operator and area code.
func RecipeFor(op, area string) Recipe {
	if r, ok := areaRecipes[areaKey{op, area}]; ok {
		return r
	}
	if r, ok := Recipes[op]; ok {
		return r
	}
	return replace(baseTable)
}

// modelAdditions are entries some hardware models append to named tables.
func modelAdditions(model string) map[string]Table {
	add := map[string]Table{}
	if model == "HG6145D2" {
		add["pldt"] = Table{{Page: "band_steering.html", Level: 3}}
	} else {
		add["pldt"] = Table{{Page: "band_steering_pldt.html", Level: 3}}
	}
	if model == "HG8143F" {
		lte := Entry{Page: "lte_info_inter.html", Level: 3}
		add["pldt"] = append(add["pldt"], lte)
		add[baseTable] = Table{lte}
	}
	return add
}
