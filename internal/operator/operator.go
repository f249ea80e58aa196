package operator

// Operator codes that carry their own behaviour somewhere in the gate or the
// login flow. Codes not listed here still work; they fall back to defaults.
const (
	BZ_TIM               = "BZ_TIM"
	PH_PLDT              = "PH_PLDT"
	PH_DITO              = "PH_DITO"
	COL_ETB              = "COL_ETB"
	CHL_MP               = "CHL_MP"
	PRT_LIGAT            = "PRT_LIGAT"
	PLE_PALTEL           = "PLE_PALTEL"
	MAR_INWI             = "MAR_INWI"
	EG_TELECOM           = "EG_TELECOM"
	BZ_INTELBRAS         = "BZ_INTELBRAS"
	BZ_VERO              = "BZ_VERO"
	BZ_FIBRASIL          = "BZ_FIBRASIL"
	MEX_MEGA             = "MEX_MEGA"
	MEX_TELMEX           = "MEX_TELMEX"
	MEX_NETWEY           = "MEX_NETWEY"
	BZ_CLARO             = "BZ_CLARO"
	BZ_ALGAR             = "BZ_ALGAR"
	BZ_VTAL              = "BZ_VTAL"
	TH_TRUE              = "TH_TRUE"
	TH_SME_TRUE          = "TH_SME_TRUE"
	TH_3BB               = "TH_3BB"
	OMN_OMANTEL          = "OMN_OMANTEL"
	JOR_UMNIAH           = "JOR_UMNIAH"
	ECU_CNT              = "ECU_CNT"
	MY_TM                = "MY_TM"
	VNM_VNPT             = "VNM_VNPT"
	KZ_BEELINE           = "KZ_BEELINE"
	EUP_COMMON           = "EUP_COMMON"
	PAK_PTCL             = "PAK_PTCL"
	FTTR_SUB_COMMON      = "FTTR_SUB_COMMON"
	FTTR_MAIN_SFU_COMMON = "FTTR_MAIN_SFU_COMMON"
	ALGERIA_TELECOM      = "ALGERIA_TELECOM"
)

// FTTR is the fibre-to-the-room role of the device.
type FTTR string

const (
	FTTRNone FTTR = ""
	FTTRMain FTTR = "fttr_main"
	FTTRSub  FTTR = "fttr_sub"
)

// Capabilities describes the hardware the page set has to match.
type Capabilities struct {
	VoicePorts int  `mapstructure:"voice_ports" json:"voice_ports"`
	WiFi       bool `mapstructure:"wifi" json:"wifi"`
	WiFi5G     bool `mapstructure:"wifi_5g" json:"wifi_5g"`
	USBPorts   int  `mapstructure:"usb_ports" json:"usb_ports"`
}

// UIFlags selects optional page families.
type UIFlags struct {
	MultiAP bool `mapstructure:"multi_ap" json:"multi_ap"`
	NewUI   bool `mapstructure:"new_ui" json:"new_ui"`
}

// Role is the logged-in account role, expressed with the same bits the
// permission tables use.
type Role int

const (
	RoleNone  Role = 0
	RoleUser  Role = 1
	RoleAdmin Role = 2
	RoleSuper Role = 4
)

// LoginState is what the device reports about the current account. Only the
// forced password change flow reads it.
type LoginState struct {
	Role            Role `json:"role"`
	FirstLoginAdmin bool `json:"first_login_admin"`
	FirstLoginUser  bool `json:"first_login_user"`
}

// Context is the per page-load view of the device. It is built once and
// never mutated afterwards.
type Context struct {
	Operator string       `mapstructure:"operator" json:"operator"`
	AreaCode string       `mapstructure:"area_code" json:"area_code"`
	Model    string       `mapstructure:"model" json:"model"`
	Caps     Capabilities `mapstructure:"capabilities" json:"capabilities"`
	UI       UIFlags      `mapstructure:"ui" json:"ui"`
	FTTR     FTTR         `mapstructure:"fttr" json:"fttr"`
	Login    LoginState   `mapstructure:"-" json:"login"`
}

// WithLogin returns a copy of c carrying the given login state.
func (c Context) WithLogin(l LoginState) Context {
	c.Login = l
	return c
}

// Is reports whether the context belongs to any of the given operators.
func (c Context) Is(codes ...string) bool {
	for _, code := range codes {
		if c.Operator == code {
			return true
		}
	}
	return false
}
