package operator

// Pseudo routes used to signal errors back to the browser. They are appended
// to the current origin.
const (
	PathBadRequest   = "/BadRequest"
	PathUnauthorized = "/RequestUnauthorized"
)

const (
	loginInter   = "../html/login_inter.html"
	loginPLDT    = "../html/login_pldt.html"
	loginDefault = "../index.html"

	timeoutAlert = "Time Out, Please Login again!"
)

// LoginPage returns the page a denied or logged-out user is sent to.
func LoginPage(op string) string {
	switch op {
	case BZ_TIM:
		return loginInter
	case PH_PLDT:
		return loginPLDT
	default:
		return loginDefault
	}
}

// SessionExpired returns where an expired session lands and the alert shown
// before leaving, if any.
func SessionExpired(op string) (target, alert string) {
	switch op {
	case BZ_TIM, PH_PLDT, COL_ETB:
		return LoginPage(op), timeoutAlert
	default:
		return LoginPage(op), ""
	}
}
