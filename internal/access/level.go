package access

import "strconv"

// Level is the permission mask attached to a page.
type Level int

const (
	// Public pages are served without asking the device anything.
	Public Level = -1
	// Forbidden carries no role bit, so every real session fails it.
	Forbidden Level = 128
)

// Admits reports whether a session with the given role bits may open a page
// guarded by l. The session must be fully contained in the mask.
func (l Level) Admits(session int) bool {
	return session == session&int(l)
}

func (l Level) String() string {
	switch l {
	case Public:
		return "public"
	case Forbidden:
		return "forbidden"
	default:
		return strconv.Itoa(int(l))
	}
}
