package login

import (
	"context"
	"fmt"

	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

// Identity is what the device says about itself before anyone logs in.
type Identity struct {
	Operator        string `json:"operator"`
	SerialNumber    string `json:"serial_number"`
	AreaCode        string `json:"area_code"`
	DefaultPassword string `json:"-"`
	Model           string `json:"model"`
}

// FetchIdentity reads get_operator and get_device_name. A device that does
// not name its operator gets the default behaviour everywhere.
func FetchIdentity(ctx context.Context, g xhr.Getter) (Identity, error) {
	var id Identity
	op, err := g.Get(ctx, "get_operator", nil)
	if err != nil {
		return id, fmt.Errorf("get_operator: %w", err)
	}
	if op.Has("operator_name") {
		id.Operator = op.String("operator_name")
		id.SerialNumber = op.String("SerialNumber")
		id.AreaCode = op.String("area_code")
		id.DefaultPassword = defaultPassword(id.SerialNumber)
	}

	dev, err := g.Get(ctx, "get_device_name", nil)
	if err != nil {
		return id, fmt.Errorf("get_device_name: %w", err)
	}
	id.Model = dev.String("ModelName")
	return id, nil
}

// defaultPassword is the last eight characters of the serial number.
func defaultPassword(sn string) string {
	if len(sn) <= 8 {
		return sn
	}
	return sn[len(sn)-8:]
}
