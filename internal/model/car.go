package model

type Car struct {
	ID            int          `json:"id"`
	Name          string       `json:"name"`
	PlatformHwID  int          `json:"platformHwId"`
	CarAdminPhone *MobilePhone `json:"carAdminPhone,omitempty"`
	UnderTest     bool         `json:"underTest"`
}

// AdminPhone returns the admin phone number or an empty string.
func (c Car) AdminPhone() string {
	if c.CarAdminPhone == nil {
		return ""
	}
	return c.CarAdminPhone.Phone
}
