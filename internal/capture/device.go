package capture

import "strings"

// Facing modes understood by browser camera APIs.
const (
	FacingEnvironment = "environment"
	FacingUser        = "user"
)

const (
	idealWidth  = 640
	idealHeight = 480
)

var mobileMarkers = []string{
	"Android", "webOS", "iPhone", "iPad", "iPod", "BlackBerry", "IEMobile", "Opera Mini",
}

// IsMobile classifies a user agent as handheld by substring match.
func IsMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// PreferredFacingMode picks the rear camera on handheld devices.
func PreferredFacingMode(userAgent string) string {
	if IsMobile(userAgent) {
		return FacingEnvironment
	}
	return FacingUser
}

// Constraints describes how a client should open its camera.
type Constraints struct {
	FacingMode  string `json:"facing_mode"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	CanSwitch   bool   `json:"can_switch"`
	JPEGQuality int    `json:"jpeg_quality"`
}

// CameraConstraints returns capture hints for a client. Device switching is
// offered only to handheld devices with more than one camera.
func CameraConstraints(userAgent string, deviceCount, quality int) Constraints {
	return Constraints{
		FacingMode:  PreferredFacingMode(userAgent),
		Width:       idealWidth,
		Height:      idealHeight,
		CanSwitch:   IsMobile(userAgent) && deviceCount > 1,
		JPEGQuality: quality,
	}
}

// NextDevice returns the device after current, wrapping around. An unknown
// current device yields the first one.
func NextDevice(devices []string, current string) string {
	if len(devices) == 0 {
		return ""
	}
	for i, d := range devices {
		if d == current {
			return devices[(i+1)%len(devices)]
		}
	}
	return devices[0]
}
