package domain

// DeviceType classifies the visitor's device.
type DeviceType string

// Device type constants
const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

// Traffic source constants
const (
	TrafficDirect   = "direct"
	TrafficSearch   = "search"
	TrafficSocial   = "social"
	TrafficReferral = "referral"
)

// Returning/new segment tags
const (
	TagReturning = "returning"
	TagNew       = "new"
)

// VisitorSegment is the derived classification of the current visitor.
// It is session-scoped: only the deterministic assignment hash carries
// identity across sessions.
type VisitorSegment struct {
	Fingerprint   string     `json:"fingerprint"`
	DeviceType    DeviceType `json:"device_type"`
	TrafficSource string     `json:"traffic_source"`
	IsReturning   bool       `json:"is_returning"`
	SessionStart  int64      `json:"session_start"` // unix ms
}

// Tags returns the segment tags this visitor matches, used by eligibility
// filtering against an experiment's target segments.
func (s VisitorSegment) Tags() []string {
	returning := TagNew
	if s.IsReturning {
		returning = TagReturning
	}
	return []string{string(s.DeviceType), returning, s.TrafficSource}
}
