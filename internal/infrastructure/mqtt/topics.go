package mqtt

import "strings"

// availabilitySuffix is appended to the bridge status topic to form the
// availability topic carrying the online/offline marker and the Last Will.
const availabilitySuffix = "/availability"

// Availability payloads, compatible with Home Assistant's availability_topic
// defaults.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// AvailabilityTopic returns the availability topic derived from the status topic.
//
// Example: battery/status -> battery/status/availability
func AvailabilityTopic(statusTopic string) string {
	return strings.TrimSuffix(statusTopic, "/") + availabilitySuffix
}

// validPublishTopic reports whether topic can be published to.
// Wildcards are only meaningful in subscriptions.
func validPublishTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}

// validFilter reports whether filter is a well-formed subscription filter:
// "#" only as the last level, "+" only as a whole level.
func validFilter(filter string) bool {
	if filter == "" {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return false
		}
		if strings.Contains(level, "+") && level != "+" {
			return false
		}
	}
	return true
}
