package bus

import "strings"

// Canonical topic names and patterns shared by every publisher and
// subscriber, so components never hand-assemble strings in more than
// one place.
const (
	TopicSatelliteAlerts  = "satellite/alerts"
	TopicDetections       = "detections"
	TopicInferenceResults = "inference/results"
)

// UAVTelemetryTopic returns the telemetry topic for a specific UAV.
func UAVTelemetryTopic(uavID string) string { return "uav/" + uavID + "/telemetry" }

// UAVTelemetryPattern is the subscribe pattern matching every UAV's
// telemetry topic.
const UAVTelemetryPattern = "uav/+/telemetry"

// UAVCommandTopic returns the command topic for a specific UAV.
func UAVCommandTopic(uavID string) string { return "commands/" + uavID }

// UAVStatusTopic returns the connectivity-status topic for a specific UAV.
func UAVStatusTopic(uavID string) string { return "uav/" + uavID + "/status" }

// UAVStatusPattern is the subscribe pattern matching every UAV's
// connectivity-status topic.
const UAVStatusPattern = "uav/+/status"

// MatchTopic reports whether topic satisfies pattern, where a single
// "+" segment in pattern matches exactly one "/"-delimited segment of
// topic (MQTT-style single-level wildcard); "*" is not supported since
// no caller needs multi-level matching.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(topic, "/")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, p := range pSegs {
		if p == "+" {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return true
}
