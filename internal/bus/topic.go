package bus

import "fmt"

// TopicScheme builds session topics of the form
// {version}/{namespace}/room/{room_id}/session/{session_id}/{event_type}.
// It is the single place the schema lives; every publisher shares one
// scheme so call sites cannot drift.
//
// Versions is the list of active topic versions. During a schema
// migration the list carries both versions and publishers dual-publish;
// ending the migration window is a config change, not a code change.
type TopicScheme struct {
	Namespace string
	Versions  []string
}

// Topic renders one topic for a specific version.
func (s TopicScheme) Topic(version, roomID, sessionID string, event EventType) string {
	return fmt.Sprintf("%s/%s/room/%s/session/%s/%s", version, s.Namespace, roomID, sessionID, event)
}

// Topics renders the topic under every active version, in configuration
// order.
func (s TopicScheme) Topics(roomID, sessionID string, event EventType) []string {
	topics := make([]string, 0, len(s.Versions))
	for _, v := range s.Versions {
		topics = append(topics, s.Topic(v, roomID, sessionID, event))
	}
	return topics
}
