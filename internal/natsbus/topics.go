package natsbus

import "strings"

const topicExecutionPrefix = "events.execution."

// TopicExecutionAll matches the channel events of every configuration.
const TopicExecutionAll = topicExecutionPrefix + ">"

// TopicExecution carries the channel events of one configuration.
func TopicExecution(configID string) string {
	return topicExecutionPrefix + configID
}

// ConfigIDFromTopic extracts the configuration id from an execution topic.
func ConfigIDFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, topicExecutionPrefix)
	return id, ok && id != ""
}
