package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicMinionInput(minionID string) string {
	return fmt.Sprintf("minion.%s.input", minionID)
}

func TopicMinionOutput(minionID string) string {
	return fmt.Sprintf("minion.%s.output", minionID)
}

func TopicMinionControl(minionID string) string {
	return fmt.Sprintf("minion.%s.control", minionID)
}

func TopicTool(minionID string) string {
	return fmt.Sprintf("host.tool.%s", minionID)
}

func TopicEventsLegion(legionID string) string {
	return fmt.Sprintf("events.legion.%s", legionID)
}

const (
	TopicEventsAll       = "events.>"
	TopicMinionOutputAll = "minion.*.output"
	TopicToolAll         = "host.tool.*"
)
