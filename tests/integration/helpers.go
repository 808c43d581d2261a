package integration

import (
	"time"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/pkg/models"
)

const (
	containerStartupTimeout = 60
	timestampDelay          = 10 * time.Millisecond
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestRetryConfig() config.RetryQueueConfig {
	return config.RetryQueueConfig{
		MaxAttempts:   5,
		BaseDelay:     30 * time.Second,
		MaxDelay:      time.Hour,
		SweepInterval: time.Second,
		SweepBatch:    100,
		Workers:       4,
	}
}

func createTestRule(name, eventType string, actions ...rules.ActionSpec) rules.CreateRuleRequest {
	if len(actions) == 0 {
		actions = []rules.ActionSpec{
			{Kind: rules.ActionKindTag, Tag: &rules.TagConfig{Tag: "test"}},
		}
	}
	return rules.CreateRuleRequest{
		Name:    name,
		Trigger: rules.TriggerSpec{Kind: models.StimulusKindEvent, EventType: eventType},
		Actions: actions,
	}
}

func createTestStimulus(tenantID, eventType string, payload map[string]interface{}) models.Stimulus {
	return models.NewEventStimulus(tenantID, eventType, payload, time.Now())
}
