package job

import (
	"jobexecutor/pkg/cloudevent"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the executor.
const (
	EventTypeRunFailed = "executor.run.failed"
	AlarmTypeJobFail   = "JOB_FAIL"
)

const alarmTimeFormat = "2006-01-02T15:04:05Z"

// AlarmEventBuilder builds failure alarm events for one executor instance.
type AlarmEventBuilder struct {
	source  string
	address string
}

// NewAlarmEventBuilder creates a builder. address identifies this executor
// in the alarm body.
func NewAlarmEventBuilder(source, address string) *AlarmEventBuilder {
	return &AlarmEventBuilder{source: source, address: address}
}

// BuildFailure creates the alarm event for a failed invocation.
func (b *AlarmEventBuilder) BuildFailure(inv Invocation, runName string, triggered, finished time.Time, outcome Outcome) *cloudevent.CloudEvent {
	data := map[string]any{
		"alarmType": AlarmTypeJobFail,
		"timestamp": finished.UTC().Format(alarmTimeFormat),
		"jobInfo": map[string]any{
			"jobId": inv.JobID,
		},
		"logInfo": map[string]any{
			"logId":           inv.LogID,
			"executorAddress": b.address,
			"executorHandler": inv.Handler,
			"executorParam":   inv.Param,
			"triggerTime":     triggered.UTC().Format(alarmTimeFormat),
			"handleTime":      finished.UTC().Format(alarmTimeFormat),
			"handleCode":      string(outcome.State),
			"handleMsg":       outcome.Reason,
			"runName":         runName,
		},
	}
	return cloudevent.New(EventTypeRunFailed, b.source, runSubject(inv, runName), uuid.NewString(), finished, data)
}

func runSubject(inv Invocation, runName string) string {
	if runName != "" {
		return runName
	}
	return RunNamePrefix + "-" + strconv.FormatInt(inv.JobID, 10)
}
