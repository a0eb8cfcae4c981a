package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunNamePrefix prefixes every generated run name.
const RunNamePrefix = "job"

// Invocation is one scheduled-job trigger delivered to the executor.
type Invocation struct {
	JobID          int64  `json:"jobId"`
	LogID          int64  `json:"logId"`
	Handler        string `json:"handler"`
	Param          string `json:"param"`
	JobParam       string `json:"jobParam,omitempty"` // Value for ${jobParam}; defaults to Param
	ShardIndex     int    `json:"shardIndex"`
	ShardTotal     int    `json:"shardTotal"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"` // Overrides the monitor's maximum wait
}

// TemplateParam returns the value substituted for ${jobParam}.
func (i Invocation) TemplateParam() string {
	if i.JobParam != "" {
		return i.JobParam
	}
	return i.Param
}

// RunIdentity names one external run. It is created once per invocation.
type RunIdentity struct {
	Name         string
	Namespace    string
	JobID        int64
	CreationTime time.Time
}

// NewRunIdentity derives the run name from the job id and creation time.
// The creation time is truncated to milliseconds so that the stored time
// and the name carry the same information.
func NewRunIdentity(jobID int64, namespace string, now time.Time) RunIdentity {
	created := now.Truncate(time.Millisecond)
	return RunIdentity{
		Name:         fmt.Sprintf("%s-%d-%d", RunNamePrefix, jobID, created.UnixMilli()),
		Namespace:    namespace,
		JobID:        jobID,
		CreationTime: created,
	}
}

// RunPhase tags a RunStatus.
type RunPhase int

const (
	PhaseActive RunPhase = iota + 1
	PhaseSucceeded
	PhaseFailed
	PhaseNotFound
)

func (p RunPhase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// RunStatus is a single observation of a run. NotFound means the
// orchestrator has no record of the run, which is not the same as Failed.
type RunStatus struct {
	Phase     RunPhase
	Running   int32
	Succeeded int32
	Failed    int32
	Message   string
}

// Active returns an in-progress status with the given running replica count.
func Active(running int32) RunStatus {
	return RunStatus{Phase: PhaseActive, Running: running}
}

// Succeeded returns a completed status.
func Succeeded() RunStatus {
	return RunStatus{Phase: PhaseSucceeded}
}

// Failed returns a failed status with an optional orchestrator message.
func Failed(message string) RunStatus {
	return RunStatus{Phase: PhaseFailed, Message: message}
}

// NotFound returns the status for a run the orchestrator does not know.
func NotFound() RunStatus {
	return RunStatus{Phase: PhaseNotFound}
}

// EnvVar is a container environment entry. ValueFrom carries an
// orchestrator-native reference (secret, field ref) verbatim.
type EnvVar struct {
	Name      string          `json:"name"`
	Value     string          `json:"value,omitempty"`
	ValueFrom json.RawMessage `json:"valueFrom,omitempty"`
}

// ContainerSpec is the part of a workload template that a run clones.
type ContainerSpec struct {
	Name  string
	Image string
	Env   []EnvVar
}

// RunSpec is the resolved, per-invocation part of a run.
type RunSpec struct {
	JobID                   int64
	Command                 []string
	Args                    []string
	TTLSecondsAfterFinished int32
	BackoffLimit            int32
}

// UnitPhase is the lifecycle phase of an execution unit (pod, container).
type UnitPhase string

const (
	UnitPending   UnitPhase = "Pending"
	UnitRunning   UnitPhase = "Running"
	UnitSucceeded UnitPhase = "Succeeded"
	UnitFailed    UnitPhase = "Failed"
	UnitUnknown   UnitPhase = ""
)

// UnitRef points at the execution unit backing a run.
type UnitRef struct {
	Name  string
	Phase UnitPhase
}

// HasOutput reports whether the unit is in a phase whose output can be read.
func (u UnitRef) HasOutput() bool {
	switch u.Phase {
	case UnitRunning, UnitSucceeded, UnitFailed:
		return true
	default:
		return false
	}
}

// State is the terminal state of an invocation.
type State string

const (
	StateSucceeded        State = "succeeded"
	StateAssumedSucceeded State = "assumed_succeeded"
	StateFailed           State = "failed"
	StateTimedOut         State = "timed_out"
	StateCancelled        State = "cancelled"
	StateConfigError      State = "config_error"
	StateDescribeError    State = "describe_error"
	StateCreateError      State = "create_error"
)

// Success reports whether the state is reported to the scheduler as success.
func (s State) Success() bool {
	return s == StateSucceeded || s == StateAssumedSucceeded
}

// Outcome is the verdict returned to the scheduler.
type Outcome struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
	Run    string `json:"run,omitempty"` // Run name, empty if no run was created
}

// Success reports whether the outcome counts as success.
func (o Outcome) Success() bool {
	return o.State.Success()
}
