package kubernetes

import (
	"context"
	"encoding/json"
	"io"
	"jobexecutor/internal/apperrors"
	"jobexecutor/internal/job"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAPI is a tiny in-memory API server for deployments, jobs and pods.
type fakeAPI struct {
	mu          sync.Mutex
	deployments map[string]Deployment
	jobs        map[string]Job
	pods        []Pod
	logs        map[string]string
	status      map[string]int // forced status code per path
	requests    []*http.Request
	bodies      []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		deployments: make(map[string]Deployment),
		jobs:        make(map[string]Job),
		logs:        make(map[string]string),
		status:      make(map[string]int),
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, string(body))

	if code, ok := f.status[r.URL.Path]; ok {
		http.Error(w, `{"kind":"Status","message":"forced"}`, code)
		return
	}
	if r.Header.Get("Authorization") != "Bearer test-token" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/version":
		writeJSON(w, map[string]string{"gitVersion": "v1.30.0"})
	case len(parts) == 6 && parts[4] == "deployments":
		d, ok := f.deployments[parts[5]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, d)
	case len(parts) == 5 && parts[4] == "jobs" && r.Method == http.MethodPost:
		var j Job
		_ = json.Unmarshal(body, &j)
		if _, exists := f.jobs[j.Metadata.Name]; exists {
			http.Error(w, "exists", http.StatusConflict)
			return
		}
		f.jobs[j.Metadata.Name] = j
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, j)
	case len(parts) == 6 && parts[4] == "jobs":
		j, ok := f.jobs[parts[5]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, j)
	case len(parts) == 5 && parts[4] == "pods":
		writeJSON(w, PodList{Items: f.pods})
	case len(parts) == 7 && parts[4] == "pods" && parts[6] == "log":
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, f.logs[parts[5]])
	default:
		http.NotFound(w, r)
	}
}

// with runs fn under the server lock.
func (f *fakeAPI) with(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func setup(t *testing.T) (*fakeAPI, *Orchestrator) {
	t.Helper()
	api := newFakeAPI()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return api, NewOrchestrator(NewClient(server.URL, "default", "test-token", server.Client()))
}

func testIdentity() job.RunIdentity {
	return job.NewRunIdentity(42, "batch", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestDescribeWorkload(t *testing.T) {
	t.Parallel()
	api, o := setup(t)
	api.with(func() {
		api.deployments["report"] = Deployment{
			Metadata: ObjectMeta{Name: "report"},
			Spec: DeploymentSpec{Template: &PodTemplateSpec{Spec: PodSpec{Containers: []Container{
				{Name: "app", Image: "acme/report:2", Env: []EnvVar{
					{Name: "MODE", Value: "batch"},
					{Name: "TOKEN", ValueFrom: json.RawMessage(`{"secretKeyRef":{"name":"s","key":"k"}}`)},
				}},
				{Name: "sidecar", Image: "envoy"},
			}}}},
		}
		api.deployments["empty"] = Deployment{Metadata: ObjectMeta{Name: "empty"}}
	})

	spec, err := o.DescribeWorkload(context.Background(), "batch", "report")
	if err != nil {
		t.Fatalf("DescribeWorkload() error: %v", err)
	}
	if spec.Image != "acme/report:2" || spec.Name != "app" || len(spec.Env) != 2 {
		t.Errorf("Unexpected spec %+v", spec)
	}
	if !strings.Contains(string(spec.Env[1].ValueFrom), "secretKeyRef") {
		t.Errorf("valueFrom not carried: %s", spec.Env[1].ValueFrom)
	}

	tests := []string{"missing", "empty"}
	for _, ref := range tests {
		_, err := o.DescribeWorkload(context.Background(), "batch", ref)
		if apperrors.KindOf(err) != apperrors.KindNotFound {
			t.Errorf("DescribeWorkload(%q) = %v, want NotFound", ref, err)
		}
	}
}

func TestCreateRun(t *testing.T) {
	t.Parallel()
	api, o := setup(t)
	id := testIdentity()

	err := o.CreateRun(context.Background(), id, job.RunSpec{
		JobID:                   42,
		Args:                    []string{"--date", "2024-01-01"},
		TTLSecondsAfterFinished: 3600,
		BackoffLimit:            3,
	}, job.ContainerSpec{Image: "acme/report:2", Env: []job.EnvVar{{Name: "MODE", Value: "batch"}}})
	if err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}

	var created Job
	var ok bool
	var lastBody string
	api.with(func() {
		created, ok = api.jobs[id.Name]
		lastBody = api.bodies[len(api.bodies)-1]
	})
	if !ok {
		t.Fatalf("Job %s not created", id.Name)
	}
	if created.APIVersion != "batch/v1" || created.Kind != "Job" || created.Metadata.Namespace != "batch" {
		t.Errorf("Unexpected type meta %+v", created)
	}
	if created.Metadata.Labels[LabelJobID] != "42" {
		t.Errorf("Unexpected labels %v", created.Metadata.Labels)
	}
	if created.Spec.Template.Metadata.Labels[LabelRun] != "true" {
		t.Errorf("Unexpected pod labels %v", created.Spec.Template.Metadata.Labels)
	}
	if *created.Spec.BackoffLimit != 3 || *created.Spec.TTLSecondsAfterFinished != 3600 {
		t.Errorf("Unexpected limits %+v", created.Spec)
	}
	pod := created.Spec.Template.Spec
	if pod.RestartPolicy != "Never" || len(pod.Containers) != 1 {
		t.Fatalf("Unexpected pod spec %+v", pod)
	}
	c := pod.Containers[0]
	if c.Name != ContainerName || c.Image != "acme/report:2" || len(c.Command) != 0 || len(c.Args) != 2 {
		t.Errorf("Unexpected container %+v", c)
	}
	if strings.Contains(lastBody, `"command"`) {
		t.Error("empty command should be omitted so the image entrypoint is kept")
	}

	// Creation is not idempotent.
	err = o.CreateRun(context.Background(), id, job.RunSpec{}, job.ContainerSpec{Image: "x"})
	if err == nil {
		t.Fatal("Expected conflict on second create")
	}
}

func TestRunStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    JobStatus
		wantPhase job.RunPhase
		wantMsg   string
	}{
		{"pending", JobStatus{}, job.PhaseActive, ""},
		{"active", JobStatus{Active: 1}, job.PhaseActive, ""},
		{"retrying after pod failure", JobStatus{Active: 1, Failed: 1}, job.PhaseActive, ""},
		{"complete", JobStatus{Succeeded: 1, Conditions: []JobCondition{{Type: "Complete", Status: "True"}}}, job.PhaseSucceeded, ""},
		{"succeeded counter only", JobStatus{Succeeded: 1}, job.PhaseSucceeded, ""},
		{"failed", JobStatus{Failed: 4, Conditions: []JobCondition{{Type: "Failed", Status: "True", Reason: "BackoffLimitExceeded", Message: "Job has reached the specified backoff limit"}}}, job.PhaseFailed, "BackoffLimitExceeded: Job has reached the specified backoff limit"},
		{"condition not true", JobStatus{Active: 1, Conditions: []JobCondition{{Type: "Failed", Status: "False"}}}, job.PhaseActive, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api, o := setup(t)
			id := testIdentity()
			api.with(func() { api.jobs[id.Name] = Job{Metadata: ObjectMeta{Name: id.Name}, Status: tt.status} })

			status, err := o.RunStatus(context.Background(), id)
			if err != nil {
				t.Fatalf("RunStatus() error: %v", err)
			}
			if status.Phase != tt.wantPhase || status.Message != tt.wantMsg {
				t.Errorf("RunStatus() = %+v", status)
			}
			if status.Running != tt.status.Active || status.Failed != tt.status.Failed {
				t.Errorf("counters not carried: %+v", status)
			}
		})
	}
}

func TestRunStatus_ErrorKinds(t *testing.T) {
	t.Parallel()
	id := testIdentity()
	path := "/apis/batch/v1/namespaces/batch/jobs/" + id.Name

	tests := []struct {
		name      string
		code      int
		wantErr   bool
		wantKind  apperrors.Kind
		wantPhase job.RunPhase
	}{
		{"missing job is a status", 0, false, 0, job.PhaseNotFound},
		{"server error", http.StatusServiceUnavailable, true, apperrors.KindTransient, 0},
		{"throttled", http.StatusTooManyRequests, true, apperrors.KindTransient, 0},
		{"forbidden", http.StatusForbidden, true, apperrors.KindFatal, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api, o := setup(t)
			if tt.code != 0 {
				api.with(func() { api.status[path] = tt.code })
			}

			status, err := o.RunStatus(context.Background(), id)
			if tt.wantErr {
				if got := apperrors.KindOf(err); got != tt.wantKind {
					t.Errorf("KindOf() = %v, want %v (%v)", got, tt.wantKind, err)
				}
				return
			}
			if err != nil || status.Phase != tt.wantPhase {
				t.Errorf("RunStatus() = %+v, %v", status, err)
			}
		})
	}
}

func TestFindRunUnitAndFetchOutput(t *testing.T) {
	t.Parallel()
	api, o := setup(t)
	id := testIdentity()

	unit, err := o.FindRunUnit(context.Background(), id)
	if err != nil || unit != nil {
		t.Fatalf("FindRunUnit() before scheduling = %v, %v", unit, err)
	}

	older := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	newer := older.Add(time.Minute)
	api.with(func() {
		api.pods = []Pod{
			{Metadata: ObjectMeta{Name: "pod-old", CreationTimestamp: &older}, Status: PodStatus{Phase: "Failed"}},
			{Metadata: ObjectMeta{Name: "pod-new", CreationTimestamp: &newer}, Status: PodStatus{Phase: "Running"}},
		}
		api.logs["pod-new"] = "line 1\nline 2\n"
	})

	unit, err = o.FindRunUnit(context.Background(), id)
	if err != nil || unit == nil {
		t.Fatalf("FindRunUnit() = %v, %v", unit, err)
	}
	if unit.Name != "pod-new" || unit.Phase != job.UnitRunning {
		t.Errorf("Unexpected unit %+v", unit)
	}

	out, err := o.FetchOutput(context.Background(), id, *unit, 3)
	if err != nil {
		t.Fatalf("FetchOutput() error: %v", err)
	}
	if out != "line 1\nline 2\n" {
		t.Errorf("FetchOutput() = %q", out)
	}

	var listQuery, logQuery string
	api.with(func() {
		for _, r := range api.requests {
			switch {
			case strings.HasSuffix(r.URL.Path, "/pods"):
				listQuery = r.URL.Query().Get("labelSelector")
			case strings.HasSuffix(r.URL.Path, "/log"):
				logQuery = r.URL.RawQuery
			}
		}
	})
	if listQuery != "job-name="+id.Name {
		t.Errorf("labelSelector = %q", listQuery)
	}
	if !strings.Contains(logQuery, "sinceSeconds=3") || !strings.Contains(logQuery, "container="+ContainerName) {
		t.Errorf("log query = %q", logQuery)
	}
}

func TestNewestFirst(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := t0.Add(d)
		return &ts
	}
	pod := func(name string, created *time.Time) Pod {
		return Pod{Metadata: ObjectMeta{Name: name, CreationTimestamp: created}}
	}

	tests := []struct {
		name string
		pods []Pod
		want []string
	}{
		{
			name: "newest first",
			pods: []Pod{pod("a", at(0)), pod("c", at(2*time.Minute)), pod("b", at(time.Minute))},
			want: []string{"c", "b", "a"},
		},
		{
			name: "unstamped last",
			pods: []Pod{pod("pending", nil), pod("old", at(0)), pod("new", at(time.Minute))},
			want: []string{"new", "old", "pending"},
		},
		{
			name: "unstamped keep list order",
			pods: []Pod{pod("x", nil), pod("stamped", at(0)), pod("y", nil)},
			want: []string{"stamped", "x", "y"},
		},
		{
			name: "equal stamps keep list order",
			pods: []Pod{pod("first", at(0)), pod("second", at(0))},
			want: []string{"first", "second"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pods := slices.Clone(tt.pods)
			slices.SortStableFunc(pods, newestFirst)
			var got []string
			for _, p := range pods {
				got = append(got, p.Metadata.Name)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("order = %v, want %v", got, tt.want)
			}
			for i := range tt.pods {
				if c := newestFirst(tt.pods[i], tt.pods[i]); c != 0 {
					t.Errorf("newestFirst(%s, %s) = %d, want 0", tt.pods[i].Metadata.Name, tt.pods[i].Metadata.Name, c)
				}
				for j := range tt.pods {
					if newestFirst(tt.pods[i], tt.pods[j]) != -newestFirst(tt.pods[j], tt.pods[i]) {
						t.Errorf("newestFirst not antisymmetric for %s, %s", tt.pods[i].Metadata.Name, tt.pods[j].Metadata.Name)
					}
				}
			}
		})
	}
}

func TestFindRunUnit_UnstampedPodNotChosen(t *testing.T) {
	t.Parallel()
	api, o := setup(t)

	created := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	api.with(func() {
		api.pods = []Pod{
			{Metadata: ObjectMeta{Name: "pod-pending"}, Status: PodStatus{Phase: "Pending"}},
			{Metadata: ObjectMeta{Name: "pod-running", CreationTimestamp: &created}, Status: PodStatus{Phase: "Running"}},
		}
	})

	unit, err := o.FindRunUnit(context.Background(), testIdentity())
	if err != nil || unit == nil {
		t.Fatalf("FindRunUnit() = %v, %v", unit, err)
	}
	if unit.Name != "pod-running" {
		t.Errorf("unit = %q, want pod-running", unit.Name)
	}
}

func TestReady(t *testing.T) {
	t.Parallel()
	api, o := setup(t)

	if err := o.Ready(context.Background()); err != nil {
		t.Errorf("Ready() error: %v", err)
	}
	api.with(func() { api.status["/version"] = http.StatusBadGateway })
	if err := o.Ready(context.Background()); err == nil {
		t.Error("Expected Ready() to fail")
	}
}

func TestClient_Unauthorized(t *testing.T) {
	t.Parallel()
	api := newFakeAPI()
	server := httptest.NewServer(api)
	defer server.Close()

	c := NewClient(server.URL, "default", "wrong", server.Client())
	_, err := c.GetJob(context.Background(), "", "x")
	if apperrors.KindOf(err) != apperrors.KindFatal {
		t.Errorf("Expected fatal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "status=401") {
		t.Errorf("Expected status in message, got %q", err.Error())
	}
}

func TestClient_Unreachable(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(url, "default", "t", nil)
	_, err := c.GetJob(context.Background(), "", "x")
	if apperrors.KindOf(err) != apperrors.KindTransient {
		t.Errorf("Expected transient error, got %v", err)
	}
}
