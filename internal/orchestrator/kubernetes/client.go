package kubernetes

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"jobexecutor/internal/apperrors"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultTokenFile     = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	defaultNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
	defaultCAFile        = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"

	tokenRefresh = time.Minute
	maxBody      = 4 << 20
)

// APIError is a non-2xx response from the API server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("kubernetes api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("kubernetes api error (status=%d): %s", e.StatusCode, body)
}

// Client is a minimal Kubernetes REST client authenticated with a bearer token.
type Client struct {
	baseURL   string
	namespace string
	token     func() (string, error)
	http      *http.Client
}

// NewInClusterClient builds a client from the pod's service account. apiURL
// overrides the API server address derived from KUBERNETES_SERVICE_HOST.
func NewInClusterClient(apiURL string) (*Client, error) {
	if apiURL == "" {
		apiURL = "https://kubernetes.default.svc"
		if host := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_HOST")); host != "" {
			port := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_PORT"))
			if port == "" {
				port = "443"
			}
			apiURL = "https://" + host + ":" + port
		}
	}

	namespaceBytes, err := os.ReadFile(defaultNamespaceFile)
	if err != nil {
		return nil, fmt.Errorf("read serviceaccount namespace: %w", err)
	}
	namespace := strings.TrimSpace(string(namespaceBytes))

	caBytes, err := os.ReadFile(defaultCAFile)
	if err != nil {
		return nil, fmt.Errorf("read serviceaccount ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, errors.New("invalid serviceaccount ca bundle")
	}

	tokens := &tokenFile{path: defaultTokenFile}
	if _, err := tokens.get(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: 30 * time.Second,
	}
	return newClient(apiURL, namespace, tokens.get, httpClient), nil
}

// NewClient builds a client with a static token, for out-of-cluster use.
func NewClient(baseURL, namespace, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return newClient(baseURL, namespace, func() (string, error) { return token, nil }, httpClient)
}

func newClient(baseURL, namespace string, token func() (string, error), httpClient *http.Client) *Client {
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		namespace: namespace,
		token:     token,
		http:      httpClient,
	}
}

// Namespace returns the client's default namespace.
func (c *Client) Namespace() string {
	return c.namespace
}

func (c *Client) ns(namespace string) string {
	if namespace = strings.TrimSpace(namespace); namespace != "" {
		return namespace
	}
	return c.namespace
}

// GetDeployment reads a Deployment.
func (c *Client) GetDeployment(ctx context.Context, namespace, name string) (*Deployment, error) {
	path := fmt.Sprintf("/apis/apps/v1/namespaces/%s/deployments/%s", url.PathEscape(c.ns(namespace)), url.PathEscape(name))
	var out Deployment
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, "deployment", name); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateJob creates a batch/v1 Job.
func (c *Client) CreateJob(ctx context.Context, namespace string, job Job) error {
	namespace = c.ns(namespace)
	job.APIVersion = "batch/v1"
	job.Kind = "Job"
	job.Metadata.Namespace = namespace

	path := fmt.Sprintf("/apis/batch/v1/namespaces/%s/jobs", url.PathEscape(namespace))
	return c.doJSON(ctx, http.MethodPost, path, job, nil, "job", job.Metadata.Name)
}

// GetJob reads a batch/v1 Job including its status.
func (c *Client) GetJob(ctx context.Context, namespace, name string) (*Job, error) {
	path := fmt.Sprintf("/apis/batch/v1/namespaces/%s/jobs/%s", url.PathEscape(c.ns(namespace)), url.PathEscape(name))
	var out Job
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, "job", name); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPods lists pods matching a label selector.
func (c *Client) ListPods(ctx context.Context, namespace, labelSelector string) ([]Pod, error) {
	q := url.Values{}
	q.Set("labelSelector", labelSelector)
	path := fmt.Sprintf("/api/v1/namespaces/%s/pods?%s", url.PathEscape(c.ns(namespace)), q.Encode())
	var out PodList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, "pods", labelSelector); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// PodLog reads the log of one container of a pod. sinceSeconds <= 0 reads
// the whole log.
func (c *Client) PodLog(ctx context.Context, namespace, pod, container string, sinceSeconds int) (string, error) {
	q := url.Values{}
	if container != "" {
		q.Set("container", container)
	}
	if sinceSeconds > 0 {
		q.Set("sinceSeconds", strconv.Itoa(sinceSeconds))
	}
	path := fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/log", url.PathEscape(c.ns(namespace)), url.PathEscape(pod))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, path, nil, "*/*", "pod", pod)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Version reads /version; used as a readiness check.
func (c *Client) Version(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/version", nil, "application/json", "version", "")
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, resource, name string) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.Internal("kubernetes.marshal", err)
		}
		body = bytes.NewReader(data)
	}
	data, err := c.do(ctx, method, path, body, "application/json", resource, name)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Internal("kubernetes.decode", fmt.Errorf("decode %s response: %w", resource, err))
	}
	return nil
}

// do performs one request and maps failures onto error kinds: 404 is
// NotFound, 409 Conflict, 429/5xx and transport failures Transient,
// everything else fatal.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, accept, resource, name string) ([]byte, error) {
	op := "kubernetes." + strings.ToLower(method) + "." + resource

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.token()
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Transient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, apperrors.Transient(op, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NotFound(resource, name)
	case resp.StatusCode == http.StatusConflict:
		return nil, apperrors.Conflict(resource, name, (&APIError{StatusCode: resp.StatusCode, Body: string(data)}).Error())
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, apperrors.Transient(op, &APIError{StatusCode: resp.StatusCode, Body: string(data)})
	default:
		return nil, apperrors.Internal(op, &APIError{StatusCode: resp.StatusCode, Body: string(data)})
	}
}

// tokenFile rereads a projected service account token, which the kubelet
// rotates on disk.
type tokenFile struct {
	path string

	mu     sync.Mutex
	token  string
	readAt time.Time
}

func (t *tokenFile) get() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Since(t.readAt) < tokenRefresh {
		return t.token, nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		if t.token != "" {
			return t.token, nil
		}
		return "", fmt.Errorf("read serviceaccount token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errors.New("serviceaccount token is empty")
	}
	t.token, t.readAt = token, time.Now()
	return token, nil
}
