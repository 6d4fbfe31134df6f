// Package client provides a Go SDK for the agent-comms HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/SikeGottem/agent-comms/pkg/models"
)

// Client calls the agent-comms HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3560"
	APIKey     string       // optional; sent as X-API-Key
	Agent      string       // optional; sent as X-Agent-Id and used as the default actor
	Token      string       // optional; sent as Authorization: Bearer
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:3560").
// APIKey is optional; when set, requests carry the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

// APIError is a non-2xx response. State carries any extra fields the server
// returned with the error (e.g. locked_by on a lock conflict).
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
	State   map[string]any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("api %s %s: status %d", e.Method, e.Path, e.Status)
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if c.Agent != "" {
		req.Header.Set("X-Agent-Id", c.Agent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}
		var errBody map[string]any
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil {
			if msg, ok := errBody["error"].(string); ok {
				apiErr.Message = msg
				delete(errBody, "error")
			}
			if len(errBody) > 0 {
				apiErr.State = errBody
			}
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// agentOr returns id, or the client's default agent.
func (c *Client) agentOr(id string) string {
	if id != "" {
		return id
	}
	return c.Agent
}

// Health returns the /health response.
func (c *Client) Health(ctx context.Context) (*models.Health, error) {
	var out models.Health
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return &out, err
}

// --- Agents ---

// RegisterAgent registers or refreshes an agent.
func (c *Client) RegisterAgent(ctx context.Context, in models.RegisterAgent) (*models.Agent, error) {
	in.ID = c.agentOr(in.ID)
	var out models.Agent
	err := c.doJSON(ctx, http.MethodPost, "/agents/register", in, &out)
	return &out, err
}

// ListAgents returns every registered agent with its online flag.
func (c *Client) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var out []models.Agent
	err := c.doJSON(ctx, http.MethodGet, "/agents", nil, &out)
	return out, err
}

// Heartbeat marks the agent as seen.
func (c *Client) Heartbeat(ctx context.Context, agent string) error {
	return c.doJSON(ctx, http.MethodPost, "/agents/"+url.PathEscape(c.agentOr(agent))+"/heartbeat", nil, nil)
}

// --- Messages ---

// Send posts a direct or channel message.
func (c *Client) Send(ctx context.Context, in models.SendMessage) (*models.Message, error) {
	in.FromAgent = c.agentOr(in.FromAgent)
	var out models.Message
	err := c.doJSON(ctx, http.MethodPost, "/messages", in, &out)
	return &out, err
}

// SendBatch posts several messages at once. The hub validates all of them
// before sending any.
func (c *Client) SendBatch(ctx context.Context, in []models.SendMessage) ([]models.Message, error) {
	for i := range in {
		in[i].FromAgent = c.agentOr(in[i].FromAgent)
	}
	var out struct {
		Created []models.Message `json:"created"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/batch/messages", map[string]any{"messages": in}, &out)
	return out.Created, err
}

// Unread returns the agent's unread messages.
func (c *Client) Unread(ctx context.Context, agent string) ([]models.Message, error) {
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, "/messages/unread?agent="+url.QueryEscape(c.agentOr(agent)), nil, &out)
	return out, err
}

// Ack marks a message read by agent.
func (c *Client) Ack(ctx context.Context, messageID, agent string) error {
	body := map[string]string{"agent": c.agentOr(agent)}
	return c.doJSON(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/ack", body, nil)
}

// --- Tasks ---

// TaskQuery filters ListTasks; zero fields are ignored.
type TaskQuery struct {
	Status     string
	Channel    string
	AssignedTo string
	Limit      int
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in models.CreateTask) (*models.Task, error) {
	in.CreatedBy = c.agentOr(in.CreatedBy)
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks", in, &out)
	return &out, err
}

// ListTasks returns tasks newest first.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) ([]models.Task, error) {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Channel != "" {
		v.Set("channel", q.Channel)
	}
	if q.AssignedTo != "" {
		v.Set("assigned_to", q.AssignedTo)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/tasks"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetTask returns a task by ID.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, id string, in models.UpdateTask) (*models.Task, error) {
	in.UpdatedBy = c.agentOr(in.UpdatedBy)
	var out models.Task
	err := c.doJSON(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id), in, &out)
	return &out, err
}

// ReadyTasks returns pending tasks whose dependencies are all met.
func (c *Client) ReadyTasks(ctx context.Context) ([]models.Task, error) {
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, "/tasks/ready", nil, &out)
	return out, err
}

// BlockedTasks returns tasks waiting on unfinished dependencies.
func (c *Client) BlockedTasks(ctx context.Context) ([]models.BlockedTask, error) {
	var out []models.BlockedTask
	err := c.doJSON(ctx, http.MethodGet, "/tasks/blocked", nil, &out)
	return out, err
}

// ClaimTask moves a pending task to in_progress for agent.
func (c *Client) ClaimTask(ctx context.Context, id, agent string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/claim", map[string]string{"agent": c.agentOr(agent)}, &out)
	return &out, err
}

// CompleteTask marks a task done with an optional output.
func (c *Client) CompleteTask(ctx context.Context, id, agent string, output *string) (*models.Task, error) {
	body := map[string]any{"agent": c.agentOr(agent)}
	if output != nil {
		body["output"] = *output
	}
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/complete", body, &out)
	return &out, err
}

// --- Workflows ---

// CreateWorkflow creates a draft workflow.
func (c *Client) CreateWorkflow(ctx context.Context, in models.CreateWorkflow) (*models.Workflow, error) {
	in.CreatedBy = c.agentOr(in.CreatedBy)
	var out models.Workflow
	err := c.doJSON(ctx, http.MethodPost, "/workflows", in, &out)
	return &out, err
}

// ListWorkflows returns recent workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	var out []models.Workflow
	err := c.doJSON(ctx, http.MethodGet, "/workflows", nil, &out)
	return out, err
}

// StartWorkflow activates a draft workflow.
func (c *Client) StartWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var out models.Workflow
	err := c.doJSON(ctx, http.MethodPost, "/workflows/"+url.PathEscape(id)+"/start", nil, &out)
	return &out, err
}

// CancelWorkflow cancels a draft or active workflow.
func (c *Client) CancelWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var out models.Workflow
	err := c.doJSON(ctx, http.MethodDelete, "/workflows/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// CompleteStep finishes an active step by step ID.
func (c *Client) CompleteStep(ctx context.Context, workflowID, stepID string, output *string) (*models.WorkflowStep, error) {
	body := map[string]any{}
	if output != nil {
		body["output"] = *output
	}
	var out models.WorkflowStep
	path := "/workflows/" + url.PathEscape(workflowID) + "/steps/" + url.PathEscape(stepID) + "/complete"
	err := c.doJSON(ctx, http.MethodPost, path, body, &out)
	return &out, err
}

// --- Sync ---

// CreateBarrier creates an N-of-N barrier over agents.
func (c *Client) CreateBarrier(ctx context.Context, agents []string, channel string) (*models.Barrier, error) {
	body := map[string]any{"agents": agents, "channel": channel, "created_by": c.Agent}
	var out models.Barrier
	err := c.doJSON(ctx, http.MethodPost, "/sync/barrier", body, &out)
	return &out, err
}

// Barrier returns a barrier's state.
func (c *Client) Barrier(ctx context.Context, id string) (*models.Barrier, error) {
	var out models.Barrier
	err := c.doJSON(ctx, http.MethodGet, "/sync/barrier/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// BarrierReady signals that agent reached the barrier.
func (c *Client) BarrierReady(ctx context.Context, id, agent string) (*models.BarrierSignal, error) {
	var out models.BarrierSignal
	err := c.doJSON(ctx, http.MethodPost, "/sync/barrier/"+url.PathEscape(id)+"/ready", map[string]string{"agent": c.agentOr(agent)}, &out)
	return &out, err
}

// AcquireLock takes a lease on resource; ttlSeconds 0 uses the server default.
func (c *Client) AcquireLock(ctx context.Context, resource, agent string, ttlSeconds int) (*models.Lock, error) {
	body := map[string]any{"resource": resource, "agent": c.agentOr(agent)}
	if ttlSeconds > 0 {
		body["ttl_seconds"] = ttlSeconds
	}
	var out models.Lock
	err := c.doJSON(ctx, http.MethodPost, "/sync/lock", body, &out)
	return &out, err
}

// ReleaseLock drops agent's lease on resource. Slashes in resource are kept.
func (c *Client) ReleaseLock(ctx context.Context, resource, agent string) error {
	path := "/sync/lock/" + resource + "?agent=" + url.QueryEscape(c.agentOr(agent))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Locks returns live leases.
func (c *Client) Locks(ctx context.Context) ([]models.Lock, error) {
	var out []models.Lock
	err := c.doJSON(ctx, http.MethodGet, "/sync/locks", nil, &out)
	return out, err
}

// --- Presence ---

// SetPresence updates the agent's presence.
func (c *Client) SetPresence(ctx context.Context, agent string, in models.UpdatePresence) (*models.Presence, error) {
	body := struct {
		Agent string `json:"agent"`
		models.UpdatePresence
	}{Agent: c.agentOr(agent), UpdatePresence: in}
	var out models.Presence
	err := c.doJSON(ctx, http.MethodPatch, "/presence", body, &out)
	return &out, err
}

// Presence lists every agent's presence.
func (c *Client) Presence(ctx context.Context) ([]models.Presence, error) {
	var out []models.Presence
	err := c.doJSON(ctx, http.MethodGet, "/presence", nil, &out)
	return out, err
}

// --- Events ---

// Emit publishes an event on the bus.
func (c *Client) Emit(ctx context.Context, in models.EmitEvent) (*models.Event, error) {
	in.SourceAgent = c.agentOr(in.SourceAgent)
	var out models.Event
	err := c.doJSON(ctx, http.MethodPost, "/events/emit", in, &out)
	return &out, err
}

// SubscribeEvents registers interest in an event type.
func (c *Client) SubscribeEvents(ctx context.Context, in models.SubscribeEvents) (*models.EventSubscription, error) {
	in.Agent = c.agentOr(in.Agent)
	var out models.EventSubscription
	err := c.doJSON(ctx, http.MethodPost, "/events/subscribe", in, &out)
	return &out, err
}
