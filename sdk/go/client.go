package opslinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Opsline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "api/v1",
		Timeout:  10 * time.Second,
	}
}

// Identity is the resolved principal returned by login and whoami.
type Identity struct {
	UserID      int64    `json:"user_id"`
	Email       string   `json:"email"`
	FullName    string   `json:"full_name"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	ProjectID  *int64 `json:"project_id,omitempty"`
	AssignedTo *int64 `json:"assigned_to,omitempty"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
}

// Lead represents the API lead model (partial).
type Lead struct {
	ID          int64  `json:"id"`
	Number      string `json:"lead_number"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email"`
	CompanyName string `json:"company_name,omitempty"`
	Status      string `json:"status"`
}

// Project represents the API project model (partial).
type Project struct {
	ID          int64   `json:"id"`
	Number      string  `json:"project_number"`
	ClientID    int64   `json:"client_id"`
	Name        string  `json:"project_name"`
	TotalBudget float64 `json:"total_budget"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
}

// PaymentPhase represents a payment phase.
type PaymentPhase struct {
	ID        int64   `json:"id"`
	ProjectID int64   `json:"project_id"`
	Name      string  `json:"phase_name"`
	Amount    float64 `json:"phase_amount"`
	DueDate   string  `json:"due_date"`
	Status    string  `json:"status"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Identity, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	var resp struct {
		Token    string   `json:"token"`
		Identity Identity `json:"identity"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return Identity{}, err
	}
	c.BearerToken = resp.Token
	return resp.Identity, nil
}

// Me returns the caller's resolved identity.
func (c *Client) Me(ctx context.Context) (Identity, error) {
	var resp Identity
	err := c.do(ctx, http.MethodGet, "auth/me", nil, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title string, projectID, assignedTo int64) (Task, error) {
	body := map[string]any{"title": title}
	if projectID > 0 {
		body["project_id"] = projectID
	}
	if assignedTo > 0 {
		body["assigned_to"] = assignedTo
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// Tasks lists tasks visible to the caller.
func (c *Client) Tasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "tasks"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AcceptTask accepts an assigned task.
func (c *Client) AcceptTask(ctx context.Context, taskID int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/accept", taskID), map[string]any{}, &resp)
	return resp, err
}

// SetTaskStatus moves a task along its workflow.
func (c *Client) SetTaskStatus(ctx context.Context, taskID int64, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/status", taskID), map[string]any{"status": status}, &resp)
	return resp, err
}

// Leads lists leads visible to the caller.
func (c *Client) Leads(ctx context.Context, status string) ([]Lead, error) {
	endpoint := "leads"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Lead
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ConvertLead converts a lead into a client, optionally with a project.
func (c *Client) ConvertLead(ctx context.Context, leadID int64, notes string, createProject bool) (Lead, error) {
	body := map[string]any{
		"conversion_notes": notes,
		"create_project":   createProject,
	}
	var resp struct {
		Lead Lead `json:"lead"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("leads/%d/convert", leadID), body, &resp)
	return resp.Lead, err
}

// Projects lists projects visible to the caller.
func (c *Client) Projects(ctx context.Context, status string) ([]Project, error) {
	endpoint := "projects"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PendingPhases lists unsettled payment phases.
func (c *Client) PendingPhases(ctx context.Context, projectID int64) ([]PaymentPhase, error) {
	endpoint := "payments/phases?status=Pending"
	if projectID > 0 {
		endpoint += fmt.Sprintf("&project_id=%d", projectID)
	}
	var resp []PaymentPhase
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
