// Package chubsdk is a minimal client for the Compliance Hub REST API.
package chubsdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to a Compliance Hub server. BaseURL includes the API base
// path, e.g. http://localhost:8080/api.
type Client struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration

	http *resty.Client
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ValleyID      int64  `json:"valley_id"`
	FaenaID       *int64 `json:"faena_id,omitempty"`
	ProcessID     int64  `json:"process_id"`
	StatusID      int64  `json:"status_id"`
	Applies       bool   `json:"applies"`
	BeneficiaryID *int64 `json:"beneficiary_id,omitempty"`
	StatusName    string `json:"status_name,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// TaskInput is the body for creating a task. StatusID 0 uses the server default.
type TaskInput struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ValleyID      int64  `json:"valley_id"`
	FaenaID       *int64 `json:"faena_id,omitempty"`
	ProcessID     int64  `json:"process_id"`
	StatusID      int64  `json:"status_id,omitempty"`
	Applies       bool   `json:"applies,omitempty"`
	BeneficiaryID *int64 `json:"beneficiary_id,omitempty"`
}

type Subtask struct {
	ID        int64   `json:"id"`
	TaskID    int64   `json:"task_id"`
	Name      string  `json:"name"`
	Budget    int64   `json:"budget"`
	Expense   int64   `json:"expense"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
	FinalDate *string `json:"final_date,omitempty"`
	StatusID  int64   `json:"status_id"`
}

type SubtaskInput struct {
	Name      string  `json:"name"`
	Budget    int64   `json:"budget,omitempty"`
	Expense   int64   `json:"expense,omitempty"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
	StatusID  int64   `json:"status_id,omitempty"`
}

type Compliance struct {
	ID            int64  `json:"id"`
	TaskID        int64  `json:"task_id"`
	StatusID      int64  `json:"status_id"`
	SolpedMemoSap *int64 `json:"solped_memo_sap,omitempty"`
	HesHemSap     *int64 `json:"hes_hem_sap,omitempty"`
	Listo         bool   `json:"listo"`
	UpdatedAt     string `json:"updated_at"`
}

// TaskDetail is a task with its owned records.
type TaskDetail struct {
	Task
	Subtasks    []Subtask    `json:"subtasks"`
	Compliances []Compliance `json:"compliances"`
	Documents   []Document   `json:"documents"`
}

type TaskSummary struct {
	TaskID   int64   `json:"task_id"`
	Progress float64 `json:"progress"`
	Budget   int64   `json:"budget"`
	Expense  int64   `json:"expense"`
}

type History struct {
	ID            int64  `json:"id"`
	TaskID        *int64 `json:"task_id,omitempty"`
	Name          string `json:"name"`
	FinalDate     string `json:"final_date"`
	TotalExpense  int64  `json:"total_expense"`
	SolpedMemoSap int64  `json:"solped_memo_sap"`
	HesHemSap     int64  `json:"hes_hem_sap"`
}

type Document struct {
	ID         int64  `json:"id"`
	TaskID     *int64 `json:"task_id,omitempty"`
	TypeID     *int64 `json:"type_id,omitempty"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	UploadDate string `json:"upload_date"`
}

type MonthlyReport struct {
	Month   string `json:"month"`
	Year    int    `json:"year"`
	Budget  int64  `json:"budget"`
	Expense int64  `json:"expense"`
}

type Notification struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id"`
	Read       bool   `json:"read"`
	CreatedAt  string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

// ListTasks returns tasks, optionally filtered by valley.
func (c *Client) ListTasks(ctx context.Context, valleyID int64) ([]Task, error) {
	endpoint := "tasks"
	if valleyID > 0 {
		endpoint += "?valley_id=" + strconv.FormatInt(valleyID, 10)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches a task with subtasks, compliances and documents.
func (c *Client) GetTask(ctx context.Context, id int64) (TaskDetail, error) {
	var resp TaskDetail
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d", id), nil, &resp)
	return resp, err
}

// SetTaskStatus moves a task to statusID. Moving it to the completed status
// archives it into history.
func (c *Client) SetTaskStatus(ctx context.Context, id, statusID int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%d", id), map[string]int64{"status_id": statusID}, &resp)
	return resp, err
}

// DeleteTask removes a task and returns what it owned.
func (c *Client) DeleteTask(ctx context.Context, id int64) (TaskDetail, error) {
	var resp TaskDetail
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) TaskSummary(ctx context.Context, id int64) (TaskSummary, error) {
	var resp TaskSummary
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d/summary", id), nil, &resp)
	return resp, err
}

func (c *Client) CreateSubtask(ctx context.Context, taskID int64, in SubtaskInput) (Subtask, error) {
	var resp Subtask
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/subtasks", taskID), in, &resp)
	return resp, err
}

// CreateCompliance starts the compliance workflow for a task.
func (c *Client) CreateCompliance(ctx context.Context, taskID int64) (Compliance, error) {
	var resp Compliance
	err := c.do(ctx, http.MethodPost, "compliances", map[string]int64{"task_id": taskID}, &resp)
	return resp, err
}

// AdvanceCompliance moves a compliance to its next status.
func (c *Client) AdvanceCompliance(ctx context.Context, id int64) (Compliance, error) {
	var resp Compliance
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("compliances/%d/advance", id), nil, &resp)
	return resp, err
}

func (c *Client) ListHistory(ctx context.Context) ([]History, error) {
	var resp []History
	err := c.do(ctx, http.MethodGet, "history", nil, &resp)
	return resp, err
}

// UploadDocument streams r as a document attached to taskID (0 for none).
func (c *Client) UploadDocument(ctx context.Context, taskID, typeID int64, filename string, r io.Reader) (Document, error) {
	fields := map[string]string{}
	if taskID > 0 {
		fields["task_id"] = strconv.FormatInt(taskID, 10)
	}
	if typeID > 0 {
		fields["type_id"] = strconv.FormatInt(typeID, 10)
	}
	var resp Document
	req := c.request(ctx).
		SetMultipartFormData(fields).
		SetFileReader("file", filename, r).
		SetResult(&resp)
	res, err := req.Post(c.url("documents"))
	if err != nil {
		return Document{}, err
	}
	return resp, apiError(res)
}

// DownloadDocument returns the document body. The caller closes it.
func (c *Client) DownloadDocument(ctx context.Context, id int64) (io.ReadCloser, error) {
	res, err := c.request(ctx).
		SetDoNotParseResponse(true).
		Get(c.url(fmt.Sprintf("documents/%d/download", id)))
	if err != nil {
		return nil, err
	}
	if res.StatusCode() >= 300 {
		res.RawBody().Close()
		return nil, &APIError{StatusCode: res.StatusCode()}
	}
	return res.RawBody(), nil
}

func (c *Client) DeleteDocument(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("documents/%d", id), nil, nil)
}

// MonthlyReport totals subtasks starting in month (a Spanish month name).
func (c *Client) MonthlyReport(ctx context.Context, month string, year int) (MonthlyReport, error) {
	var resp MonthlyReport
	res, err := c.request(ctx).
		SetQueryParam("month", month).
		SetQueryParam("year", strconv.Itoa(year)).
		SetResult(&resp).
		Get(c.url("reports/monthly"))
	if err != nil {
		return MonthlyReport{}, err
	}
	return resp, apiError(res)
}

func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	var resp []Notification
	endpoint := "notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("notifications/%d/read", id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	req := c.request(ctx).SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	res, err := req.Execute(method, c.url(endpoint))
	if err != nil {
		return err
	}
	return apiError(res)
}

func (c *Client) request(ctx context.Context) *resty.Request {
	if c.http == nil {
		c.http = resty.New().SetTimeout(c.Timeout)
	}
	req := c.http.R().SetContext(ctx).SetError(&errorEnvelope{})
	if c.BearerToken != "" {
		req.SetAuthToken(c.BearerToken)
	}
	return req
}

func apiError(res *resty.Response) error {
	if !res.IsError() {
		return nil
	}
	e := &APIError{StatusCode: res.StatusCode()}
	if env, ok := res.Error().(*errorEnvelope); ok && env != nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(res.Body()))
	}
	return e
}

func (c *Client) url(endpoint string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}
