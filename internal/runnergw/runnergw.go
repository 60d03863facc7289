// Package runnergw dispatches reserved grading tasks to the external
// workflow runner, following the shape of the teacher's ClaudeService: an
// http.Client with an explicit timeout, one method that marshals a JSON
// body, sets headers, POSTs, and maps any failure into a single wrapped
// error (spec.md §4.3).
package runnergw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"gradeflow/internal/ghcache"
	"gradeflow/internal/models"
)

var graderURLPattern = regexp.MustCompile(`^https://[^/]+/([^/]+)/([^/]+)$`)

const defaultAPIBaseURL = "https://api.github.com"

// Gateway posts workflow-dispatch requests to the runner platform.
type Gateway struct {
	httpClient       *http.Client
	tokens           *ghcache.Cache
	org              string
	repo             string
	workflowID       string
	callbackOverride string
	callbackBaseURL  string
	apiBaseURL       string
}

func New(tokens *ghcache.Cache, org, repo, workflowID, callbackOverride, callbackBaseURL string) *Gateway {
	return &Gateway{
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		tokens:           tokens,
		org:              org,
		repo:             repo,
		workflowID:       workflowID,
		callbackOverride: callbackOverride,
		callbackBaseURL:  callbackBaseURL,
		apiBaseURL:       defaultAPIBaseURL,
	}
}

// SetBaseURL overrides the runner platform's API base URL. Used by tests to
// point the gateway at an httptest server.
func (g *Gateway) SetBaseURL(baseURL string) {
	g.apiBaseURL = baseURL
}

type dispatchInputs struct {
	GraderRepo   string `json:"grader-repo"`
	StudentLogin string `json:"student-login"`
	StudentRepo  string `json:"student-repo"`
	CallbackURL  string `json:"callback-url"`
	TaskID       string `json:"task-id"`
}

type dispatchRequest struct {
	Ref    string         `json:"ref"`
	Inputs dispatchInputs `json:"inputs"`
}

// Dispatch posts a workflow-dispatch request for task on branch main. Any
// network, authorization, or URL-parsing failure is returned as a single
// wrapped error; the scheduler terminates the task with this message.
func (g *Gateway) Dispatch(ctx context.Context, task models.GradingTask) error {
	match := graderURLPattern.FindStringSubmatch(task.GraderURL)
	if match == nil {
		return fmt.Errorf("grader_url %q does not match expected https://<host>/<org>/<repo> form", task.GraderURL)
	}
	graderOrg, graderRepo := match[1], match[2]

	callbackURL := g.callbackOverride
	if callbackURL == "" {
		callbackURL = g.callbackBaseURL + "/webhook/github/runner"
	}

	body := dispatchRequest{
		Ref: "main",
		Inputs: dispatchInputs{
			GraderRepo:   graderOrg + "/" + graderRepo,
			StudentLogin: task.ProviderLogin,
			StudentRepo:  task.RepositoryName,
			CallbackURL:  callbackURL,
			TaskID:       task.ExternalID,
		},
	}

	var token string
	if task.InstallationID != nil {
		var err error
		token, err = g.tokens.Get(ctx, *task.InstallationID)
		if err != nil {
			return fmt.Errorf("failed to resolve installation token: %w", err)
		}
	}

	return g.postWorkflowDispatch(ctx, token, body)
}

func (g *Gateway) postWorkflowDispatch(ctx context.Context, token string, body dispatchRequest) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow dispatch body: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches", g.apiBaseURL, g.org, g.repo, g.workflowID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create workflow dispatch request: %w", err)
	}
	httpReq.Header.Set("accept", "application/vnd.github+json")
	httpReq.Header.Set("content-type", "application/json")
	if token != "" {
		httpReq.Header.Set("authorization", "Bearer "+token)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to dispatch workflow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("workflow dispatch rejected (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
