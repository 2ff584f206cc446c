package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/config"
	"github.com/mcpbridge/mcpbridge-go/internal/contracts"
)

const (
	defaultGitHubAPIURL = "https://api.github.com"
	githubAcceptHeader  = "application/vnd.github+json"

	maxIdempotentAttempts = 3
	defaultRetryBaseDelay = time.Second
)

// GitHub tool names. They already carry the server prefix, so the tool
// factory exposes them unmodified instead of double-prefixing.
const (
	ToolGitHubGetUser        = "github_get_user"
	ToolGitHubListRepos      = "github_list_repositories"
	ToolGitHubSearchRepos    = "github_search_repositories"
	ToolGitHubRepoContents   = "github_get_repository_contents"
	ToolGitHubCreateRepo     = "github_create_repository"
	ToolGitHubGenericRequest = "github_api"
)

// GitHubAdapter wraps the GitHub REST API as an MCP-style server with a
// fixed, hand-declared tool set.
type GitHubAdapter struct {
	base
	httpClient *http.Client
	retryBase  time.Duration

	authHeader string // guarded by base.mu
	login      string // cached authenticated identity, guarded by base.mu
}

// NewGitHubAdapter constructs the GitHub adapter for the given configuration.
func NewGitHubAdapter(cfg *config.ServerConfig, logger *zap.Logger) *GitHubAdapter {
	a := &GitHubAdapter{
		base:       newBase(cfg, logger),
		httpClient: &http.Client{},
		retryBase:  defaultRetryBaseDelay,
	}
	a.refreshCredential()
	return a
}

// Initialize verifies connectivity. Without a credential the adapter is left
// disabled; with a credential but an unreachable API it is left disconnected.
func (a *GitHubAdapter) Initialize(ctx context.Context) {
	if !a.GetConfig().Enabled {
		a.setConnected(false)
		return
	}
	if a.GetConfig().Token() == "" {
		a.setEnabled(false)
		a.setConnected(false)
		a.logger.Info("GitHub adapter has no token, leaving disabled")
		return
	}

	status := a.TestConnection(ctx)
	a.setConnected(status.Success)
	if status.Success {
		a.logger.Info("GitHub adapter initialized", zap.String("message", status.Message))
	} else {
		a.logger.Warn("GitHub adapter unreachable", zap.String("message", status.Message))
	}
}

// TestConnection performs a single authenticated probe against /user.
// On success the authenticated login is cached for display.
func (a *GitHubAdapter) TestConnection(ctx context.Context) contracts.ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, ConnectTestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL()+"/user", http.NoBody)
	if err != nil {
		return contracts.ConnectionStatus{Success: false, Message: err.Error()}
	}
	a.setRequestHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return contracts.ConnectionStatus{Success: false, Message: fmt.Sprintf("GitHub API unreachable: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return contracts.ConnectionStatus{
			Success: false,
			Message: fmt.Sprintf("GitHub API returned HTTP %d", resp.StatusCode),
		}
	}

	var user struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return contracts.ConnectionStatus{Success: false, Message: fmt.Sprintf("malformed GitHub response: %v", err)}
	}

	a.mu.Lock()
	a.login = user.Login
	a.mu.Unlock()

	return contracts.ConnectionStatus{
		Success: true,
		Message: fmt.Sprintf("Connected as %s", user.Login),
	}
}

// AuthenticatedLogin returns the cached login from the last successful probe.
func (a *GitHubAdapter) AuthenticatedLogin() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.login
}

// UpdateConfig merges the partial update. A token change re-derives the
// Authorization header immediately.
func (a *GitHubAdapter) UpdateConfig(update config.ServerUpdate) {
	if a.applyUpdate(update) {
		a.refreshCredential()
		a.logger.Info("GitHub credential updated")
	}
}

func (a *GitHubAdapter) refreshCredential() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if token := a.cfg.Token(); token != "" {
		a.authHeader = "Bearer " + token
	} else {
		a.authHeader = ""
	}
}

func (a *GitHubAdapter) apiURL() string {
	cfg := a.GetConfig()
	if cfg.BaseURL != "" {
		return strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return defaultGitHubAPIURL
}

func (a *GitHubAdapter) setRequestHeaders(req *http.Request) {
	a.mu.RLock()
	authHeader := a.authHeader
	a.mu.RUnlock()
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	req.Header.Set("Accept", githubAcceptHeader)
}

// GetToolDefinitions returns the fixed GitHub tool set.
func (a *GitHubAdapter) GetToolDefinitions(_ context.Context) ([]contracts.ToolDescriptor, error) {
	return []contracts.ToolDescriptor{
		{
			Name:        ToolGitHubGetUser,
			Description: "Get the authenticated GitHub user profile",
			InputSchema: objectSchema(map[string]interface{}{}, nil),
		},
		{
			Name:        ToolGitHubListRepos,
			Description: "List repositories for the authenticated user",
			InputSchema: objectSchema(map[string]interface{}{
				"per_page": map[string]interface{}{"type": "number", "description": "Number of repositories to return (max 100)"},
				"sort":     map[string]interface{}{"type": "string", "description": "Sort order: created, updated, pushed, full_name"},
			}, nil),
		},
		{
			Name:        ToolGitHubSearchRepos,
			Description: "Search public repositories by query",
			InputSchema: objectSchema(map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "Search query"},
			}, []string{"query"}),
		},
		{
			Name:        ToolGitHubRepoContents,
			Description: "Get the contents of a repository path",
			InputSchema: objectSchema(map[string]interface{}{
				"owner": map[string]interface{}{"type": "string", "description": "Repository owner"},
				"repo":  map[string]interface{}{"type": "string", "description": "Repository name"},
				"path":  map[string]interface{}{"type": "string", "description": "Path within the repository (defaults to root)"},
			}, []string{"owner", "repo"}),
		},
		{
			Name:        ToolGitHubCreateRepo,
			Description: "Create a new repository for the authenticated user",
			InputSchema: objectSchema(map[string]interface{}{
				"name":        map[string]interface{}{"type": "string", "description": "Repository name"},
				"description": map[string]interface{}{"type": "string", "description": "Repository description"},
				"private":     map[string]interface{}{"type": "boolean", "description": "Create as private repository"},
			}, []string{"name"}),
		},
		{
			Name:        ToolGitHubGenericRequest,
			Description: "Invoke a GitHub operation by method name, e.g. searchRepositories('react') or getUser",
			InputSchema: objectSchema(map[string]interface{}{
				"method": map[string]interface{}{"type": "string", "description": "Operation name"},
				"args":   map[string]interface{}{"type": "array", "description": "Positional arguments for the operation"},
			}, []string{"method"}),
		},
	}, nil
}

func objectSchema(props map[string]interface{}, required []string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ExecuteToolCall dispatches one of the six GitHub operations. Arguments in
// the functional form {"method": ..., "args": [...]} are accepted on any
// tool name, since LLM-produced markup routes by method rather than schema.
func (a *GitHubAdapter) ExecuteToolCall(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	if name != ToolGitHubGenericRequest && stringArg(args, "method") != "" {
		return a.executeGenericRequest(ctx, args)
	}

	switch name {
	case ToolGitHubGetUser:
		return a.getUser(ctx)
	case ToolGitHubListRepos:
		return a.listRepositories(ctx, args)
	case ToolGitHubSearchRepos:
		return a.searchRepositories(ctx, stringArg(args, "query"))
	case ToolGitHubRepoContents:
		return a.getRepositoryContents(ctx, stringArg(args, "owner"), stringArg(args, "repo"), stringArg(args, "path"))
	case ToolGitHubCreateRepo:
		return a.createRepository(ctx, args)
	case ToolGitHubGenericRequest:
		return a.executeGenericRequest(ctx, args)
	default:
		return nil, &ToolResolutionError{ToolName: name}
	}
}

// executeGenericRequest maps the github_api functional mini-syntax onto the
// fixed operations: {"method": "searchRepositories", "args": ["react"]}.
func (a *GitHubAdapter) executeGenericRequest(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	method := stringArg(args, "method")
	if method == "" {
		return nil, &ParseError{Reason: "github_api requires a method name"}
	}
	positional, _ := args["args"].([]interface{})

	pos := func(i int) string {
		if i < len(positional) {
			if s, ok := positional[i].(string); ok {
				return s
			}
		}
		return ""
	}

	switch method {
	case "getUser":
		return a.getUser(ctx)
	case "listRepositories", "listRepos":
		return a.listRepositories(ctx, nil)
	case "searchRepositories", "searchRepos":
		return a.searchRepositories(ctx, pos(0))
	case "getRepositoryContents", "getContents":
		return a.getRepositoryContents(ctx, pos(0), pos(1), pos(2))
	case "createRepository", "createRepo":
		opts := map[string]interface{}{"name": pos(0)}
		if desc := pos(1); desc != "" {
			opts["description"] = desc
		}
		return a.createRepository(ctx, opts)
	case "request":
		return a.doRequest(ctx, strings.ToUpper(pos(0)), pos(1), nil, nil)
	default:
		return nil, &ParseError{Input: method, Reason: "unknown github_api method"}
	}
}

func (a *GitHubAdapter) getUser(ctx context.Context) (interface{}, error) {
	return a.doRequest(ctx, http.MethodGet, "/user", nil, nil)
}

func (a *GitHubAdapter) listRepositories(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := url.Values{"sort": {"updated"}, "per_page": {"30"}}
	if args != nil {
		if perPage, ok := args["per_page"].(float64); ok {
			query.Set("per_page", strconv.Itoa(int(perPage)))
		}
		if sort := stringArg(args, "sort"); sort != "" {
			query.Set("sort", sort)
		}
	}
	return a.doRequest(ctx, http.MethodGet, "/user/repos", query, nil)
}

func (a *GitHubAdapter) searchRepositories(ctx context.Context, searchQuery string) (interface{}, error) {
	if searchQuery == "" {
		return nil, &ParseError{Reason: "search requires a query"}
	}
	query := url.Values{"q": {searchQuery}, "per_page": {"10"}}
	return a.doRequest(ctx, http.MethodGet, "/search/repositories", query, nil)
}

func (a *GitHubAdapter) getRepositoryContents(ctx context.Context, owner, repo, path string) (interface{}, error) {
	if owner == "" || repo == "" {
		return nil, &ParseError{Reason: "repository contents require owner and repo"}
	}
	endpoint := fmt.Sprintf("/repos/%s/%s/contents", url.PathEscape(owner), url.PathEscape(repo))
	if path != "" {
		endpoint += "/" + path
	}
	return a.doRequest(ctx, http.MethodGet, endpoint, nil, nil)
}

func (a *GitHubAdapter) createRepository(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name := stringArg(args, "name")
	if name == "" {
		return nil, &ParseError{Reason: "create_repository requires a name"}
	}
	body := map[string]interface{}{"name": name}
	if desc := stringArg(args, "description"); desc != "" {
		body["description"] = desc
	}
	if private, ok := args["private"].(bool); ok {
		body["private"] = private
	}
	return a.doRequest(ctx, http.MethodPost, "/user/repos", nil, body)
}

// doRequest performs one REST call. Idempotent GET-style calls retry up to 3
// attempts with exponential backoff (1s, 2s, 4s) on network errors and 5xx;
// 4xx responses never retry. A 403 with zero remaining quota surfaces as a
// RateLimitError carrying the reset time.
func (a *GitHubAdapter) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (interface{}, error) {
	serverID := a.GetConfig().ID
	endpoint := a.apiURL() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	attempts := 1
	if method == http.MethodGet || method == http.MethodHead {
		attempts = maxIdempotentAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := a.retryBase << uint(attempt-1) // 1s, 2s, 4s
			a.logger.Debug("Retrying GitHub request",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := a.attemptRequest(ctx, method, endpoint, serverID, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var connErr *ConnectivityError
		if !errors.As(err, &connErr) || !connErr.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (a *GitHubAdapter) attemptRequest(ctx context.Context, method, endpoint, serverID string, body interface{}) (interface{}, error) {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	a.setRequestHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectivityError{ServerID: serverID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return nil, &RateLimitError{ServerID: serverID, Reset: parseRateLimitReset(resp.Header.Get("X-RateLimit-Reset"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ConnectivityError{
			ServerID:   serverID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s %s failed", method, req.URL.Path),
		}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	var result interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("malformed JSON from GitHub: %w", err)
	}
	return result, nil
}

func parseRateLimitReset(header string) time.Time {
	if header == "" {
		return time.Time{}
	}
	epoch, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(epoch, 0).UTC()
}

func stringArg(args map[string]interface{}, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
