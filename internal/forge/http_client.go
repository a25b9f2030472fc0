package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// HTTPClient is a minimal REST+GraphQL Forge implementation. The
// forge's actual wire protocol is out of scope (spec §1); this client
// exists only so the lifecycle controller and dispatcher have a real
// collaborator to drive against in tests and small deployments.
type HTTPClient struct {
	BaseURL    string // e.g. "https://forge.example/api/v3"
	GraphQLURL string
	Token      string
	HTTP       *http.Client
}

// NewHTTPClient builds a client with the spec §5 15-second-class HTTP
// timeout; individual calls apply their own tighter budgets as needed.
func NewHTTPClient(baseURL, graphqlURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		GraphQLURL: graphqlURL,
		Token:      token,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("forge API %s %s: status %d: %s", method, url, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// withRetry applies the spec §5 PR-validation retry budget: 3 attempts,
// waiting 1s before the second and 2s before the third.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *HTTPClient) AuthenticatedUser(ctx context.Context) (User, error) {
	var u User
	err := withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, c.BaseURL+"/user", nil, &u)
	})
	return u, err
}

func (c *HTTPClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var pr PullRequest
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.BaseURL, owner, repo, number)
	err := withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, url, nil, &pr)
	})
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (c *HTTPClient) FindPullRequestsByBranch(ctx context.Context, owner, repo, branch string) ([]PullRequest, error) {
	var prs []PullRequest
	url := fmt.Sprintf("%s/repos/%s/%s/pulls?head=%s:%s", c.BaseURL, owner, repo, owner, branch)
	err := withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, url, nil, &prs)
	})
	return prs, err
}

func (c *HTTPClient) FindPullRequestsByTitleSubstring(ctx context.Context, owner, repo, substring string) ([]PullRequest, error) {
	var all []PullRequest
	url := fmt.Sprintf("%s/repos/%s/%s/pulls?state=all", c.BaseURL, owner, repo)
	if err := withRetry(ctx, func() error { return c.doJSON(ctx, http.MethodGet, url, nil, &all) }); err != nil {
		return nil, err
	}
	var matched []PullRequest
	for _, pr := range all {
		if containsSubstring(pr.Title, substring) {
			matched = append(matched, pr)
		}
	}
	return matched, nil
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) > 0 && len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

type reviewThreadsResponse struct {
	Data struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					Nodes []struct {
						ID         string `json:"id"`
						IsResolved bool   `json:"isResolved"`
						IsOutdated bool   `json:"isOutdated"`
						Comments   struct {
							Nodes []struct {
								Body   string `json:"body"`
								Author struct {
									Login string `json:"login"`
								} `json:"author"`
							} `json:"nodes"`
						} `json:"comments"`
					} `json:"nodes"`
				} `json:"reviewThreads"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
}

// UnresolvedReviewThreads requires the graph API: the REST-level
// reviewDecision loses bot COMMENTED reviews (spec §4.8 step 3).
func (c *HTTPClient) UnresolvedReviewThreads(ctx context.Context, owner, repo string, prNumber int) ([]ReviewThread, error) {
	query := map[string]any{
		"query": `query($owner:String!,$repo:String!,$pr:Int!){
			repository(owner:$owner,name:$repo){
				pullRequest(number:$pr){
					reviewThreads(first:100){
						nodes{ id isResolved isOutdated
							comments(first:1){ nodes{ body author{ login } } }
						}
					}
				}
			}
		}`,
		"variables": map[string]any{"owner": owner, "repo": repo, "pr": prNumber},
	}

	var resp reviewThreadsResponse
	err := withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, c.GraphQLURL, query, &resp)
	})
	if err != nil {
		return nil, err
	}

	var out []ReviewThread
	for _, n := range resp.Data.Repository.PullRequest.ReviewThreads.Nodes {
		if n.IsResolved || n.IsOutdated {
			continue
		}
		t := ReviewThread{ID: n.ID, IsOutdated: n.IsOutdated, IsResolved: n.IsResolved}
		if len(n.Comments.Nodes) > 0 {
			t.Body = n.Comments.Nodes[0].Body
			t.AuthorLogin = n.Comments.Nodes[0].Author.Login
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *HTTPClient) DismissReview(ctx context.Context, owner, repo string, prNumber int, reviewID string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/reviews/%s/dismissals", c.BaseURL, owner, repo, prNumber, reviewID)
	body := map[string]string{"message": "auto-dismissed: bot review, CI green, no blocking human review"}
	return c.doJSON(ctx, http.MethodPut, url, body, nil)
}

func (c *HTTPClient) MergePullRequest(ctx context.Context, owner, repo string, number int, squash, admin bool) error {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/merge", c.BaseURL, owner, repo, number)
	method := "merge"
	if squash {
		method = "squash"
	}
	body := map[string]any{"merge_method": method, "admin_override": admin}
	return c.doJSON(ctx, http.MethodPut, url, body, nil)
}

func (c *HTTPClient) CreateIssue(ctx context.Context, owner, repo, title, body string) (*Issue, error) {
	var issue Issue
	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.BaseURL, owner, repo)
	payload := map[string]string{"title": title, "body": body}
	err := c.doJSON(ctx, http.MethodPost, url, payload, &issue)
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *HTTPClient) ListIssues(ctx context.Context, owner, repo, state string) ([]Issue, error) {
	var issues []Issue
	url := fmt.Sprintf("%s/repos/%s/%s/issues?state=%s", c.BaseURL, owner, repo, state)
	err := c.doJSON(ctx, http.MethodGet, url, nil, &issues)
	return issues, err
}

func (c *HTTPClient) CloseIssue(ctx context.Context, owner, repo string, number int) error {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d", c.BaseURL, owner, repo, number)
	return c.doJSON(ctx, http.MethodPatch, url, map[string]string{"state": "closed"}, nil)
}

var _ Forge = (*HTTPClient)(nil)
