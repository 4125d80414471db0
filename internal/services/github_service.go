package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// binaryExtensions is the denylist of file extensions skipped during tree
// ingestion: media, archives, executables and fonts carry no reviewable text.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".tiff": true,
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".rar": true, ".7z": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".o": true, ".a": true, ".class": true, ".jar": true,
	".mp3": true, ".wav": true, ".ogg": true, ".flac": true,
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true,
	".pdf": true, ".ttf": true, ".otf": true, ".woff": true, ".woff2": true,
}

// RepoFile is one text file fetched from a repository tree
type RepoFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// RepoSummary describes one repository visible to the user
type RepoSummary struct {
	GithubID    int64     `json:"github_id"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Private     bool      `json:"private"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PullRequestDiff carries everything the review pipeline needs about one PR
type PullRequestDiff struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Diff             string `json:"diff"`
	URL              string `json:"url"`
	BaseRepositoryID int64  `json:"base_repository_id"`
}

// WebhookInfo identifies a registered webhook on a repository
type WebhookInfo struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// GitHubService is the gateway to the GitHub REST API. All operations take the
// acting user's token; authentication failures surface as NotLinkedError so
// callers can distinguish them from transient network failures.
type GitHubService struct {
	callbackURL   string
	webhookSecret string
	clientFactory func(token string) *github.Client
}

// NewGitHubService creates a new GitHubService posting webhooks back to callbackURL
func NewGitHubService(callbackURL, webhookSecret string) *GitHubService {
	return &GitHubService{
		callbackURL:   callbackURL,
		webhookSecret: webhookSecret,
		clientFactory: createGitHubClient,
	}
}

// NewGitHubServiceWithFactory creates a GitHubService with a custom client
// factory, used to point the gateway at a test server
func NewGitHubServiceWithFactory(callbackURL, webhookSecret string, factory func(token string) *github.Client) *GitHubService {
	return &GitHubService{
		callbackURL:   callbackURL,
		webhookSecret: webhookSecret,
		clientFactory: factory,
	}
}

func createGitHubClient(token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	return github.NewClient(tc)
}

// ListRepositories lists repositories the user has access to, most recently
// updated first
func (s *GitHubService) ListRepositories(ctx context.Context, token string, page, perPage int) ([]RepoSummary, error) {
	if token == "" {
		return nil, &models.NotLinkedError{}
	}

	client := s.clientFactory(token)
	opt := &github.RepositoryListOptions{
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}

	repos, _, err := client.Repositories.List(ctx, "", opt)
	if err != nil {
		return nil, s.wrapError("", err)
	}

	summaries := make([]RepoSummary, 0, len(repos))
	for _, repo := range repos {
		summaries = append(summaries, RepoSummary{
			GithubID:    repo.GetID(),
			Owner:       repo.GetOwner().GetLogin(),
			Name:        repo.GetName(),
			FullName:    repo.GetFullName(),
			URL:         repo.GetHTMLURL(),
			Description: repo.GetDescription(),
			Private:     repo.GetPrivate(),
			UpdatedAt:   repo.GetUpdatedAt().Time,
		})
	}

	return summaries, nil
}

// RegisterWebhook installs the pull request webhook on a repository. The
// operation is idempotent: if a hook already targets our callback URL the
// existing hook is returned instead of creating a duplicate.
func (s *GitHubService) RegisterWebhook(ctx context.Context, token, owner, name string) (*WebhookInfo, error) {
	client := s.clientFactory(token)

	existing, err := s.findWebhook(ctx, client, owner, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	hook := &github.Hook{
		Active: github.Bool(true),
		Events: []string{"pull_request"},
		Config: map[string]interface{}{
			"url":          s.callbackURL,
			"content_type": "json",
		},
	}
	if s.webhookSecret != "" {
		hook.Config["secret"] = s.webhookSecret
	}

	created, _, err := client.Repositories.CreateHook(ctx, owner, name, hook)
	if err != nil {
		return nil, s.wrapError("", err)
	}

	return &WebhookInfo{ID: created.GetID(), URL: s.callbackURL}, nil
}

// RemoveWebhook removes our webhook from a repository. A hook that is already
// absent counts as success.
func (s *GitHubService) RemoveWebhook(ctx context.Context, token, owner, name string) (bool, error) {
	client := s.clientFactory(token)

	existing, err := s.findWebhook(ctx, client, owner, name)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return true, nil
	}

	if _, err := client.Repositories.DeleteHook(ctx, owner, name, existing.ID); err != nil {
		return false, s.wrapError("", err)
	}
	return true, nil
}

func (s *GitHubService) findWebhook(ctx context.Context, client *github.Client, owner, name string) (*WebhookInfo, error) {
	hooks, _, err := client.Repositories.ListHooks(ctx, owner, name, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, s.wrapError("", err)
	}

	for _, hook := range hooks {
		if url, ok := hook.Config["url"].(string); ok && url == s.callbackURL {
			return &WebhookInfo{ID: hook.GetID(), URL: url}, nil
		}
	}
	return nil, nil
}

// FetchTree recursively walks the repository tree from path, returning the
// decoded content of every text file. Binary and media files are skipped by
// extension. Any directory listing failure aborts the walk.
func (s *GitHubService) FetchTree(ctx context.Context, token, owner, name, path string) ([]RepoFile, error) {
	client := s.clientFactory(token)
	return s.fetchTree(ctx, client, owner, name, path)
}

func (s *GitHubService) fetchTree(ctx context.Context, client *github.Client, owner, name, path string) ([]RepoFile, error) {
	_, entries, _, err := client.Repositories.GetContents(ctx, owner, name, path, nil)
	if err != nil {
		return nil, s.wrapError(path, err)
	}

	var files []RepoFile
	for _, entry := range entries {
		switch entry.GetType() {
		case "dir":
			nested, err := s.fetchTree(ctx, client, owner, name, entry.GetPath())
			if err != nil {
				return nil, err
			}
			files = append(files, nested...)
		case "file":
			if binaryExtensions[strings.ToLower(filepath.Ext(entry.GetName()))] {
				continue
			}

			content, err := s.fetchFileContent(ctx, client, owner, name, entry.GetPath())
			if err != nil {
				// One unreadable file does not sink the walk
				logger.WithError(err).Warnf("Skipping unreadable file %s", entry.GetPath())
				continue
			}
			files = append(files, RepoFile{Path: entry.GetPath(), Content: content})
		}
	}

	return files, nil
}

func (s *GitHubService) fetchFileContent(ctx context.Context, client *github.Client, owner, name, path string) (string, error) {
	file, _, _, err := client.Repositories.GetContents(ctx, owner, name, path, nil)
	if err != nil {
		return "", s.wrapError(path, err)
	}
	if file == nil {
		return "", &models.ContentFetchError{Path: path, Err: fmt.Errorf("expected file content")}
	}

	content, err := file.GetContent()
	if err != nil {
		return "", &models.ContentFetchError{Path: path, Err: err}
	}
	return content, nil
}

// FetchPullRequestDiff fetches the PR metadata and its unified diff
func (s *GitHubService) FetchPullRequestDiff(ctx context.Context, token, owner, name string, prNumber int) (*PullRequestDiff, error) {
	client := s.clientFactory(token)

	pr, _, err := client.PullRequests.Get(ctx, owner, name, prNumber)
	if err != nil {
		return nil, s.wrapError("", err)
	}

	diff, _, err := client.PullRequests.GetRaw(ctx, owner, name, prNumber, github.RawOptions{Type: github.Diff})
	if err != nil {
		return nil, s.wrapError("", err)
	}

	return &PullRequestDiff{
		Title:            pr.GetTitle(),
		Description:      pr.GetBody(),
		Diff:             diff,
		URL:              pr.GetHTMLURL(),
		BaseRepositoryID: pr.GetBase().GetRepo().GetID(),
	}, nil
}

// PostReviewComment posts the review as an issue comment on the pull request.
// Failures are surfaced, not retried here; retrying is the orchestrator's call.
func (s *GitHubService) PostReviewComment(ctx context.Context, token, owner, name string, prNumber int, body string) error {
	client := s.clientFactory(token)

	_, _, err := client.Issues.CreateComment(ctx, owner, name, prNumber, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return s.wrapError("", err)
	}
	return nil
}

// wrapError translates GitHub API failures into the domain error taxonomy:
// credential problems become NotLinkedError, everything else becomes a
// ContentFetchError flagged retryable for rate limits, 5xx and network faults.
func (s *GitHubService) wrapError(path string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return &models.ContentFetchError{Path: path, Retryable: true, Err: err}
	}

	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		switch {
		case errResp.Response.StatusCode == http.StatusUnauthorized:
			return &models.NotLinkedError{}
		case errResp.Response.StatusCode >= http.StatusInternalServerError:
			return &models.ContentFetchError{Path: path, Retryable: true, Err: err}
		default:
			return &models.ContentFetchError{Path: path, Retryable: false, Err: err}
		}
	}

	// No structured response: assume a network fault and let the caller retry
	return &models.ContentFetchError{Path: path, Retryable: true, Err: err}
}
