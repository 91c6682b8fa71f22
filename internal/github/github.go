package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/util"
)

// Base URLs for the GitHub API shapes we understand. Overridable for tests.
var (
	APIBaseURL      = "https://api.github.com"
	CodeloadBaseURL = "https://codeload.github.com"
	RawBaseURL      = "https://raw.githubusercontent.com"
	DownloadBaseURL = "https://github.com"
)

// Commit is the part of the branch/tag API response we care about.
type Commit struct {
	SHA string `json:"sha"`
}

type refResponse struct {
	Name   string `json:"name"`
	Commit Commit `json:"commit"`
}

// RepoSlug extracts "owner/name" from a repository root URL. Only github.com
// is understood; any other host is a transport error.
func RepoSlug(repoURL string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", merr.Wrap(merr.ErrParse, err)
	}
	if u.Host != "github.com" {
		return "", merr.Errorf(merr.ErrHTTP, "unsupported repository host %q, only github.com is supported", u.Host)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", merr.Errorf(merr.ErrParse, "invalid repository url %q, expected github.com/owner/name", repoURL)
	}
	return parts[0] + "/" + parts[1], nil
}

// Branch resolves a branch name to its head commit sha.
func Branch(ctx context.Context, repoURL, branch string) (string, error) {
	slug, err := RepoSlug(repoURL)
	if err != nil {
		return "", err
	}
	var ref refResponse
	if err := getJSON(ctx, fmt.Sprintf("%s/repos/%s/branches/%s", APIBaseURL, slug, url.PathEscape(branch)), &ref); err != nil {
		return "", err
	}
	return ref.Commit.SHA, nil
}

// Tag resolves a tag name to its commit sha.
func Tag(ctx context.Context, repoURL, tag string) (string, error) {
	slug, err := RepoSlug(repoURL)
	if err != nil {
		return "", err
	}
	// the tags endpoint returns a list, filter it ourselves
	var tags []refResponse
	if err := getJSON(ctx, fmt.Sprintf("%s/repos/%s/tags", APIBaseURL, slug), &tags); err != nil {
		return "", err
	}
	for _, t := range tags {
		if t.Name == tag {
			return t.Commit.SHA, nil
		}
	}
	return "", merr.Errorf(merr.ErrNotFound, "tag %q not found in %s", tag, slug)
}

// DownloadArchive fetches the repository contents at the given commit as a
// zip archive. The archive wraps everything in a synthetic root folder,
// which extraction strips again.
func DownloadArchive(ctx context.Context, repoURL, commit string) ([]byte, error) {
	slug, err := RepoSlug(repoURL)
	if err != nil {
		return nil, err
	}
	return getBytes(ctx, fmt.Sprintf("%s/%s/zip/%s", CodeloadBaseURL, slug, commit), 5*time.Minute, "downloading")
}

// RawFile fetches a single file from the repository at the given ref.
func RawFile(ctx context.Context, repoURL, ref, path string) ([]byte, error) {
	slug, err := RepoSlug(repoURL)
	if err != nil {
		return nil, err
	}
	return getBytes(ctx, fmt.Sprintf("%s/%s/%s/%s", RawBaseURL, slug, ref, strings.TrimPrefix(path, "/")), time.Minute, "")
}

// ReleaseAsset downloads a named artifact from a release tag.
func ReleaseAsset(ctx context.Context, repoURL, tag, name string) ([]byte, error) {
	slug, err := RepoSlug(repoURL)
	if err != nil {
		return nil, err
	}
	return getBytes(ctx, fmt.Sprintf("%s/%s/releases/download/%s/%s", DownloadBaseURL, slug, tag, name), 5*time.Minute, "downloading")
}

func getJSON(ctx context.Context, rawURL string, out any) error {
	data, err := getBytes(ctx, rawURL, 15*time.Second, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return merr.Wrap(merr.ErrParse, err)
	}
	return nil
}

// getBytes drains a GET response into memory. A non-empty label renders a
// transferred-bytes counter, used for the multi-minute archive and release
// downloads.
func getBytes(ctx context.Context, rawURL string, timeout time.Duration, label string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, merr.Wrap(merr.ErrHTTP, err)
	}
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, merr.Wrap(merr.ErrHTTP, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, merr.Errorf(merr.ErrNotFound, "%s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, merr.Errorf(merr.ErrHTTP, "%s returned %s", rawURL, resp.Status)
	}
	if label == "" {
		return io.ReadAll(resp.Body)
	}
	return util.ReadWithProgress(resp.Body, resp.ContentLength, label)
}
