package main

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
)

const defaultGothubBaseURL = "https://gothub.dev"

// expandRemote turns shorthand like "gothub:owner/repo" or
// "code.example.com:owner/repo" into a Got endpoint URL. Full URLs are
// returned unchanged.
func expandRemote(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("remote URL is required")
	}
	if strings.Contains(raw, "://") {
		return raw, nil
	}

	provider, repoPath, ok := strings.Cut(raw, ":")
	if !ok {
		return "", fmt.Errorf("remote %q is neither a URL nor host:owner/repo", raw)
	}
	provider = strings.TrimSpace(provider)
	owner, repoName, err := parseOwnerRepo(repoPath)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(provider) {
	case "gothub":
		baseURL, err := normalizeBaseURL(gothubBaseFromEnv(), defaultGothubBaseURL)
		if err != nil {
			return "", err
		}
		return joinGotEndpoint(baseURL, owner, repoName), nil
	case "github", "gh", "gitlab", "gl", "bitbucket", "bb":
		return "", fmt.Errorf("%s remotes speak git, not the got object protocol", provider)
	}
	if strings.Contains(provider, ".") || strings.EqualFold(provider, "localhost") {
		baseURL, err := normalizeBaseURL("https://"+provider, defaultGothubBaseURL)
		if err != nil {
			return "", err
		}
		return joinGotEndpoint(baseURL, owner, repoName), nil
	}
	return "", fmt.Errorf("unknown remote provider %q", provider)
}

func gothubBaseFromEnv() string {
	if v := os.Getenv("REFTREE_GOTHUB_URL"); v != "" {
		return v
	}
	return os.Getenv("GOT_GOTHUB_URL")
}

func normalizeBaseURL(raw, fallback string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		candidate = fallback
	}
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("parse base URL %q: %w", candidate, err)
	}
	if strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base URL must include scheme and host")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

func parseOwnerRepo(raw string) (string, string, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "/")
	parts := strings.Split(raw, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("repository path must be owner/repo")
	}
	owner := strings.TrimSpace(parts[0])
	repoName := strings.TrimSpace(parts[1])
	if owner == "" || repoName == "" {
		return "", "", fmt.Errorf("repository path must include non-empty owner and repo")
	}
	return owner, repoName, nil
}

func joinGotEndpoint(baseURL, owner, repo string) string {
	return strings.TrimRight(baseURL, "/") + path.Join("/got", owner, repo)
}
