package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"pr-thread-notifier/internal/config"
	"pr-thread-notifier/internal/log"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v73/github"
)

var (
	// ErrNoInstallation is returned when an organization has no recorded
	// GitHub App installation.
	ErrNoInstallation = errors.New("organization has no app installation")
)

const maxMembersPerPage = 100

// GitHubService provides GitHub API access authenticated as the app's
// installation for each organization. Installation transports mint and
// refresh short-lived tokens on their own, so clients are cached per
// installation.
type GitHubService struct {
	appID      int64
	privateKey []byte
	baseRT     http.RoundTripper

	clientCache map[int64]*github.Client // keyed by installation ID
	cacheMutex  sync.RWMutex
}

// NewGitHubService creates a new GitHubService from the app credentials.
func NewGitHubService(cfg *config.Config) *GitHubService {
	return &GitHubService{
		appID:       cfg.GitHubAppID,
		privateKey:  []byte(cfg.GitHubPrivateKey),
		baseRT:      http.DefaultTransport,
		clientCache: make(map[int64]*github.Client),
	}
}

func (s *GitHubService) clientFor(installationID int64) (*github.Client, error) {
	if installationID == 0 {
		return nil, ErrNoInstallation
	}

	s.cacheMutex.RLock()
	client, ok := s.clientCache[installationID]
	s.cacheMutex.RUnlock()
	if ok {
		return client, nil
	}

	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()
	if client, ok = s.clientCache[installationID]; ok {
		return client, nil
	}

	transport, err := ghinstallation.New(s.baseRT, s.appID, installationID, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create installation transport: %w", err)
	}

	client = github.NewClient(&http.Client{Transport: transport})
	s.clientCache[installationID] = client
	return client, nil
}

// OrgMember is a GitHub organization member as seen by the username sync.
type OrgMember struct {
	Login string
	Email string
}

// ListOrgMembers fetches all members of an organization, following
// pagination. Members without a public email come back with Email empty.
func (s *GitHubService) ListOrgMembers(
	ctx context.Context, installationID int64, orgLogin string,
) ([]OrgMember, error) {
	client, err := s.clientFor(installationID)
	if err != nil {
		return nil, err
	}

	opts := &github.ListMembersOptions{
		ListOptions: github.ListOptions{PerPage: maxMembersPerPage},
	}

	var members []OrgMember
	for {
		users, resp, err := client.Organizations.ListMembers(ctx, orgLogin, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list members of %s: %w", orgLogin, err)
		}
		for _, user := range users {
			members = append(members, OrgMember{
				Login: user.GetLogin(),
				Email: user.GetEmail(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	log.Debug(ctx, "Listed organization members",
		"org_login", orgLogin,
		"member_count", len(members),
	)
	return members, nil
}

// GetUserEmail fetches a user's public profile email, which the member
// listing omits. Returns empty when the user hides their email.
func (s *GitHubService) GetUserEmail(ctx context.Context, installationID int64, login string) (string, error) {
	client, err := s.clientFor(installationID)
	if err != nil {
		return "", err
	}

	user, _, err := client.Users.Get(ctx, login)
	if err != nil {
		return "", fmt.Errorf("failed to fetch user %s: %w", login, err)
	}
	return user.GetEmail(), nil
}
