package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pesio-ai/be-mkt-approvals/internal/httpclient"
)

// TeamMember is one user record returned by the identity service.
type TeamMember struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	OpenApprovals int    `json:"open_approvals"`
}

type listTeamResponse struct {
	Members []TeamMember `json:"members"`
}

type listUsersResponse struct {
	UserIDs []string `json:"user_ids"`
}

// IdentityClient calls the platform identity service over HTTP. Identity
// resolution for the acting caller happens before requests reach this
// service; this client only answers pool queries (who is on the team, who
// holds a role).
type IdentityClient struct {
	client *httpclient.Client
}

// NewIdentityClient creates a client for the identity service.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{client: httpclient.NewClient(baseURL)}
}

// GetTeamMembers returns the approver candidates for a workspace, including
// each member's current open-approval workload.
func (c *IdentityClient) GetTeamMembers(ctx context.Context, workspaceID string) ([]TeamMember, error) {
	path := fmt.Sprintf("/api/v1/workspaces/%s/members", url.PathEscape(workspaceID))

	var resp listTeamResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return resp.Members, nil
}

// GetUsersWithRole returns user ids holding the given role. Used to expand
// role audiences (e.g. admins notified on reject/escalate) into recipients.
func (c *IdentityClient) GetUsersWithRole(ctx context.Context, role string) ([]string, error) {
	path := fmt.Sprintf("/api/v1/users?role=%s", url.QueryEscape(role))

	var resp listUsersResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to list users with role %s: %w", role, err)
	}
	return resp.UserIDs, nil
}
