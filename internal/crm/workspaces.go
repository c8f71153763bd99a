package crm

import (
	"context"
	"fmt"
	"time"

	"crm-backend/internal/cache"
	"crm-backend/internal/models"
	"crm-backend/internal/remote"
)

// Membership changes rarely; it is checked on every workspace request.
var membershipRead = cache.QueryOptions{StaleTime: time.Minute}

func (s *Service) membersQuery(ws string) *cache.Query[[]models.WorkspaceMember] {
	return cache.NewQuery(s.qc, MembersKey(ws), func(ctx context.Context) ([]models.WorkspaceMember, error) {
		var out []models.WorkspaceMember
		if err := s.db.Select(ctx, "workspace_members", remote.Where(remote.Eq("workspace_id", ws)), &out); err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		return out, nil
	}, membershipRead)
}

func (s *Service) Members(ctx context.Context, ws string) cache.Result[[]models.WorkspaceMember] {
	return s.membersQuery(ws).Get(ctx)
}

// IsMember implements middleware.MembershipChecker.
func (s *Service) IsMember(ctx context.Context, ws, userID string) (bool, error) {
	res := s.membersQuery(ws).Get(ctx)
	if res.Err != nil {
		return false, res.Err
	}
	for _, m := range res.Data {
		if m.UserID.String() == userID {
			return true, nil
		}
	}
	return false, nil
}

// WorkspacesForUser lists the workspaces userID is a member of.
func (s *Service) WorkspacesForUser(ctx context.Context, userID string) cache.Result[[]models.Workspace] {
	return cache.NewQuery(s.qc, WorkspacesKey(userID), func(ctx context.Context) ([]models.Workspace, error) {
		var members []models.WorkspaceMember
		if err := s.db.Select(ctx, "workspace_members", remote.Where(remote.Eq("user_id", userID)), &members); err != nil {
			return nil, fmt.Errorf("list memberships: %w", err)
		}
		if len(members) == 0 {
			return []models.Workspace{}, nil
		}
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.WorkspaceID.String()
		}
		var out []models.Workspace
		q := remote.Where(remote.InStrings("id", ids)).OrderBy("name", false)
		if err := s.db.Select(ctx, "workspaces", q, &out); err != nil {
			return nil, fmt.Errorf("list workspaces: %w", err)
		}
		return out, nil
	}, membershipRead).Get(ctx)
}
