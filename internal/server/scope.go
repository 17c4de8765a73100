package server

import (
	"context"
	"errors"

	"opsline/internal/authz"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/repo"
)

// Resource context loaders: gather the caller/record relationship
// facts the pure authorization engine needs.

func projectResourceContext(ctx context.Context, e engine.Engine, id domain.Identity, p domain.Project) (authz.ResourceContext, error) {
	var rc authz.ResourceContext
	var err error
	rc.IsManager, err = e.Repo.IsActiveManager(ctx, p.ID, id.UserID)
	if err != nil {
		return rc, err
	}
	rc.IsTeamMember, err = e.Repo.IsActiveTeamMember(ctx, p.ID, id.UserID)
	if err != nil {
		return rc, err
	}
	rc.OwnsClient, err = ownsClient(ctx, e, id, p.ClientID)
	if err != nil {
		return rc, err
	}
	return rc, nil
}

func taskResourceContext(ctx context.Context, e engine.Engine, id domain.Identity, t domain.Task) (authz.ResourceContext, error) {
	rc := authz.ResourceContext{
		IsAssignee: t.AssignedTo != nil && *t.AssignedTo == id.UserID,
		IsAssigner: t.AssignedBy == id.UserID,
	}
	if t.ProjectID != nil {
		var err error
		rc.IsManager, err = e.Repo.IsActiveManager(ctx, *t.ProjectID, id.UserID)
		if err != nil {
			return rc, err
		}
		rc.IsTeamMember, err = e.Repo.IsActiveTeamMember(ctx, *t.ProjectID, id.UserID)
		if err != nil {
			return rc, err
		}
	}
	return rc, nil
}

func leadResourceContext(id domain.Identity, l domain.Lead) authz.ResourceContext {
	return authz.ResourceContext{
		IsAssignee: l.AssignedTo != nil && *l.AssignedTo == id.UserID,
		IsAssigner: l.AssignedBy != nil && *l.AssignedBy == id.UserID,
	}
}

func paymentResourceContext(ctx context.Context, e engine.Engine, id domain.Identity, projectID int64) (authz.ResourceContext, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return authz.ResourceContext{}, err
	}
	return projectResourceContext(ctx, e, id, p)
}

// ownsClient reports whether the client record is linked to the
// caller's user account.
func ownsClient(ctx context.Context, e engine.Engine, id domain.Identity, clientID int64) (bool, error) {
	if !id.HasRole(domain.RoleClient) {
		return false, nil
	}
	ownedID, err := e.Repo.ClientIDForUser(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return ownedID == clientID, nil
}
