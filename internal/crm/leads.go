package crm

import (
	"context"
	"fmt"
	"strings"

	"crm-backend/internal/cache"
	"crm-backend/internal/models"
	"crm-backend/internal/remote"
)

func (s *Service) leadsQuery(ws string, opts cache.QueryOptions) *cache.Query[[]models.Lead] {
	return cache.NewQuery(s.qc, LeadsKey(ws), func(ctx context.Context) ([]models.Lead, error) {
		var out []models.Lead
		q := remote.Where(remote.Eq("workspace_id", ws)).OrderBy("created_at", true)
		if err := s.db.Select(ctx, "leads", q, &out); err != nil {
			return nil, fmt.Errorf("list leads: %w", err)
		}
		return out, nil
	}, opts)
}

func (s *Service) ListLeads(ctx context.Context, ws string) cache.Result[[]models.Lead] {
	return s.leadsQuery(ws, listRead).Get(ctx)
}

func (s *Service) Lead(ctx context.Context, ws, id string) cache.Result[models.Lead] {
	return cache.NewQuery(s.qc, LeadKey(ws, id), func(ctx context.Context) (models.Lead, error) {
		var l models.Lead
		err := s.db.Select(ctx, "leads", remote.Where(remote.Eq("id", id), remote.Eq("workspace_id", ws)), &l)
		return l, err
	}, itemRead).Get(ctx)
}

// FindLeadByPhone returns the lead whose phone normalizes to the same digits,
// or nil. It always reads the current list, and a failed read is returned as
// an error rather than as "no lead".
func (s *Service) FindLeadByPhone(ctx context.Context, ws, phone string) (*models.Lead, error) {
	res := s.leadsQuery(ws, guardRead).Fetch(ctx)
	if res.Err != nil {
		return nil, res.Err
	}
	for i := range res.Data {
		if models.SamePhone(res.Data[i].Phone, phone) {
			lead := res.Data[i]
			return &lead, nil
		}
	}
	return nil, nil
}

type createLead struct {
	ws  string
	req models.CreateLeadRequest
}

// CreateLead inserts the lead and links any unlinked conversation with the
// same phone.
func (s *Service) CreateLead(ctx context.Context, ws string, req models.CreateLeadRequest) (models.Lead, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		ve := &models.ValidationError{}
		ve.Add("name", "required")
		return models.Lead{}, ve
	}
	if req.StageID == "" {
		req.StageID = "new"
	}

	return mutate(ctx, s, createLead{ws: ws, req: req}, s.createLead, cache.MutationOptions[createLead, models.Lead]{
		Invalidates: func(in createLead, _ models.Lead) []cache.Key {
			return []cache.Key{LeadsKey(in.ws), ConversationsKey(in.ws)}
		},
		Success:    func(in createLead, l models.Lead) string { return fmt.Sprintf("Lead %s created", l.Name) },
		ErrorTitle: "Could not create lead",
		Workspace:  func(in createLead) string { return in.ws },
	})
}

func (s *Service) createLead(ctx context.Context, in createLead) (models.Lead, error) {
	row := map[string]interface{}{
		"workspace_id": in.ws,
		"name":         in.req.Name,
		"phone":        in.req.Phone,
		"email":        in.req.Email,
		"stage_id":     in.req.StageID,
		"pipeline_id":  in.req.PipelineID,
		"assigned_to":  in.req.AssignedTo,
		"value":        in.req.Value,
		"source":       in.req.Source,
		"notes":        in.req.Notes,
	}
	var lead models.Lead
	if err := s.db.Insert(ctx, "leads", row, &lead); err != nil {
		return lead, fmt.Errorf("create lead: %w", err)
	}

	if normalized := models.NormalizePhone(lead.Phone); normalized != "" {
		var unlinked []models.Conversation
		err := s.db.Select(ctx, "conversations", remote.Where(
			remote.Eq("workspace_id", in.ws),
			remote.Eq("phone", normalized),
			remote.IsNull("lead_id"),
		), &unlinked)
		if err != nil {
			s.log.WithError(err).Warn("could not look up conversations for new lead")
			return lead, nil
		}
		for _, c := range unlinked {
			if _, err := s.linkLead(ctx, in.ws, c.ID.String(), lead.ID.String()); err != nil {
				s.log.WithError(err).WithField("conversation_id", c.ID).Warn("could not link conversation")
			}
		}
	}
	return lead, nil
}

type updateLead struct {
	ws, id string
	patch  map[string]interface{}
}

func (s *Service) UpdateLead(ctx context.Context, ws, id string, req models.UpdateLeadRequest) (models.Lead, error) {
	patch := map[string]interface{}{"updated_at": s.now()}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			ve := &models.ValidationError{}
			ve.Add("name", "required")
			return models.Lead{}, ve
		}
		patch["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		patch["phone"] = *req.Phone
	}
	if req.Email != nil {
		patch["email"] = *req.Email
	}
	if req.AssignedTo != nil {
		patch["assigned_to"] = req.AssignedTo
	}
	if req.Value != nil {
		patch["value"] = *req.Value
	}
	if req.Notes != nil {
		patch["notes"] = *req.Notes
	}
	return s.patchLead(ctx, updateLead{ws: ws, id: id, patch: patch}, "Lead updated", "Could not update lead")
}

// MoveLead changes the pipeline stage of a lead.
func (s *Service) MoveLead(ctx context.Context, ws, id, stageID string) (models.Lead, error) {
	if stageID == "" {
		ve := &models.ValidationError{}
		ve.Add("stage_id", "required")
		return models.Lead{}, ve
	}
	patch := map[string]interface{}{"stage_id": stageID, "updated_at": s.now()}
	return s.patchLead(ctx, updateLead{ws: ws, id: id, patch: patch}, "", "Could not move lead")
}

func (s *Service) patchLead(ctx context.Context, in updateLead, success, errorTitle string) (models.Lead, error) {
	return mutate(ctx, s, in, func(ctx context.Context, in updateLead) (models.Lead, error) {
		var lead models.Lead
		err := s.db.Update(ctx, "leads", []remote.Filter{remote.Eq("id", in.id), remote.Eq("workspace_id", in.ws)}, in.patch, &lead)
		return lead, err
	}, cache.MutationOptions[updateLead, models.Lead]{
		Invalidates: func(in updateLead, _ models.Lead) []cache.Key { return []cache.Key{LeadsKey(in.ws)} },
		Success: func(updateLead, models.Lead) string {
			return success
		},
		ErrorTitle: errorTitle,
		Workspace:  func(in updateLead) string { return in.ws },
	})
}

type leadRef struct {
	ws, id string
}

func (s *Service) DeleteLead(ctx context.Context, ws, id string) error {
	_, err := mutate(ctx, s, leadRef{ws, id}, func(ctx context.Context, in leadRef) (struct{}, error) {
		return struct{}{}, s.db.Delete(ctx, "leads", []remote.Filter{remote.Eq("id", in.id), remote.Eq("workspace_id", in.ws)})
	}, cache.MutationOptions[leadRef, struct{}]{
		Invalidates: func(in leadRef, _ struct{}) []cache.Key {
			return []cache.Key{LeadsKey(in.ws), LeadTagsKey(in.ws), ConversationsKey(in.ws)}
		},
		Success:    func(leadRef, struct{}) string { return "Lead deleted" },
		ErrorTitle: "Could not delete lead",
		Workspace:  func(in leadRef) string { return in.ws },
	})
	return err
}

func (s *Service) ListTags(ctx context.Context, ws string) cache.Result[[]models.Tag] {
	return cache.NewQuery(s.qc, TagsKey(ws), func(ctx context.Context) ([]models.Tag, error) {
		var out []models.Tag
		err := s.db.Select(ctx, "tags", remote.Where(remote.Eq("workspace_id", ws)).OrderBy("name", false), &out)
		return out, err
	}, listRead).Get(ctx)
}

func (s *Service) LeadTags(ctx context.Context, ws string) cache.Result[[]models.LeadTag] {
	return cache.NewQuery(s.qc, LeadTagsKey(ws), func(ctx context.Context) ([]models.LeadTag, error) {
		var out []models.LeadTag
		err := s.db.Select(ctx, "lead_tags", remote.Where(remote.Eq("workspace_id", ws)), &out)
		return out, err
	}, listRead).Get(ctx)
}

// TagsOf returns the tag ids attached to a lead.
func (s *Service) TagsOf(ctx context.Context, ws, leadID string) ([]string, error) {
	res := s.LeadTags(ctx, ws)
	if res.Err != nil {
		return nil, res.Err
	}
	var ids []string
	for _, lt := range res.Data {
		if lt.LeadID.String() == leadID {
			ids = append(ids, lt.TagID.String())
		}
	}
	return ids, nil
}

type leadTag struct {
	ws, leadID, tagID string
}

// AddTag attaches a tag to a lead. Attaching it twice is not an error.
func (s *Service) AddTag(ctx context.Context, ws, leadID, tagID string) error {
	_, err := mutate(ctx, s, leadTag{ws, leadID, tagID}, func(ctx context.Context, in leadTag) (struct{}, error) {
		err := s.db.Insert(ctx, "lead_tags", map[string]interface{}{
			"lead_id":      in.leadID,
			"tag_id":       in.tagID,
			"workspace_id": in.ws,
		}, nil)
		if remote.IsConflict(err) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	}, leadTagOptions("Could not add tag"))
	return err
}

func (s *Service) RemoveTag(ctx context.Context, ws, leadID, tagID string) error {
	_, err := mutate(ctx, s, leadTag{ws, leadID, tagID}, func(ctx context.Context, in leadTag) (struct{}, error) {
		return struct{}{}, s.db.Delete(ctx, "lead_tags", []remote.Filter{
			remote.Eq("lead_id", in.leadID),
			remote.Eq("tag_id", in.tagID),
			remote.Eq("workspace_id", in.ws),
		})
	}, leadTagOptions("Could not remove tag"))
	return err
}

func leadTagOptions(errorTitle string) cache.MutationOptions[leadTag, struct{}] {
	return cache.MutationOptions[leadTag, struct{}]{
		Invalidates: func(in leadTag, _ struct{}) []cache.Key { return []cache.Key{LeadTagsKey(in.ws)} },
		ErrorTitle:  errorTitle,
		Workspace:   func(in leadTag) string { return in.ws },
	}
}
