package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"opsline/internal/domain"
)

// nextLeadNumber mints LEAD-YYYY-NNN inside the insert transaction so
// two concurrent creates cannot take the same suffix.
func (e Engine) nextLeadNumber(ctx context.Context, tx *sql.Tx) (string, error) {
	year := e.now().UTC().Year()
	max, err := e.Repo.MaxLeadSuffixTx(ctx, tx, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LEAD-%d-%03d", year, max+1), nil
}

type LeadCreateOptions struct {
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	CompanyName    string
	Priority       domain.Priority
	EstimatedValue *float64
	Currency       string
	SourceID       *int64
	AssignedTo     *int64
	ActorID        int64
}

func (e Engine) CreateLead(ctx context.Context, opts LeadCreateOptions) (domain.Lead, error) {
	if opts.FirstName == "" {
		return domain.Lead{}, validationf("first name is required")
	}
	if opts.Email == "" {
		return domain.Lead{}, validationf("email is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if err := ensurePriority(opts.Priority); err != nil {
		return domain.Lead{}, err
	}
	if opts.Currency == "" {
		opts.Currency = e.defaultCurrency()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	number, err := e.nextLeadNumber(ctx, tx)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("next lead number: %w", err)
	}
	now := e.nowRFC3339()
	l := domain.Lead{
		Number:         number,
		FirstName:      opts.FirstName,
		LastName:       opts.LastName,
		Email:          strings.ToLower(strings.TrimSpace(opts.Email)),
		Phone:          opts.Phone,
		CompanyName:    opts.CompanyName,
		Status:         domain.LeadNew,
		Priority:       opts.Priority,
		EstimatedValue: opts.EstimatedValue,
		Currency:       opts.Currency,
		SourceID:       opts.SourceID,
		AssignedTo:     opts.AssignedTo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.AssignedTo != nil {
		actorID := opts.ActorID
		l.AssignedBy = &actorID
	}
	id, err := e.Repo.InsertLeadTx(ctx, tx, l)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	l.ID = id
	if err := e.Events.Append(ctx, tx, opts.ActorID, "lead.created", "lead", id, l.Number); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

type LeadUpdateOptions struct {
	LeadID         int64
	FirstName      *string
	LastName       *string
	Email          *string
	Phone          *string
	CompanyName    *string
	Priority       *domain.Priority
	EstimatedValue *float64
	Currency       *string
	ActorID        int64
}

func (e Engine) UpdateLead(ctx context.Context, opts LeadUpdateOptions) (domain.Lead, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, opts.LeadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if l.Status == domain.LeadWon || l.Status == domain.LeadLost {
		return domain.Lead{}, conflictf("lead %s is %s and can no longer be edited", l.Number, l.Status)
	}
	if opts.FirstName != nil {
		if *opts.FirstName == "" {
			return domain.Lead{}, validationf("first name cannot be empty")
		}
		l.FirstName = *opts.FirstName
	}
	if opts.LastName != nil {
		l.LastName = *opts.LastName
	}
	if opts.Email != nil {
		if *opts.Email == "" {
			return domain.Lead{}, validationf("email cannot be empty")
		}
		l.Email = strings.ToLower(strings.TrimSpace(*opts.Email))
	}
	if opts.Phone != nil {
		l.Phone = *opts.Phone
	}
	if opts.CompanyName != nil {
		l.CompanyName = *opts.CompanyName
	}
	if opts.Priority != nil {
		if err := ensurePriority(*opts.Priority); err != nil {
			return domain.Lead{}, err
		}
		l.Priority = *opts.Priority
	}
	if opts.EstimatedValue != nil {
		l.EstimatedValue = opts.EstimatedValue
	}
	if opts.Currency != nil {
		l.Currency = *opts.Currency
	}
	l.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateLeadTx(ctx, tx, l); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Events.Append(ctx, tx, opts.ActorID, "lead.updated", "lead", l.ID, l.Number); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// SetLeadStatus moves a lead through the pipeline. Won is only
// reachable through conversion; Lost requires a reason.
func (e Engine) SetLeadStatus(ctx context.Context, leadID, actorID int64, status domain.LeadStatus, lostReason string) (domain.Lead, error) {
	if err := ensureLeadStatus(status); err != nil {
		return domain.Lead{}, err
	}
	if status == domain.LeadWon {
		return domain.Lead{}, validationf("leads reach Won only by conversion")
	}
	if status == domain.LeadLost && lostReason == "" {
		return domain.Lead{}, validationf("lost reason is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if l.Status == status {
		// no transition, nothing to record
		return l, nil
	}
	if err := ensureLeadTransition(l.Status, status); err != nil {
		return domain.Lead{}, err
	}
	now := e.nowRFC3339()
	prev := l.Status
	l.Status = status
	if status == domain.LeadLost {
		l.LostReason = &lostReason
		l.LostAt = &now
	}
	l.UpdatedAt = now
	if err := e.Repo.UpdateLeadTx(ctx, tx, l); err != nil {
		return domain.Lead{}, err
	}
	a := domain.LeadActivity{
		LeadID:      l.ID,
		Type:        "Status Change",
		Subject:     "Status Updated",
		Description: fmt.Sprintf("Status changed from %s to %s", prev, status),
		PerformedBy: actorID,
		PerformedAt: now,
	}
	if _, err := e.Repo.InsertLeadActivityTx(ctx, tx, a); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Events.Append(ctx, tx, actorID, "lead.status_changed", "lead", l.ID, string(status)); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// AssignLead hands a lead to a user and records who did it.
func (e Engine) AssignLead(ctx context.Context, leadID, assigneeID, actorID int64) (domain.Lead, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if l.Status == domain.LeadWon || l.Status == domain.LeadLost {
		return domain.Lead{}, conflictf("lead %s is %s and can no longer be assigned", l.Number, l.Status)
	}
	u, err := e.Repo.GetUserTx(ctx, tx, assigneeID)
	if err != nil {
		return domain.Lead{}, err
	}
	if !u.IsActive {
		return domain.Lead{}, validationf("cannot assign lead to inactive user %d", u.ID)
	}
	now := e.nowRFC3339()
	l.AssignedTo = &assigneeID
	l.AssignedBy = &actorID
	l.UpdatedAt = now
	if err := e.Repo.UpdateLeadTx(ctx, tx, l); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Events.Append(ctx, tx, actorID, "lead.assigned", "lead", l.ID, u.FullName); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// DeleteLead is a soft delete: the lead becomes Lost with the fixed
// reason "Deleted" and stays in the book for reporting.
func (e Engine) DeleteLead(ctx context.Context, leadID, actorID int64) (domain.Lead, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if l.ConvertedToClientID != nil {
		return domain.Lead{}, conflictf("lead %s was converted and cannot be deleted", l.Number)
	}
	if l.Status == domain.LeadLost {
		return domain.Lead{}, conflictf("lead %s is already lost", l.Number)
	}
	now := e.nowRFC3339()
	reason := "Deleted"
	l.Status = domain.LeadLost
	l.LostReason = &reason
	l.LostAt = &now
	l.UpdatedAt = now
	if err := e.Repo.UpdateLeadTx(ctx, tx, l); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Events.Append(ctx, tx, actorID, "lead.deleted", "lead", l.ID, l.Number); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// LeadConvertOptions controls conversion. A client record is always
// created; a project is optional.
type LeadConvertOptions struct {
	LeadID          int64
	ClientTier      string
	ConversionNotes string
	CreateProject   bool
	ProjectName     string
	ProjectType     string
	TotalBudget     float64
	Currency        string
	ActorID         int64
}

// ConversionResult reports everything conversion produced.
type ConversionResult struct {
	Lead    domain.Lead     `json:"lead"`
	Client  domain.Client   `json:"client"`
	Project *domain.Project `json:"project,omitempty"`
}

// ConvertLead turns a qualified lead into a client, optionally with a
// first project. The whole conversion is one transaction: a second
// concurrent convert sees the updated row and fails with a conflict.
func (e Engine) ConvertLead(ctx context.Context, opts LeadConvertOptions) (ConversionResult, error) {
	if opts.CreateProject && opts.ProjectName == "" {
		return ConversionResult{}, validationf("project name is required when creating a project")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ConversionResult{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, opts.LeadID)
	if err != nil {
		return ConversionResult{}, err
	}
	if l.ConvertedToClientID != nil {
		return ConversionResult{}, conflictf("lead %s already converted", l.Number)
	}
	if l.Status == domain.LeadLost {
		return ConversionResult{}, conflictf("lead %s is lost and cannot be converted", l.Number)
	}

	now := e.nowRFC3339()
	tier := opts.ClientTier
	if tier == "" {
		tier = "Standard"
	}
	companyName := l.CompanyName
	if companyName == "" {
		companyName = strings.TrimSpace(l.FirstName + " " + l.LastName)
	}
	c := domain.Client{
		CompanyName:   companyName,
		ContactPerson: strings.TrimSpace(l.FirstName + " " + l.LastName),
		Email:         l.Email,
		Phone:         l.Phone,
		Tier:          tier,
		Status:        "Active",
		CreatedAt:     now,
	}
	clientID, err := e.Repo.InsertClientTx(ctx, tx, c, now)
	if err != nil {
		return ConversionResult{}, fmt.Errorf("insert client: %w", err)
	}
	c.ID = clientID

	l.Status = domain.LeadWon
	l.ConvertedToClientID = &clientID
	l.ConvertedAt = &now
	if opts.ConversionNotes != "" {
		l.ConversionNotes = &opts.ConversionNotes
	}
	l.UpdatedAt = now
	if err := e.Repo.UpdateLeadTx(ctx, tx, l); err != nil {
		return ConversionResult{}, err
	}

	var project *domain.Project
	if opts.CreateProject {
		currency := opts.Currency
		if currency == "" {
			currency = l.Currency
		}
		p, err := e.createProjectTx(ctx, tx, ProjectCreateOptions{
			ClientID:    clientID,
			Name:        opts.ProjectName,
			Type:        opts.ProjectType,
			TotalBudget: opts.TotalBudget,
			Currency:    currency,
			Priority:    l.Priority,
			ActorID:     opts.ActorID,
		}, now)
		if err != nil {
			return ConversionResult{}, err
		}
		project = &p
	}

	if err := e.Events.Append(ctx, tx, opts.ActorID, "lead.converted", "lead", l.ID, c.CompanyName); err != nil {
		return ConversionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ConversionResult{}, err
	}
	return ConversionResult{Lead: l, Client: c, Project: project}, nil
}

func (e Engine) AddLeadActivity(ctx context.Context, leadID, actorID int64, activityType, subject, description string) (domain.LeadActivity, error) {
	if activityType == "" || subject == "" {
		return domain.LeadActivity{}, validationf("activity type and subject are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LeadActivity{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetLeadTx(ctx, tx, leadID); err != nil {
		return domain.LeadActivity{}, err
	}
	a := domain.LeadActivity{
		LeadID:      leadID,
		Type:        activityType,
		Subject:     subject,
		Description: description,
		PerformedBy: actorID,
		PerformedAt: e.nowRFC3339(),
	}
	id, err := e.Repo.InsertLeadActivityTx(ctx, tx, a)
	if err != nil {
		return domain.LeadActivity{}, err
	}
	a.ID = id
	if err := tx.Commit(); err != nil {
		return domain.LeadActivity{}, err
	}
	return a, nil
}

func (e Engine) AddLeadNote(ctx context.Context, leadID, actorID int64, note string, important bool) (domain.LeadNote, error) {
	if note == "" {
		return domain.LeadNote{}, validationf("note is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LeadNote{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetLeadTx(ctx, tx, leadID); err != nil {
		return domain.LeadNote{}, err
	}
	now := e.nowRFC3339()
	n := domain.LeadNote{LeadID: leadID, Note: note, IsImportant: important, CreatedBy: actorID, CreatedAt: now}
	id, err := e.Repo.InsertLeadNoteTx(ctx, tx, n, now)
	if err != nil {
		return domain.LeadNote{}, err
	}
	n.ID = id
	if err := tx.Commit(); err != nil {
		return domain.LeadNote{}, err
	}
	return n, nil
}

func ensureLeadStatus(s domain.LeadStatus) error {
	switch s {
	case domain.LeadNew, domain.LeadContacted, domain.LeadQualified, domain.LeadProposal, domain.LeadNegotiation, domain.LeadWon, domain.LeadLost:
		return nil
	}
	return validationf("unknown lead status %q", s)
}

func ensureLeadTransition(oldStatus, newStatus domain.LeadStatus) error {
	if oldStatus == domain.LeadWon || oldStatus == domain.LeadLost {
		return ConflictError{Msg: fmt.Sprintf("lead is %s, no further transitions allowed", oldStatus)}
	}
	// The funnel only moves forward, except that any open lead can be
	// marked Lost.
	order := map[domain.LeadStatus]int{
		domain.LeadNew:         0,
		domain.LeadContacted:   1,
		domain.LeadQualified:   2,
		domain.LeadProposal:    3,
		domain.LeadNegotiation: 4,
	}
	if newStatus == domain.LeadLost {
		return nil
	}
	from, ok := order[oldStatus]
	if !ok {
		return ConflictError{Msg: fmt.Sprintf("invalid lead transition %s -> %s", oldStatus, newStatus)}
	}
	to, ok := order[newStatus]
	if !ok || to <= from {
		return ConflictError{Msg: fmt.Sprintf("invalid lead transition %s -> %s", oldStatus, newStatus)}
	}
	return nil
}
