package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/stackdeck/stackdeck/internal/model"
	"github.com/stackdeck/stackdeck/internal/portainer"
	"gorm.io/gorm"
)

// PortainerAPI is the subset of the Portainer client the service depends on.
type PortainerAPI interface {
	ListStacks(ctx context.Context) ([]portainer.RemoteStack, error)
	ListWebhooks(ctx context.Context, stackID uint) ([]string, error)
	GetImageStatus(ctx context.Context, stackID uint, refresh bool) (*portainer.Indicator, error)
	TriggerWebhook(ctx context.Context, webhookURL string) error
}

// Broadcaster pushes change events to connected dashboard clients.
type Broadcaster interface {
	BroadcastStack(stack *model.Stack)
	BroadcastStaleness(entries []StalenessEntry)
}

// StalenessEntry is one element of a staleness broadcast payload.
type StalenessEntry struct {
	ID         uint `json:"id"`
	IsOutdated bool `json:"is_outdated"`
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors,omitempty"`
}

// SweepResult summarizes one auto-update sweep.
type SweepResult struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

// StackService handles business logic for tracked stacks: CRUD, status
// checks against Portainer, webhook update triggers, remote import and the
// periodic auto-update sweep.
type StackService struct {
	db     *gorm.DB
	client PortainerAPI
	hub    Broadcaster
	logger *slog.Logger
}

// NewStackService creates a new StackService
func NewStackService(db *gorm.DB, client PortainerAPI, hub Broadcaster, logger *slog.Logger) *StackService {
	return &StackService{db: db, client: client, hub: hub, logger: logger}
}

// List returns all stacks ordered by name
func (s *StackService) List() ([]model.Stack, error) {
	var stacks []model.Stack
	err := s.db.Order("name ASC").Find(&stacks).Error
	return stacks, err
}

// Get returns a single stack by ID
func (s *StackService) Get(id uint) (*model.Stack, error) {
	var stack model.Stack
	if err := s.db.First(&stack, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &stack, nil
}

// Create validates and persists a new stack. Nothing is written when
// validation fails.
func (s *StackService) Create(req *model.StackCreateRequest) (*model.Stack, error) {
	if err := validateStackRequest(req); err != nil {
		return nil, err
	}

	var count int64
	s.db.Model(&model.Stack{}).Where("webhook_url = ?", req.WebhookURL).Count(&count)
	if count > 0 {
		return nil, &ValidationError{Field: "webhook_url", Message: "already tracked by another stack"}
	}

	stack := &model.Stack{
		Name:                    req.Name,
		Description:             req.Description,
		WebhookURL:              req.WebhookURL,
		AutoUpdateEnabled:       req.AutoUpdateEnabled,
		AutoUpdateIntervalHours: req.AutoUpdateIntervalHours,
		ImageStatus:             string(model.StatusUnknown),
	}
	if err := s.db.Create(stack).Error; err != nil {
		return nil, err
	}

	s.hub.BroadcastStack(stack)
	return stack, nil
}

// Update validates and applies edits to an existing stack.
func (s *StackService) Update(id uint, req *model.StackCreateRequest) (*model.Stack, error) {
	if err := validateStackRequest(req); err != nil {
		return nil, err
	}

	stack, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	var count int64
	s.db.Model(&model.Stack{}).Where("webhook_url = ? AND id <> ?", req.WebhookURL, id).Count(&count)
	if count > 0 {
		return nil, &ValidationError{Field: "webhook_url", Message: "already tracked by another stack"}
	}

	stack.Name = req.Name
	stack.Description = req.Description
	stack.WebhookURL = req.WebhookURL
	stack.AutoUpdateEnabled = req.AutoUpdateEnabled
	stack.AutoUpdateIntervalHours = req.AutoUpdateIntervalHours
	if err := s.db.Save(stack).Error; err != nil {
		return nil, err
	}

	s.hub.BroadcastStack(stack)
	return stack, nil
}

// Delete removes a stack permanently
func (s *StackService) Delete(id uint) error {
	res := s.db.Delete(&model.Stack{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAutoUpdate enables or disables automatic updates for a stack.
func (s *StackService) SetAutoUpdate(id uint, enabled bool, intervalHours float64) (*model.Stack, error) {
	if enabled && intervalHours <= 0 {
		return nil, &ValidationError{Field: "interval_hours", Message: "must be positive when auto-update is enabled"}
	}

	stack, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	stack.AutoUpdateEnabled = enabled
	if enabled {
		stack.AutoUpdateIntervalHours = intervalHours
	}
	if err := s.db.Save(stack).Error; err != nil {
		return nil, err
	}

	s.hub.BroadcastStack(stack)
	return stack, nil
}

// CheckStatus fetches the current image indicator from Portainer and
// persists it. When refresh is true Portainer re-inspects images instead of
// serving its cached indicator. On upstream failure the stack is marked with
// status "error" (with the failure time as the check time) and the error is
// still surfaced to the caller.
func (s *StackService) CheckStatus(ctx context.Context, id uint, refresh bool) (*model.Stack, error) {
	stack, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ind, err := s.client.GetImageStatus(ctx, stack.ID, refresh)
	if err != nil {
		s.logger.Error("image status check failed", "stack_id", id, "error", err)

		stack.ImageStatus = string(model.StatusError)
		stack.ImageMessage = fmt.Sprintf("failed to fetch indicator: %v", err)
		stack.ImageLastChecked = &now
		if dbErr := s.persistIndicator(stack); dbErr != nil {
			return nil, dbErr
		}
		s.hub.BroadcastStack(stack)
		return stack, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	status := model.PersistableStatus(model.NormalizeStatus(ind.Status))
	stack.ImageStatus = string(status)
	stack.ImageMessage = ind.Message
	stack.ImageLastChecked = &now
	if err := s.persistIndicator(stack); err != nil {
		return nil, err
	}

	s.hub.BroadcastStack(stack)
	return stack, nil
}

// persistIndicator writes only the indicator columns. The row was loaded
// before a network call, so a full-row save here could clobber a concurrent
// trigger's newer last_updated_at.
func (s *StackService) persistIndicator(stack *model.Stack) error {
	return s.db.Model(stack).Updates(map[string]any{
		"image_status":       stack.ImageStatus,
		"image_message":      stack.ImageMessage,
		"image_last_checked": stack.ImageLastChecked,
	}).Error
}

// TriggerUpdate fires the stack's update webhook. On success the update
// timestamp is recorded and the indicator is re-checked so the dashboard
// reflects the new state. Webhook failures mark the stack with status
// "error" and surface the remote status code.
func (s *StackService) TriggerUpdate(ctx context.Context, id uint) (*model.Stack, error) {
	return s.triggerUpdate(ctx, id, false)
}

func (s *StackService) triggerUpdate(ctx context.Context, id uint, forceRecheck bool) (*model.Stack, error) {
	stack, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if err := s.client.TriggerWebhook(ctx, stack.WebhookURL); err != nil {
		s.logger.Error("webhook trigger failed", "stack_id", id, "error", err)

		stack.ImageStatus = string(model.StatusError)
		stack.ImageMessage = err.Error()
		if dbErr := s.db.Model(stack).Updates(map[string]any{
			"image_status":  stack.ImageStatus,
			"image_message": stack.ImageMessage,
		}).Error; dbErr != nil {
			return nil, dbErr
		}
		s.hub.BroadcastStack(stack)

		var whErr *portainer.WebhookError
		if errors.As(err, &whErr) {
			return stack, &UpdateFailedError{StatusCode: whErr.StatusCode, Body: whErr.Body}
		}
		return stack, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	now := time.Now().UTC()
	// Concurrent triggers race on this column; the guard keeps the recorded
	// timestamp monotonically non-decreasing.
	if err := s.db.Model(&model.Stack{}).
		Where("id = ? AND (last_updated_at IS NULL OR last_updated_at < ?)", stack.ID, now).
		Update("last_updated_at", now).Error; err != nil {
		return nil, err
	}

	updated, err := s.CheckStatus(ctx, id, forceRecheck)
	if err != nil && !errors.Is(err, ErrUpstreamUnavailable) {
		return updated, err
	}

	s.logger.Info("stack update triggered", "stack_id", id, "name", stack.Name)
	return s.Get(id)
}

// ImportFromRemote pulls stacks from the Portainer API and inserts a record
// for every webhook URL not already tracked. Dedup is by exact URL match, so
// running the import twice with unchanged remote data imports nothing new.
// One remote stack's failure does not block importing the others.
func (s *StackService) ImportFromRemote(ctx context.Context) (*ImportResult, error) {
	result := &ImportResult{}

	remotes, err := s.client.ListStacks(ctx)
	if err != nil {
		s.logger.Error("failed to list remote stacks", "error", err)
		return result, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	for _, remote := range remotes {
		if !remote.HasWebhook() {
			continue
		}
		hooks, err := s.client.ListWebhooks(ctx, remote.ID)
		if err != nil {
			s.logger.Warn("skipping remote stack, webhook listing failed", "stack_id", remote.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("stack %s: %v", remote.Name, err))
			continue
		}
		for _, hook := range hooks {
			imported, err := s.importWebhook(remote, hook)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("stack %s: %v", remote.Name, err))
				continue
			}
			if imported {
				result.Imported++
			}
		}
	}

	s.logger.Info("import completed", "imported", result.Imported, "errors", len(result.Errors))
	return result, nil
}

func (s *StackService) importWebhook(remote portainer.RemoteStack, webhookURL string) (bool, error) {
	var count int64
	if err := s.db.Model(&model.Stack{}).Where("webhook_url = ?", webhookURL).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	stack := &model.Stack{
		Name:               remote.Name,
		WebhookURL:         webhookURL,
		ImageStatus:        string(model.StatusUnknown),
		PortainerType:      remote.Type,
		PortainerCreatedAt: remote.CreatedAt,
		PortainerUpdatedAt: remote.UpdatedAt,
	}
	if err := s.db.Create(stack).Error; err != nil {
		return false, err
	}
	s.hub.BroadcastStack(stack)
	return true, nil
}

// Sweep runs one pass over all auto-update-enabled stacks, triggering the
// webhook for every stack whose last update is older than its configured
// interval. Per-stack failures are isolated so one bad webhook does not
// abort the batch. Context cancellation stops between stacks; work already
// done stays persisted.
func (s *StackService) Sweep(ctx context.Context, force bool) (*SweepResult, error) {
	result := &SweepResult{}

	var candidates []model.Stack
	if err := s.db.Where("auto_update_enabled = ?", true).Order("id ASC").Find(&candidates).Error; err != nil {
		return result, err
	}

	now := time.Now().UTC()
	for i := range candidates {
		if ctx.Err() != nil {
			s.logger.Info("sweep interrupted", "processed", result.Total, "remaining", len(candidates)-i)
			break
		}
		stack := &candidates[i]
		if !UpdateDue(stack.AutoUpdateEnabled, stack.AutoUpdateIntervalHours, stack.LastUpdatedAt, now) {
			continue
		}
		result.Total++
		if _, err := s.triggerUpdate(ctx, stack.ID, force); err != nil {
			s.logger.Warn("sweep update failed", "stack_id", stack.ID, "error", err)
			result.Errors++
			continue
		}
		result.Success++
	}

	if err := s.refreshStalenessFlags(); err != nil {
		s.logger.Error("failed to refresh staleness flags", "error", err)
	}

	s.logger.Debug("sweep completed", "total", result.Total, "success", result.Success, "errors", result.Errors)
	return result, nil
}

// RefreshAllIndicators re-checks the image indicator of every stack. Used by
// the background poller tick and the bulk refresh endpoint.
func (s *StackService) RefreshAllIndicators(ctx context.Context, force bool) (*SweepResult, error) {
	result := &SweepResult{}

	stacks, err := s.List()
	if err != nil {
		return result, err
	}

	for i := range stacks {
		if ctx.Err() != nil {
			break
		}
		result.Total++
		if _, err := s.CheckStatus(ctx, stacks[i].ID, force); err != nil {
			result.Errors++
			continue
		}
		result.Success++
	}
	return result, nil
}

// refreshStalenessFlags recomputes the persisted is_outdated flag for every
// stack and broadcasts the staleness payload.
func (s *StackService) refreshStalenessFlags() error {
	stacks, err := s.List()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entries := make([]StalenessEntry, 0, len(stacks))
	for i := range stacks {
		stack := &stacks[i]
		outdated := UpdateDue(stack.AutoUpdateEnabled, stack.AutoUpdateIntervalHours, stack.LastUpdatedAt, now)
		if outdated != stack.IsOutdated {
			if err := s.db.Model(stack).Update("is_outdated", outdated).Error; err != nil {
				return err
			}
		}
		entries = append(entries, StalenessEntry{ID: stack.ID, IsOutdated: outdated})
	}

	s.hub.BroadcastStaleness(entries)
	return nil
}

// validateStackRequest rejects malformed stack definitions before anything
// is persisted.
func validateStackRequest(req *model.StackCreateRequest) error {
	if req.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if err := validateWebhookURL(req.WebhookURL); err != nil {
		return err
	}
	if req.AutoUpdateEnabled && req.AutoUpdateIntervalHours <= 0 {
		return &ValidationError{Field: "auto_update_interval_hours", Message: "must be positive when auto-update is enabled"}
	}
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return &ValidationError{Field: "webhook_url", Message: "must be a valid URL"}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "webhook_url", Message: "must be an absolute http(s) URL"}
	}
	return nil
}
