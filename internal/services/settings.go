package services

import (
	"context"
	"net/url"
	"strings"

	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/repository"
)

// Setting keys
const (
	SettingRemoteURL   = "remote_url"
	SettingRemoteToken = "remote_token"
	SettingBaseURL     = "base_url"
	SettingTeamID      = "team_id"
)

// RemoteConfigurer is the part of the remote client that settings change
type RemoteConfigurer interface {
	SetBaseURL(url string)
	SetToken(token string)
}

// SettingsRepository is the persistence the settings service needs
type SettingsRepository interface {
	repository.SettingsRepository
	ClearNamespace(ctx context.Context, ns repository.Namespace) error
}

// SettingsService handles settings-related business logic
type SettingsService struct {
	log    logger.Logger
	repo   SettingsRepository
	remote RemoteConfigurer
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(log logger.Logger, repo SettingsRepository) *SettingsService {
	return &SettingsService{log: log, repo: repo}
}

// SetRemote sets the client that remote url and token changes are applied to
func (s *SettingsService) SetRemote(r RemoteConfigurer) {
	s.remote = r
}

// ApplyStored pushes stored remote settings to the client. Values saved
// through the settings API take precedence over startup configuration.
func (s *SettingsService) ApplyStored(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	remoteURL, err := s.optional(ctx, SettingRemoteURL)
	if err != nil {
		return err
	}
	if remoteURL != "" {
		s.remote.SetBaseURL(remoteURL)
	}
	token, err := s.optional(ctx, SettingRemoteToken)
	if err != nil {
		return err
	}
	if token != "" {
		s.remote.SetToken(token)
	}
	return nil
}

// GetRemoteURL returns the stored remote store URL
func (s *SettingsService) GetRemoteURL(ctx context.Context) (string, error) {
	return s.optional(ctx, SettingRemoteURL)
}

// SetRemoteURL saves the remote store URL and points the client at it
func (s *SettingsService) SetRemoteURL(ctx context.Context, raw string) error {
	u, err := normalizeURL(raw)
	if err != nil {
		return ErrInvalidRemoteURL
	}
	if err := s.repo.SetSetting(ctx, SettingRemoteURL, u); err != nil {
		return err
	}
	if s.remote != nil {
		s.remote.SetBaseURL(u)
	}
	s.log.Info("Remote URL updated", "url", u)
	return nil
}

// SetRemoteToken saves the API token used for the remote store
func (s *SettingsService) SetRemoteToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if err := s.repo.SetSetting(ctx, SettingRemoteToken, token); err != nil {
		return err
	}
	if s.remote != nil {
		s.remote.SetToken(token)
	}
	return nil
}

// GetBaseURL returns the URL operator screens use to reach this device
func (s *SettingsService) GetBaseURL(ctx context.Context) (string, error) {
	return s.optional(ctx, SettingBaseURL)
}

// SetBaseURL saves the URL operator screens use to reach this device
func (s *SettingsService) SetBaseURL(ctx context.Context, raw string) error {
	u, err := normalizeURL(raw)
	if err != nil {
		return ErrInvalidBaseURL
	}
	return s.repo.SetSetting(ctx, SettingBaseURL, u)
}

// GetTeamID returns the team new matches are recorded for
func (s *SettingsService) GetTeamID(ctx context.Context) (string, error) {
	return s.optional(ctx, SettingTeamID)
}

// GetSetting retrieves an arbitrary setting
func (s *SettingsService) GetSetting(ctx context.Context, key string) (string, error) {
	return s.repo.GetSetting(ctx, key)
}

// SetSetting saves an arbitrary setting
func (s *SettingsService) SetSetting(ctx context.Context, key, value string) error {
	return s.repo.SetSetting(ctx, key, value)
}

// AllSettings returns the operator-visible settings. The token itself is
// never returned.
func (s *SettingsService) AllSettings(ctx context.Context) (map[string]interface{}, error) {
	settings := make(map[string]interface{})

	remoteURL, err := s.GetRemoteURL(ctx)
	if err != nil {
		return nil, err
	}
	settings[SettingRemoteURL] = remoteURL

	token, _ := s.optional(ctx, SettingRemoteToken)
	settings["remote_token_set"] = token != ""

	baseURL, _ := s.GetBaseURL(ctx)
	settings[SettingBaseURL] = baseURL

	teamID, _ := s.GetTeamID(ctx)
	settings[SettingTeamID] = teamID

	return settings, nil
}

// Settings represents application settings for update operations
type Settings struct {
	RemoteURL   string
	RemoteToken *string
	BaseURL     string
	TeamID      *string
}

// UpdateSettings updates multiple settings at once. URLs are validated
// before anything is written.
func (s *SettingsService) UpdateSettings(ctx context.Context, settings Settings) error {
	if settings.RemoteURL != "" {
		if _, err := normalizeURL(settings.RemoteURL); err != nil {
			return ErrInvalidRemoteURL
		}
	}
	if settings.BaseURL != "" {
		if _, err := normalizeURL(settings.BaseURL); err != nil {
			return ErrInvalidBaseURL
		}
	}

	if settings.RemoteURL != "" {
		if err := s.SetRemoteURL(ctx, settings.RemoteURL); err != nil {
			return err
		}
	}
	if settings.RemoteToken != nil {
		if err := s.SetRemoteToken(ctx, *settings.RemoteToken); err != nil {
			return err
		}
	}
	if settings.BaseURL != "" {
		if err := s.SetBaseURL(ctx, settings.BaseURL); err != nil {
			return err
		}
	}
	if settings.TeamID != nil {
		if err := s.repo.SetSetting(ctx, SettingTeamID, strings.TrimSpace(*settings.TeamID)); err != nil {
			return err
		}
	}
	return nil
}

// ResetResult contains the result of a local data reset
type ResetResult struct {
	Namespaces []string `json:"namespaces"`
	Message    string   `json:"message"`
}

// ValidNamespaces defines which local caches can be reset. Matches, events,
// videos and queued operations are never cleared this way.
var ValidNamespaces = map[string]repository.Namespace{
	"import":   repository.NSImport,
	"review":   repository.NSReview,
	"wrestler": repository.NSWrestler,
}

// ResetNamespaces validates and clears the given local caches
func (s *SettingsService) ResetNamespaces(ctx context.Context, names []string) (*ResetResult, error) {
	if len(names) == 0 {
		return nil, ErrNoNamespacesSpecified
	}

	var toReset []repository.Namespace
	for _, name := range names {
		ns, ok := ValidNamespaces[name]
		if !ok {
			return nil, &InvalidNamespaceError{Namespace: name}
		}
		toReset = append(toReset, ns)
	}

	for _, ns := range toReset {
		if err := s.repo.ClearNamespace(ctx, ns); err != nil {
			return nil, err
		}
	}
	s.log.Info("Local caches cleared", "namespaces", names)

	return &ResetResult{
		Namespaces: names,
		Message:    "Successfully cleared local data",
	}, nil
}

// optional reads a setting that defaults to empty
func (s *SettingsService) optional(ctx context.Context, key string) (string, error) {
	value, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		if err == repository.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidRemoteURL
	}
	return strings.TrimRight(u.String(), "/"), nil
}
