package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/tkingovr/adminsync/internal/policy"
	"gopkg.in/yaml.v3"
)

// File is the YAML configuration file layout.
type File struct {
	Version       int               `yaml:"version" json:"version"`
	Backend       BackendSection    `yaml:"backend" json:"backend"`
	Session       SessionSection    `yaml:"session" json:"session"`
	Settings      Settings          `yaml:"settings" json:"settings"`
	Resources     []ResourceSection `yaml:"resources" json:"resources"`
	DefaultAction policy.Verdict    `yaml:"default_action,omitempty" json:"default_action,omitempty"`
	Rules         []policy.Rule     `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// BackendSection describes the REST backend.
type BackendSection struct {
	BaseURL      string `yaml:"base_url" json:"base_url"`
	APIKey       string `yaml:"api_key" json:"-"`
	APIKeyHeader string `yaml:"api_key_header,omitempty" json:"api_key_header,omitempty"`
	Timeout      string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	UploadPath   string `yaml:"upload_path,omitempty" json:"upload_path,omitempty"`
	AssetBaseURL string `yaml:"asset_base_url,omitempty" json:"asset_base_url,omitempty"`
}

// SessionSection tells the session provider where the bearer token lives.
type SessionSection struct {
	Token     string `yaml:"token,omitempty" json:"-"`
	TokenEnv  string `yaml:"token_env,omitempty" json:"token_env,omitempty"`
	TokenFile string `yaml:"token_file,omitempty" json:"token_file,omitempty"`
}

// Settings contains process-wide settings.
type Settings struct {
	LogDir           string `yaml:"log_dir,omitempty" json:"log_dir,omitempty"`
	DashboardAddr    string `yaml:"dashboard_addr,omitempty" json:"dashboard_addr,omitempty"`
	MetricsAddr      string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	ConfirmTimeout   string `yaml:"confirm_timeout,omitempty" json:"confirm_timeout,omitempty"`
	NoticeTTL        string `yaml:"notice_ttl,omitempty" json:"notice_ttl,omitempty"`
	ValidationPolicy string `yaml:"validation_policy,omitempty" json:"validation_policy,omitempty"`
	LogFormat        string `yaml:"log_format,omitempty" json:"log_format,omitempty"`
}

// ResourceSection declares one resource kind.
type ResourceSection struct {
	Name            string   `yaml:"name" json:"name"`
	Title           string   `yaml:"title,omitempty" json:"title,omitempty"`
	Path            string   `yaml:"path" json:"path"`
	PageSize        int      `yaml:"page_size,omitempty" json:"page_size,omitempty"`
	PageSizeParam   string   `yaml:"page_size_param,omitempty" json:"page_size_param,omitempty"`
	ItemsKey        string   `yaml:"items_key,omitempty" json:"items_key,omitempty"`
	Filters         []string `yaml:"filters,omitempty" json:"filters,omitempty"`
	Columns         []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	PollInterval    string   `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	Dwell           string   `yaml:"dwell,omitempty" json:"dwell,omitempty"`
	Counters        []string `yaml:"counters,omitempty" json:"counters,omitempty"`
	SummaryPath     string   `yaml:"summary_path,omitempty" json:"summary_path,omitempty"`
	Pagination      string   `yaml:"pagination,omitempty" json:"pagination,omitempty"`
	Required        []string `yaml:"required,omitempty" json:"required,omitempty"`
	ConfirmDelete   bool     `yaml:"confirm_delete,omitempty" json:"confirm_delete,omitempty"`
	AttachmentField string   `yaml:"attachment_field,omitempty" json:"attachment_field,omitempty"`
}

// Pagination selects who slices the list into pages.
type Pagination string

const (
	// PaginationServer trusts the server's page and total.
	PaginationServer Pagination = "server"
	// PaginationClient fetches the whole list and pages it locally.
	PaginationClient Pagination = "client"
)

// Config is the runtime configuration for adminsync.
type Config struct {
	File *File
	Path string

	Backend Backend
	Session SessionSection

	LogDir           string
	DashboardAddr    string
	MetricsAddr      string
	ConfirmTimeout   time.Duration
	NoticeTTL        time.Duration
	ValidationPolicy string
	LogFormat        string

	Resources []Resource
}

// Backend is the resolved backend connection settings.
type Backend struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	UploadPath   string
	AssetBaseURL string
}

// Resource is one resolved resource kind.
type Resource struct {
	Name            string
	Title           string
	Path            string
	PageSize        int
	PageSizeParam   string
	ItemsKey        string
	Filters         []string
	Columns         []string
	PollInterval    time.Duration
	Dwell           time.Duration
	Counters        []string
	SummaryPath     string
	Pagination      Pagination
	Required        []string
	ConfirmDelete   bool
	AttachmentField string
}

// Watched reports whether the resource has counters to poll.
func (r *Resource) Watched() bool {
	return len(r.Counters) > 0
}

// Load reads a YAML config file and produces a runtime Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// LoadBytes parses YAML data and produces a runtime Config.
func LoadBytes(data []byte) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("loading config: parsing YAML: %w", err)
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("loading config: unsupported version %d (expected 1)", f.Version)
	}
	cfg, err := fromFile(&f)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func fromFile(f *File) (*Config, error) {
	cfg := &Config{
		File:             f,
		Session:          f.Session,
		ValidationPolicy: expandHome(f.Settings.ValidationPolicy),
		LogFormat:        f.Settings.LogFormat,
		MetricsAddr:      f.Settings.MetricsAddr,
	}

	cfg.Backend = Backend{
		BaseURL:      orDefault(f.Backend.BaseURL, DefaultBaseURL),
		APIKey:       f.Backend.APIKey,
		APIKeyHeader: orDefault(f.Backend.APIKeyHeader, DefaultAPIKeyHeader),
		UploadPath:   orDefault(f.Backend.UploadPath, DefaultUploadPath),
		AssetBaseURL: f.Backend.AssetBaseURL,
	}
	timeout, err := parseDuration("backend.timeout", f.Backend.Timeout, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	cfg.Backend.Timeout = timeout

	cfg.LogDir = expandHome(orDefault(f.Settings.LogDir, DefaultLogDir()))
	cfg.DashboardAddr = orDefault(f.Settings.DashboardAddr, DefaultDashboardAddr)

	if cfg.ConfirmTimeout, err = parseDuration("confirm_timeout", f.Settings.ConfirmTimeout, DefaultConfirmTimeout); err != nil {
		return nil, err
	}
	if cfg.NoticeTTL, err = parseDuration("notice_ttl", f.Settings.NoticeTTL, DefaultNoticeTTL); err != nil {
		return nil, err
	}

	switch cfg.LogFormat {
	case "", "json", "text":
	default:
		return nil, fmt.Errorf("invalid log_format %q", cfg.LogFormat)
	}

	seen := make(map[string]bool)
	for i, rs := range f.Resources {
		r, err := resolveResource(rs)
		if err != nil {
			return nil, fmt.Errorf("resource %d: %w", i, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("resource %q declared twice", r.Name)
		}
		seen[r.Name] = true
		cfg.Resources = append(cfg.Resources, r)
	}

	if err := policy.Validate(cfg.PolicyFile()); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func resolveResource(rs ResourceSection) (Resource, error) {
	if rs.Name == "" {
		return Resource{}, errors.New("name is required")
	}
	if rs.Path == "" {
		return Resource{}, fmt.Errorf("resource %q: path is required", rs.Name)
	}
	r := Resource{
		Name:            rs.Name,
		Title:           orDefault(rs.Title, rs.Name),
		Path:            rs.Path,
		PageSize:        rs.PageSize,
		PageSizeParam:   orDefault(rs.PageSizeParam, DefaultPageSizeParam),
		ItemsKey:        orDefault(rs.ItemsKey, DefaultItemsKey),
		Filters:         slices.Clone(rs.Filters),
		Columns:         slices.Clone(rs.Columns),
		Counters:        slices.Clone(rs.Counters),
		SummaryPath:     rs.SummaryPath,
		Pagination:      Pagination(orDefault(rs.Pagination, string(PaginationServer))),
		Required:        slices.Clone(rs.Required),
		ConfirmDelete:   rs.ConfirmDelete,
		AttachmentField: rs.AttachmentField,
	}
	if r.PageSize <= 0 {
		r.PageSize = DefaultPageSize
	}
	switch r.PageSizeParam {
	case "page_size", "pageSize", "limit":
	default:
		return Resource{}, fmt.Errorf("resource %q: invalid page_size_param %q", r.Name, r.PageSizeParam)
	}
	switch r.Pagination {
	case PaginationServer, PaginationClient:
	default:
		return Resource{}, fmt.Errorf("resource %q: invalid pagination %q", r.Name, r.Pagination)
	}

	var err error
	if r.PollInterval, err = parseDuration(r.Name+".poll_interval", rs.PollInterval, DefaultPollInterval); err != nil {
		return Resource{}, err
	}
	if r.Dwell, err = parseDuration(r.Name+".dwell", rs.Dwell, DefaultDwell); err != nil {
		return Resource{}, err
	}
	return r, nil
}

// Resource returns the resource kind with the given name.
func (c *Config) Resource(name string) (*Resource, bool) {
	for i := range c.Resources {
		if c.Resources[i].Name == name {
			return &c.Resources[i], true
		}
	}
	return nil, false
}

// PolicyFile returns the validation rules declared in the config.
func (c *Config) PolicyFile() *policy.PolicyFile {
	pf := &policy.PolicyFile{Version: 1}
	if c.File != nil {
		pf.DefaultAction = c.File.DefaultAction
		pf.Rules = slices.Clone(c.File.Rules)
	}
	return pf
}

// RequiredRules returns the deny rules generated from each resource's
// required field list.
func (c *Config) RequiredRules() []policy.Rule {
	var rules []policy.Rule
	for _, r := range c.Resources {
		rules = append(rules, policy.RequiredRules(r.Name, r.Required)...)
	}
	return rules
}

// Validator builds the validation engine: the configured rules and the
// required-field rules, followed by the Rego policy when one is set.
func (c *Config) Validator() (policy.Engine, error) {
	rules, err := policy.NewYAMLEngineFromPolicy(c.PolicyFile(), c.RequiredRules()...)
	if err != nil {
		return nil, err
	}
	if c.ValidationPolicy == "" {
		return rules, nil
	}
	opa, err := policy.NewOPAEngine(c.ValidationPolicy)
	if err != nil {
		return nil, fmt.Errorf("loading validation policy: %w", err)
	}
	return policy.Chain{rules, opa}, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ADMINSYNC_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("ADMINSYNC_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("ADMINSYNC_TOKEN"); v != "" {
		cfg.Session.Token = v
	}
	if v := os.Getenv("ADMINSYNC_DASHBOARD_ADDR"); v != "" {
		cfg.DashboardAddr = v
	}
	if v := os.Getenv("ADMINSYNC_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, value)
	}
	return d, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfig returns a config with defaults for when no config file is given.
func DefaultConfig() *Config {
	cfg := &Config{
		File: &File{Version: 1},
		Backend: Backend{
			BaseURL:      DefaultBaseURL,
			APIKeyHeader: DefaultAPIKeyHeader,
			Timeout:      DefaultTimeout,
			UploadPath:   DefaultUploadPath,
		},
		LogDir:         expandHome(DefaultLogDir()),
		DashboardAddr:  DefaultDashboardAddr,
		ConfirmTimeout: DefaultConfirmTimeout,
		NoticeTTL:      DefaultNoticeTTL,
	}
	applyEnvOverrides(cfg)
	return cfg
}

// MarshalYAML serializes the file for display with credentials removed.
func (c *Config) MarshalYAML() ([]byte, error) {
	f := *c.File
	if f.Backend.APIKey != "" {
		f.Backend.APIKey = "<redacted>"
	}
	if f.Session.Token != "" {
		f.Session.Token = "<redacted>"
	}
	return yaml.Marshal(&f)
}
