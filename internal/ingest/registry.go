package ingest

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/oakbuilders/bid-finder/internal/config"
	"github.com/oakbuilders/bid-finder/internal/resolve"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Source kinds.
const (
	KindJSONAPI  = "json_api"
	KindHTMLList = "html_list"
)

// Registry holds the configuration for all data sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig defines HTTP fetching configuration for a source.
type FetchConfig struct {
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"` // Default: 30
	MaxRetries     int               `yaml:"max_retries,omitempty"`     // Default: 3
	RateLimitRPS   float64           `yaml:"rate_limit_rps,omitempty"`  // Requests per second, default: 1.0
	UserAgent      string            `yaml:"user_agent,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
}

func (f FetchConfig) timeout() time.Duration {
	if f.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(f.TimeoutSeconds) * time.Second
}

func (f FetchConfig) retries() int {
	if f.MaxRetries < 0 {
		return 0
	}
	if f.MaxRetries == 0 {
		return 3
	}
	return f.MaxRetries
}

// delay is the pause between requests to the same host.
func (f FetchConfig) delay() time.Duration {
	if f.RateLimitRPS <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / f.RateLimitRPS)
}

func (f FetchConfig) userAgent() string {
	if f.UserAgent != "" {
		return f.UserAgent
	}
	return "bid-finder/1.0 (+https://github.com/oakbuilders/bid-finder)"
}

// SourceConfig defines a single data source for ingestion.
//
// For json_api sources, Items, NativeID, Fields and NextPage are gjson
// paths. For html_list sources they are CSS selectors evaluated inside
// each Items element (NextPage is evaluated on the whole page).
type SourceConfig struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`
	URL         string `yaml:"url"`
	Disabled    bool   `yaml:"disabled,omitempty"`
	Description string `yaml:"description,omitempty"`

	Items    string            `yaml:"items"`
	NativeID string            `yaml:"native_id,omitempty"`
	Fields   map[string]string `yaml:"fields"`
	NextPage string            `yaml:"next_page,omitempty"`
	MaxPages int               `yaml:"max_pages,omitempty"`

	DefaultJurisdiction string   `yaml:"default_jurisdiction,omitempty"`
	DateFormats         []string `yaml:"date_formats,omitempty"`
	AuthoritativeFields []string `yaml:"authoritative_fields,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`
}

// Defaults returns the normalizer fallbacks for this source.
func (s SourceConfig) Defaults() SourceDefaults {
	return SourceDefaults{Jurisdiction: s.DefaultJurisdiction, DateFormats: s.DateFormats}
}

// Authority returns the fields this source may overwrite on a merge.
func (s SourceConfig) Authority() resolve.Authority {
	return resolve.OnlyFields(s.AuthoritativeFields)
}

func (s SourceConfig) maxPages() int {
	if s.MaxPages <= 0 {
		return 1
	}
	return s.MaxPages
}

// Adapter builds the adapter for the source's kind.
func (s SourceConfig) Adapter(log *zap.Logger) (Adapter, error) {
	switch s.Kind {
	case KindJSONAPI:
		return NewJSONFeedAdapter(s, log), nil
	case KindHTMLList:
		return NewHTMLListAdapter(s, log), nil
	default:
		return nil, &config.ConfigurationError{Path: "sources." + s.Name + ".kind", Problem: fmt.Sprintf("unknown kind %q", s.Kind)}
	}
}

var rawFields = []string{
	FieldTitle, FieldDescription, FieldAgency, FieldJurisdiction, FieldEstimatedValue,
	FieldDeadline, FieldSetAside, FieldPostedDate, FieldURL, FieldSolicitationNumber,
	FieldNAICS, FieldContactName, FieldContactEmail,
}

// Validate reports every problem in the registry at once.
func (r *Registry) Validate() error {
	var errs []error
	add := func(path, format string, args ...any) {
		errs = append(errs, &config.ConfigurationError{Path: path, Problem: fmt.Sprintf(format, args...)})
	}

	mergeable := resolve.MergeFields()
	seen := map[string]bool{}
	for i, s := range r.Sources {
		path := fmt.Sprintf("sources[%d]", i)
		name := strings.TrimSpace(s.Name)
		switch {
		case name == "":
			add(path, "name is required")
		case seen[name]:
			add(path, "duplicate source %q", name)
		}
		seen[name] = true

		if s.Kind != KindJSONAPI && s.Kind != KindHTMLList {
			add(path+".kind", "unknown kind %q", s.Kind)
		}
		if strings.TrimSpace(s.URL) == "" {
			add(path+".url", "url is required")
		}
		if s.Kind == KindHTMLList && s.Items == "" {
			add(path+".items", "html_list sources need an item selector")
		}
		if s.Fields[FieldTitle] == "" {
			add(path+".fields", "a title mapping is required")
		}
		for field := range s.Fields {
			if !slices.Contains(rawFields, field) {
				add(path+".fields", "unknown field %q", field)
			}
		}
		for _, f := range s.AuthoritativeFields {
			if !slices.Contains(mergeable, f) {
				add(path+".authoritative_fields", "unknown field %q", f)
			}
		}
		if s.MaxPages < 0 {
			add(path+".max_pages", "must not be negative")
		}
	}
	return errors.Join(errs...)
}

// Enabled returns the sources that are not disabled, optionally limited to names.
func (r *Registry) Enabled(names ...string) ([]SourceConfig, error) {
	var out []SourceConfig
	for _, s := range r.Sources {
		if len(names) > 0 {
			if slices.Contains(names, s.Name) {
				out = append(out, s)
			}
			continue
		}
		if !s.Disabled {
			out = append(out, s)
		}
	}
	for _, n := range names {
		if !slices.ContainsFunc(out, func(s SourceConfig) bool { return s.Name == n }) {
			return nil, &config.ConfigurationError{Path: "sources", Problem: fmt.Sprintf("unknown source %q", n)}
		}
	}
	return out, nil
}

// LoadRegistry reads sources.yaml from path, or the embedded copy when path
// is empty. Environment variables (e.g. ${API_KEY}) are expanded first.
func LoadRegistry(path string) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = sourcesYAML.ReadFile("config/sources.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, &config.ConfigurationError{Path: "sources", Problem: err.Error()}
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&reg); err != nil {
		return nil, &config.ConfigurationError{Path: "sources", Problem: err.Error()}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}
