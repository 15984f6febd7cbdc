package tilereader

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Config configures one reader. Optional fields are nil or empty when absent;
// absent always means disabled.
type Config struct {
	Kind      string `hcl:"kind,label"`
	Variable  string `hcl:"variable"`
	Latitude  string `hcl:"latitude"`
	Longitude string `hcl:"longitude"`
	// Time names the time variable. For time series it also names the time
	// dimension.
	Time *string `hcl:"time,optional"`
	// Meta names auxiliary variables to carry with the tile, when present
	Meta []string `hcl:"meta,optional"`
	// DayAttribute names a global attribute holding the granule's date, parsed
	// with the strftime DayFormat
	DayAttribute *string `hcl:"glblattr_day,optional"`
	DayFormat    *string `hcl:"glblattr_day_format,optional"`
	// TimeOffset is added to every decoded time, in seconds
	TimeOffset *int64 `hcl:"time_offset,optional"`
	// Summarize fills in the output summary's bounding box and stats
	Summarize bool `hcl:"summarize,optional"`
}

type configFile struct {
	Readers []*Config `hcl:"reader,block"`
}

// Validate checks required fields and option combinations
func (c *Config) Validate() error {
	switch Kind(c.Kind) {
	case KindGrid, KindSwath, KindTimeSeries:
	default:
		return &ConfigError{Kind: c.Kind, Reason: "unknown reader kind, want grid, swath or timeseries"}
	}
	required := []struct{ field, value string }{
		{"variable", c.Variable},
		{"latitude", c.Latitude},
		{"longitude", c.Longitude},
	}
	for _, r := range required {
		if r.value == "" {
			return &ConfigError{Kind: c.Kind, Field: r.field, Reason: "is required"}
		}
	}
	if c.Time != nil && *c.Time == "" {
		return &ConfigError{Kind: c.Kind, Field: "time", Reason: "must not be empty when set"}
	}
	if Kind(c.Kind) == KindTimeSeries && c.Time == nil {
		return &ConfigError{Kind: c.Kind, Field: "time", Reason: "is required for time series"}
	}
	if (c.DayAttribute == nil) != (c.DayFormat == nil) {
		return &ConfigError{Kind: c.Kind, Field: "glblattr_day", Reason: "and glblattr_day_format must be set together"}
	}
	for _, m := range c.Meta {
		if m == "" {
			return &ConfigError{Kind: c.Kind, Field: "meta", Reason: "has an empty variable name"}
		}
	}
	return nil
}

// ParseConfig decodes the reader blocks of an HCL document
func ParseConfig(filename string, src []byte) ([]*Config, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config: %w", diags)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": envObject(),
		},
		Functions: make(map[string]function.Function),
	}

	cf := &configFile{}
	if diags := gohcl.DecodeBody(file.Body, evalCtx, cf); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config: %w", diags)
	}

	seen := map[string]bool{}
	for _, c := range cf.Readers {
		if seen[c.Kind] {
			return nil, &ConfigError{Kind: c.Kind, Reason: "declared more than once"}
		}
		seen[c.Kind] = true
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return cf.Readers, nil
}

// LoadConfig reads and parses an HCL config file
func LoadConfig(path string) ([]*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(path, src)
}

// envObject exposes the process environment to config expressions as env.NAME
func envObject() cty.Value {
	vals := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			vals[k] = cty.StringVal(v)
		}
	}
	if len(vals) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(vals)
}
