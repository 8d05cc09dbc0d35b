package compose

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultCatalog []byte

// Family names. Overdue items are split by how late they are.
const (
	FamilyCompletedOnTime   = "completed_on_time"
	FamilyDueSoon           = "due_soon"
	FamilyOverdueFirst      = "overdue_first"
	FamilyOverdueShort      = "overdue_short"
	FamilyOverdueWeek       = "overdue_week"
	FamilyOverdueEscalation = "overdue_escalation"
	FamilyNormal            = "normal"
	FamilyFollowup          = "followup"
	FamilyConfirmCompletion = "confirm_completion"
)

var requiredFamilies = []string{
	FamilyCompletedOnTime, FamilyDueSoon, FamilyOverdueFirst, FamilyOverdueShort,
	FamilyOverdueWeek, FamilyOverdueEscalation, FamilyNormal, FamilyFollowup,
	FamilyConfirmCompletion,
}

var requiredGreetings = []string{"morning", "afternoon", "evening"}

// TierLines is the optional encouragement appended for one performance tier.
type TierLines struct {
	Probability float64  `yaml:"probability"`
	Lines       []string `yaml:"lines"`
}

// Catalog is the YAML template catalog.
type Catalog struct {
	Greetings          map[string][]string            `yaml:"greetings"`
	WeekdayProbability float64                        `yaml:"weekday_probability"`
	Weekday            map[string][]string            `yaml:"weekday"`
	Tiers              map[string]TierLines           `yaml:"tiers"`
	Families           map[string]map[string][]string `yaml:"families"`
}

// compiled is a validated catalog with every template parsed.
type compiled struct {
	greetings          map[string][]*template.Template
	weekdayProbability float64
	weekday            map[string][]*template.Template
	tiers              map[string]compiledTier
	families           map[string]map[string][]*template.Template
}

type compiledTier struct {
	probability float64
	lines       []*template.Template
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from path, or the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML catalog data.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	return &c, nil
}

// Validate checks the catalog is complete and every template parses.
func (c *Catalog) Validate() error {
	_, err := c.compile()
	return err
}

func (c *Catalog) compile() (*compiled, error) {
	out := &compiled{
		greetings:          make(map[string][]*template.Template),
		weekdayProbability: c.WeekdayProbability,
		weekday:            make(map[string][]*template.Template),
		tiers:              make(map[string]compiledTier),
		families:           make(map[string]map[string][]*template.Template),
	}
	if c.WeekdayProbability < 0 || c.WeekdayProbability > 1 {
		return nil, fmt.Errorf("weekday_probability %v out of range [0,1]", c.WeekdayProbability)
	}

	for _, period := range requiredGreetings {
		lines := c.Greetings[period]
		if len(lines) == 0 {
			return nil, fmt.Errorf("greetings.%s: no variants", period)
		}
		for i, l := range lines {
			// The greeting is what guarantees the name appears in the output.
			if !strings.Contains(l, ".Name") {
				return nil, fmt.Errorf("greetings.%s[%d]: must reference .Name", period, i)
			}
		}
		ts, err := parseAll("greetings."+period, lines)
		if err != nil {
			return nil, err
		}
		out.greetings[period] = ts
	}

	for day, lines := range c.Weekday {
		ts, err := parseAll("weekday."+day, lines)
		if err != nil {
			return nil, err
		}
		out.weekday[strings.ToLower(day)] = ts
	}

	for tier, tl := range c.Tiers {
		if tl.Probability < 0 || tl.Probability > 1 {
			return nil, fmt.Errorf("tiers.%s.probability %v out of range [0,1]", tier, tl.Probability)
		}
		ts, err := parseAll("tiers."+tier, tl.Lines)
		if err != nil {
			return nil, err
		}
		out.tiers[tier] = compiledTier{probability: tl.Probability, lines: ts}
	}

	for _, fam := range requiredFamilies {
		variants, ok := c.Families[fam]
		if !ok {
			return nil, fmt.Errorf("families.%s: missing", fam)
		}
		if len(variants["unknown"]) == 0 {
			return nil, fmt.Errorf("families.%s.unknown: no variants", fam)
		}
	}
	for fam, variants := range c.Families {
		out.families[fam] = make(map[string][]*template.Template, len(variants))
		for status, lines := range variants {
			ts, err := parseAll("families."+fam+"."+status, lines)
			if err != nil {
				return nil, err
			}
			out.families[fam][status] = ts
		}
	}
	return out, nil
}

func parseAll(name string, lines []string) ([]*template.Template, error) {
	out := make([]*template.Template, 0, len(lines))
	for i, l := range lines {
		t, err := template.New(fmt.Sprintf("%s[%d]", name, i)).Option("missingkey=error").Parse(l)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
		}
		out = append(out, t)
	}
	return out, nil
}
