package response

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ValidationResult is the outcome of checking a payload against the required
// design-system shape. Warnings never make a payload invalid.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var (
	hexColorPattern  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	funcColorPattern = regexp.MustCompile(`^(?i)(?:rgba?|hsla?)\([^()]*\)$`)
	lengthPattern    = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*(px|rem|em)?\s*$`)
)

var requiredColors = []string{"primary", "secondary", "neutral"}

type checker struct {
	errors   []string
	warnings []string
}

func (c *checker) missing(path string) {
	c.errors = append(c.errors, "missing required field: "+path)
}

func (c *checker) errorf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *checker) warnf(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// Validate checks the colors, typography, spacing and components blocks.
func Validate(value map[string]any) ValidationResult {
	c := &checker{}

	if colors, ok := c.object(value, "colors", "colors", true); ok {
		c.checkColors(colors)
	}
	if typo, ok := c.object(value, "typography", "typography", true); ok {
		c.checkTypography(typo)
	}
	if spacing, ok := c.object(value, "spacing", "spacing", true); ok {
		c.checkSpacing(spacing)
	}
	if raw, ok := value["components"]; ok {
		c.checkComponents(raw)
	}

	return ValidationResult{
		Valid:    len(c.errors) == 0,
		Errors:   c.errors,
		Warnings: c.warnings,
	}
}

// object fetches parent[key] as an object, recording an error when it is
// required and absent or has the wrong type.
func (c *checker) object(parent map[string]any, key, path string, required bool) (map[string]any, bool) {
	raw, ok := parent[key]
	if !ok || raw == nil {
		if required {
			c.missing(path)
		}
		return nil, false
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		c.errorf("invalid field %s: expected object, got %s", path, typeName(raw))
		return nil, false
	}
	return obj, true
}

func (c *checker) checkColors(colors map[string]any) {
	for _, name := range requiredColors {
		if _, ok := colors[name]; !ok {
			c.missing("colors." + name)
		}
	}

	for _, name := range sortedKeys(colors) {
		// Stripped later by Sanitize.
		if IsDeniedKey(name) {
			continue
		}
		c.checkColorEntry("colors."+name, colors[name])
	}

	primary, okP := representativeColor(colors["primary"])
	secondary, okS := representativeColor(colors["secondary"])
	if okP && okS && strings.EqualFold(primary, secondary) {
		c.warnf("colors.primary and colors.secondary are identical (%s)", primary)
	}
}

func (c *checker) checkColorEntry(path string, raw any) {
	switch v := raw.(type) {
	case string:
		if !isColor(v) {
			c.errorf("invalid color value at %s: %q", path, v)
		}
	case map[string]any:
		if len(v) == 0 {
			c.errorf("invalid field %s: empty color scale", path)
			return
		}
		seen := make(map[string]string)
		for _, shade := range sortedKeys(v) {
			if IsDeniedKey(shade) {
				continue
			}
			s, ok := v[shade].(string)
			if !ok || !isColor(s) {
				c.errorf("invalid color value at %s.%s: %v", path, shade, v[shade])
				continue
			}
			key := strings.ToLower(s)
			if prev, dup := seen[key]; dup {
				c.warnf("%s.%s repeats the value of %s.%s (%s)", path, shade, path, prev, s)
				continue
			}
			seen[key] = shade
		}
	default:
		c.errorf("invalid field %s: expected color string or scale object, got %s", path, typeName(raw))
	}
}

func (c *checker) checkTypography(typo map[string]any) {
	if families, ok := c.object(typo, "fontFamilies", "typography.fontFamilies", true); ok {
		heading, okH := c.fontFamily(families, "heading")
		body, okB := c.fontFamily(families, "body")
		if okH && okB && strings.EqualFold(heading, body) {
			c.warnf("typography.fontFamilies.heading and typography.fontFamilies.body use the same family (%s)", heading)
		}
	}

	if sizes, ok := c.object(typo, "fontSizes", "typography.fontSizes", true); ok && len(sizes) == 0 {
		c.errorf("invalid field typography.fontSizes: empty size scale")
	}
}

func (c *checker) fontFamily(families map[string]any, key string) (string, bool) {
	path := "typography.fontFamilies." + key
	raw, ok := families[key]
	if !ok {
		c.missing(path)
		return "", false
	}
	var family string
	switch v := raw.(type) {
	case string:
		family = v
	case []any:
		if len(v) > 0 {
			family, _ = v[0].(string)
		}
	}
	family = strings.TrimSpace(family)
	if family == "" {
		c.errorf("invalid field %s: expected non-empty font family", path)
		return "", false
	}
	return family, true
}

func (c *checker) checkSpacing(spacing map[string]any) {
	raw, ok := spacing["scale"]
	if !ok {
		c.missing("spacing.scale")
		return
	}

	var values []float64
	switch v := raw.(type) {
	case []any:
		for i, item := range v {
			n, ok := toLength(item)
			if !ok {
				c.errorf("invalid spacing value at spacing.scale[%d]: %v", i, item)
				return
			}
			values = append(values, n)
		}
	case map[string]any:
		keys, numeric := numericKeys(v)
		for _, k := range keys {
			n, ok := toLength(v[k])
			if !ok {
				c.errorf("invalid spacing value at spacing.scale.%s: %v", k, v[k])
				return
			}
			values = append(values, n)
		}
		if !numeric {
			// Named steps ("sm", "md") carry no order to check.
			return
		}
	default:
		c.errorf("invalid field spacing.scale: expected array or object, got %s", typeName(raw))
		return
	}

	if len(values) == 0 {
		c.errorf("invalid field spacing.scale: empty scale")
		return
	}
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			c.warnf("spacing.scale is not strictly increasing at position %d", i)
			return
		}
	}
}

func (c *checker) checkComponents(raw any) {
	list, ok := raw.([]any)
	if !ok {
		c.errorf("invalid field components: expected array, got %s", typeName(raw))
		return
	}
	seen := make(map[string]int)
	for i, item := range list {
		comp, ok := item.(map[string]any)
		if !ok {
			c.errorf("invalid field components[%d]: expected object, got %s", i, typeName(item))
			continue
		}
		name, _ := comp["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			c.missing(fmt.Sprintf("components[%d].name", i))
			continue
		}
		key := strings.ToLower(name)
		if first, dup := seen[key]; dup {
			c.errorf("duplicate component name %q at components[%d] and components[%d]", name, first, i)
			continue
		}
		seen[key] = i
	}
}

func isColor(s string) bool {
	s = strings.TrimSpace(s)
	return hexColorPattern.MatchString(s) || funcColorPattern.MatchString(s)
}

// representativeColor picks the value used to compare two color entries:
// the string itself, or the 500 shade, or the first shade in key order.
func representativeColor(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case map[string]any:
		if s, ok := v["500"].(string); ok {
			return s, true
		}
		for _, k := range sortedKeys(v) {
			if s, ok := v[k].(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// toLength converts numbers and "4px"/"0.25rem" strings to pixels.
func toLength(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		m := lengthPattern.FindStringSubmatch(v)
		if m == nil {
			return 0, false
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		if m[2] == "rem" || m[2] == "em" {
			n *= 16
		}
		return n, true
	}
	return 0, false
}

// numericKeys returns the keys sorted numerically when all of them are numbers,
// otherwise sorted lexically with numeric=false.
func numericKeys(m map[string]any) ([]string, bool) {
	keys := sortedKeys(m)
	nums := make(map[string]float64, len(keys))
	for _, k := range keys {
		n, err := strconv.ParseFloat(k, 64)
		if err != nil {
			return keys, false
		}
		nums[k] = n
	}
	sort.SliceStable(keys, func(i, j int) bool { return nums[keys[i]] < nums[keys[j]] })
	return keys, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
