package config

import (
	"fmt"
	"strings"
)

// RenderDefaultTOML renders a TOML config with defaults from GetConfigOptions.
// Dotted keys are grouped under their first segment as a table.
func RenderDefaultTOML() string {
	var b strings.Builder
	b.WriteString("# pollsock configuration (TOML)\n\n")

	sections := make(map[string][]ConfigOption)
	order := make([]string, 0)
	for _, o := range GetConfigOptions() {
		section, key, ok := strings.Cut(o.Key, ".")
		if !ok {
			writeTOMLOption(&b, o.Key, o.Default, o.Comment)
			continue
		}
		if _, seen := sections[section]; !seen {
			order = append(order, section)
		}
		sections[section] = append(sections[section], ConfigOption{Key: key, Default: o.Default, Comment: o.Comment})
	}

	for _, section := range order {
		b.WriteString("[" + section + "]\n")
		for _, o := range sections[section] {
			writeTOMLOption(&b, o.Key, o.Default, o.Comment)
		}
	}
	return b.String()
}

func writeTOMLOption(b *strings.Builder, key string, value any, comment string) {
	if comment != "" {
		b.WriteString("# " + comment + "\n")
	}
	switch v := value.(type) {
	case string:
		fmt.Fprintf(b, "%s = %q\n\n", key, v)
	case []string:
		quoted := make([]string, len(v))
		for i, s := range v {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		fmt.Fprintf(b, "%s = [%s]\n\n", key, strings.Join(quoted, ", "))
	default:
		fmt.Fprintf(b, "%s = %v\n\n", key, v)
	}
}
