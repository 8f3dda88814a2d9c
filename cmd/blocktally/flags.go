package main

import (
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// nonConfigFlags are handled by the commands themselves
var nonConfigFlags = map[string]bool{
	"config":  true,
	"no-logo": true,
	"fresh":   true,
	"move":    true,
	"all":     true,
	"top":     true,
}

// changedFlags collects every flag the user set explicitly, keyed by flag name,
// so config.MergeCommandLineFlags only overrides what was actually passed.
func changedFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if nonConfigFlags[f.Name] {
			return
		}
		raw := f.Value.String()
		switch f.Value.Type() {
		case "int":
			if v, err := strconv.Atoi(raw); err == nil {
				flags[f.Name] = v
			}
		case "float64":
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				flags[f.Name] = v
			}
		case "bool":
			if v, err := strconv.ParseBool(raw); err == nil {
				flags[f.Name] = v
			}
		default:
			flags[f.Name] = raw
		}
	})
	return flags
}
