// Package flagx lets several components parse their own flags out of one
// argument list without tripping over each other's flags.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// Filter returns the arguments that belong to the listed flags, in their
// original order. Flags are listed in single-dash form ("-c"); the double-dash
// spelling of the same flag is accepted too.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.json
//  2. Flag and value combined with '=':      --config=conf.json
//
// A flag in valueFlags takes the following argument as its value unless that
// argument starts with '-'. A flag in boolFlags never takes the following
// argument, so "-debug positional" does not swallow "positional".
func Filter(args, valueFlags, boolFlags []string) []string {
	takesValue := make(map[string]bool, len(valueFlags)+len(boolFlags))
	for _, f := range valueFlags {
		takesValue[f] = true
	}
	for _, f := range boolFlags {
		takesValue[f] = false
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, _, hasValue := strings.Cut(arg, "=")
		value, ok := takesValue[normalize(name)]
		if !ok {
			continue
		}

		filtered = append(filtered, arg)
		if hasValue || !value {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// ConfigPath returns the config file path given with -c or -config, or an
// empty string when neither is present. When both are given the last wins.
func ConfigPath(args []string) string {
	var config string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(Filter(args, []string{"-c", "-config"}, nil))

	return config
}

func normalize(name string) string {
	if strings.HasPrefix(name, "--") {
		return name[1:]
	}
	return name
}
