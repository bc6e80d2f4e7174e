// Package flagx pulls individual flags out of a shared argument list so that
// independent configuration layers can parse only what they own.
package flagx

import (
	"flag"
	"strings"
)

// FilterArgs keeps only the allowedFlags (and their values) from args.
//
// Both "-c conf.json" and "--config=conf.json" forms are understood. A value
// that itself starts with "-" is never consumed as the value of a separate flag.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// StringFlag returns the value of a string flag known by either the short or
// the long name. The last occurrence wins; "" means the flag is absent.
func StringFlag(args []string, short, long, usage string) string {
	var v string

	names := make([]string, 0, 4)
	for _, n := range []string{short, long} {
		if n != "" {
			names = append(names, "-"+n, "--"+n)
		}
	}

	fs := flag.NewFlagSet(long, flag.ContinueOnError)
	fs.SetOutput(discard{})
	if short != "" {
		fs.StringVar(&v, short, "", usage)
	}
	if long != "" {
		fs.StringVar(&v, long, "", usage)
	}
	_ = fs.Parse(FilterArgs(args, names))

	return v
}

// ConfigFile extracts the JSON config path given via -c or -config.
func ConfigFile(args []string) string {
	return StringFlag(args, "c", "config", "Path to config file")
}

// EnvFile extracts the dotenv path given via -envfile.
func EnvFile(args []string) string {
	return StringFlag(args, "", "envfile", "Path to .env file")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
