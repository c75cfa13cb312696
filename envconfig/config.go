package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mvdemo/rapidus/logutil"
)

var (
	// Set via RAPIDUS_DEBUG in the environment
	Debug bool
	// Set via RAPIDUS_DEBUG=2 in the environment
	Trace bool
	// Set via RAPIDUS_STRICT in the environment
	Strict bool
	// Set via RAPIDUS_TARGET_DIR in the environment
	TargetDir string
	// Set via RAPIDUS_TRANSPOSE in the environment
	Transpose string
	// Set via RAPIDUS_AUDIT in the environment
	Audit bool
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"RAPIDUS_DEBUG":      {"RAPIDUS_DEBUG", Debug, "Show additional debug information (e.g. RAPIDUS_DEBUG=1, RAPIDUS_DEBUG=2 for per layer tracing)"},
		"RAPIDUS_STRICT":     {"RAPIDUS_STRICT", Strict, "Fail when a conversion only partially succeeds"},
		"RAPIDUS_TARGET_DIR": {"RAPIDUS_TARGET_DIR", TargetDir, "Directory for generated files (default: next to the input files)"},
		"RAPIDUS_TRANSPOSE":  {"RAPIDUS_TRANSPOSE", Transpose, "Fully connected weight layout: auto, on or off (default \"auto\")"},
		"RAPIDUS_AUDIT":      {"RAPIDUS_AUDIT", Audit, "Report weights that do not fit in float16"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

// LogLevel returns the level selected by RAPIDUS_DEBUG.
func LogLevel() slog.Level {
	switch {
	case Trace:
		return logutil.LevelTrace
	case Debug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Home returns the directory holding user configuration, ~/.rapidus.
func Home() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rapidus"), nil
}

func init() {
	Transpose = "auto"

	LoadConfig()
}

func LoadConfig() {
	Debug, Trace = false, false
	if debug := clean("RAPIDUS_DEBUG"); debug != "" {
		if level, err := strconv.Atoi(debug); err == nil {
			Debug, Trace = level > 0, level > 1
		} else if d, err := strconv.ParseBool(debug); err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	Strict = false
	if strict := clean("RAPIDUS_STRICT"); strict != "" {
		s, err := strconv.ParseBool(strict)
		if err != nil {
			slog.Error("invalid setting", "RAPIDUS_STRICT", strict, "error", err)
		} else {
			Strict = s
		}
	}

	Audit = false
	if audit := clean("RAPIDUS_AUDIT"); audit != "" {
		a, err := strconv.ParseBool(audit)
		if err != nil {
			slog.Error("invalid setting", "RAPIDUS_AUDIT", audit, "error", err)
		} else {
			Audit = a
		}
	}

	TargetDir = clean("RAPIDUS_TARGET_DIR")

	Transpose = "auto"
	if transpose := strings.ToLower(clean("RAPIDUS_TRANSPOSE")); transpose != "" {
		switch transpose {
		case "auto", "on", "off":
			Transpose = transpose
		default:
			slog.Error("invalid setting, expected auto, on or off", "RAPIDUS_TRANSPOSE", transpose)
		}
	}
}
