package state

import "path/filepath"

const defaultConfigFileName = "config.json"

// GlobalOptions contains global config values that apply for all vischeck sub-commands.
type GlobalOptions struct {
	ConfigFilePath string
	NoColor        bool
	LogOutput      string
	LogFormat      string
	// LogCategories is a regexp; only matching categories are logged.
	LogCategories string
	Verbose       bool
}

// GetDefaultGlobalOptions returns the default global flags.
func GetDefaultGlobalOptions(confDir string) GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: filepath.Join(confDir, "vischeck", defaultConfigFileName),
		LogOutput:      "stderr",
	}
}

func consolidateGlobalFlags(defaultFlags GlobalOptions, env map[string]string) GlobalOptions {
	result := defaultFlags

	if val, ok := env["VISCHECK_CONFIG"]; ok {
		result.ConfigFilePath = val
	}
	if val, ok := env["VISCHECK_LOG_OUTPUT"]; ok {
		result.LogOutput = val
	}
	if val, ok := env["VISCHECK_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if val, ok := env["VISCHECK_LOG_CATEGORIES"]; ok {
		result.LogCategories = val
	}
	if env["VISCHECK_NO_COLOR"] != "" {
		result.NoColor = true
	}
	// Support https://no-color.org/, even an empty value should disable the
	// color output.
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	return result
}
