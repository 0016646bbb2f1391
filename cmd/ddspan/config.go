// Exporter settings from flags, DD_* environment variables and an optional config file
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andrewh/ddspan/pkg/ddtrace"
)

const (
	keyAPIKey         = "api-key"
	keyService        = "service"
	keyEnv            = "env"
	keyHostname       = "hostname"
	keyAppVersion     = "app-version"
	keyEndpoint       = "endpoint"
	keyTags           = "tags"
	keyFlushThreshold = "flush-threshold"
	keyBufferCapacity = "buffer-capacity"
	keyExportTimeout  = "export-timeout"
)

var envKeys = map[string]string{
	keyAPIKey:     "DD_API_KEY",
	keyService:    "DD_SERVICE",
	keyEnv:        "DD_ENV",
	keyHostname:   "DD_HOSTNAME",
	keyAppVersion: "DD_VERSION",
	keyEndpoint:   "DD_TRACE_ENDPOINT",
	keyTags:       "DD_TAGS",
}

// addExporterFlags registers the flags loadExporterConfig reads.
func addExporterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(keyAPIKey, "", "Datadog API key (env DD_API_KEY)")
	f.String(keyService, "", "service name (env DD_SERVICE, default from input or SDK resource)")
	f.String(keyEnv, "", "environment name (env DD_ENV)")
	f.String(keyHostname, "", "host name reported in payloads (env DD_HOSTNAME)")
	f.String(keyAppVersion, "", "application version (env DD_VERSION)")
	f.String(keyEndpoint, ddtrace.DefaultEndpoint, "trace intake base URL (env DD_TRACE_ENDPOINT)")
	f.StringSlice(keyTags, nil, "payload tags as key:value (env DD_TAGS)")
	f.Int(keyFlushThreshold, ddtrace.DefaultFlushThreshold, "maximum spans per export for the threshold strategy")
	f.Int(keyBufferCapacity, ddtrace.DefaultBufferCapacity, "channel capacity for the signal strategy")
	f.Duration(keyExportTimeout, ddtrace.DefaultExportTimeout, "timeout for each export")
}

// loadExporterConfig merges flags, environment and config file, in that
// order of precedence. The transport is left for the caller to set.
func loadExporterConfig(cmd *cobra.Command, configFile string) (ddtrace.Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return ddtrace.Config{}, fmt.Errorf("binding flags: %w", err)
	}
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return ddtrace.Config{}, fmt.Errorf("binding %s: %w", env, err)
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return ddtrace.Config{}, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	tags, err := parseTags(v.GetStringSlice(keyTags))
	if err != nil {
		return ddtrace.Config{}, err
	}

	timeout := v.GetDuration(keyExportTimeout)
	if timeout <= 0 {
		timeout = ddtrace.DefaultExportTimeout
	}

	return ddtrace.Config{
		ServiceName:    v.GetString(keyService),
		Endpoint:       v.GetString(keyEndpoint),
		APIKey:         v.GetString(keyAPIKey),
		Env:            v.GetString(keyEnv),
		HostName:       v.GetString(keyHostname),
		AppVersion:     v.GetString(keyAppVersion),
		Tags:           tags,
		FlushThreshold: v.GetInt(keyFlushThreshold),
		BufferCapacity: v.GetInt(keyBufferCapacity),
		ExportTimeout:  timeout,
	}, nil
}

// parseTags accepts entries separated by commas or whitespace, each key:value.
func parseTags(entries []string) (map[string]string, error) {
	tags := make(map[string]string)
	for _, entry := range entries {
		for _, tag := range strings.FieldsFunc(entry, func(r rune) bool { return r == ',' || r == ' ' }) {
			k, val, ok := strings.Cut(tag, ":")
			if !ok || k == "" {
				return nil, fmt.Errorf("invalid tag %q, expected key:value", tag)
			}
			tags[k] = val
		}
	}
	return tags, nil
}
