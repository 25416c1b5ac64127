package main

import (
	"os"
	"strconv"
	"strings"
)

// envPrefix namespaces the environment fallbacks of the command line flags.
const envPrefix = "GATEWAY_"

// envString returns $GATEWAY_<name>, or def when unset or empty.
func envString(name, def string) string {
	if v := os.Getenv(envPrefix + name); v != "" {
		return v
	}
	return def
}

// envBool reads $GATEWAY_<name> as a boolean. Besides the strconv forms it
// accepts yes/no and on/off; anything unparsable yields def.
func envBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(envPrefix + name)))
	switch v {
	case "":
		return def
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
