package configmap

import (
	"strings"

	"github.com/umisama/go-regexpcache"
)

// fieldToFlagName converts configuration key path to a flag name, for example "replication.dialTimeout" -> "replication-dial-timeout".
func fieldToFlagName(fieldName string) string {
	str := regexpcache.MustCompile(`[A-Z]+`).ReplaceAllString(fieldName, "-$0")
	str = regexpcache.MustCompile(`[-.\s]+`).ReplaceAllString(str, "-")
	str = strings.Trim(str, "-")
	str = strings.ToLower(str)
	return str
}

// flagToEnvName converts flag name to an ENV name, for example "data-dir" -> "REQNODE_DATA_DIR".
func flagToEnvName(prefix, flagName string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
