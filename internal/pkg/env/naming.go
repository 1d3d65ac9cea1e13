package env

import (
	"strings"
)

// NamingConvention maps a flag name to an ENV variable name.
type NamingConvention struct {
	prefix string
}

func NewNamingConvention(prefix string) *NamingConvention {
	return &NamingConvention{prefix: prefix}
}

// FlagToEnv converts flag name to ENV variable name,
// for example "redis-address" -> "DTIMER_REDIS_ADDRESS".
func (n *NamingConvention) FlagToEnv(flagName string) string {
	if len(flagName) == 0 {
		panic(errFlagNameEmpty)
	}
	return n.prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func Files() []string {
	// https://github.com/bkeepers/dotenv#what-other-env-files-can-i-use
	return []string{
		".env.local",
		".env",
	}
}
