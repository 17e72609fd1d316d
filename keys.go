package settings

import (
	"strconv"
	"strings"
)

// Reserved provider keys.
const (
	// ProfilesKey holds the ordered list of profile data.
	ProfilesKey = "profiles"
	// MigrationsKey holds the applied migration names per scope.
	MigrationsKey = "migrations"
)

const profilePrefix = "p:"

// ProfileKey returns the provider key holding key's override in profile id.
func ProfileKey(id int, key string) string {
	return profilePrefix + strconv.Itoa(id) + ":" + key
}

// ParseProfileKey splits a p:<id>:<key> provider key. ok is false for keys
// outside the scheme, including negative, zero-padded or non-decimal ids and
// empty subkeys.
func ParseProfileKey(key string) (id int, subkey string, ok bool) {
	rest, found := strings.CutPrefix(key, profilePrefix)
	if !found {
		return 0, "", false
	}
	digits, subkey, found := strings.Cut(rest, ":")
	if !found || digits == "" || subkey == "" {
		return 0, "", false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, "", false
		}
	}
	id, err := strconv.Atoi(digits)
	if err != nil || strconv.Itoa(id) != digits {
		return 0, "", false
	}
	return id, subkey, true
}

func profileKeyPrefix(id int) string {
	return profilePrefix + strconv.Itoa(id) + ":"
}

func reservedKey(key string) bool {
	return key == ProfilesKey || key == MigrationsKey || strings.HasPrefix(key, profilePrefix)
}
