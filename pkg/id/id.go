package id

import (
	"strings"

	"github.com/google/uuid"
)

func Generate() string {
	return uuid.New().String()
}

// Reference builds a prefixed, dash-free reference such as "wdr-3f2c...".
func Reference(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
