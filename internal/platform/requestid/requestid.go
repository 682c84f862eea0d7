package requestid

import (
	"strings"

	"github.com/google/uuid"
)

const Header = "X-Request-Id"

func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Sanitize keeps caller supplied ids usable as log attributes.
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 128 {
		id = id[:128]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, id)
}
