package assets

import (
	"embed"
)

//go:embed idioms.json translations.json
var FS embed.FS

func IdiomsJSON() ([]byte, error) {
	return FS.ReadFile("idioms.json")
}

func TranslationsJSON() ([]byte, error) {
	return FS.ReadFile("translations.json")
}
