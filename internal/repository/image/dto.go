package image

import (
	"encoding/json"
	"strings"

	domimg "github.com/kailas-cloud/phototag/internal/domain/image"
)

// jsonDoc is the RedisJSON layout of one analysed image.
type jsonDoc struct {
	Content     string    `json:"content"`
	Vector      []float32 `json:"vector"`
	ImageURL    string    `json:"image_url"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
}

func toJSONDoc(rec *domimg.Record) jsonDoc {
	return jsonDoc{
		Content:     rec.Content(),
		Vector:      rec.Embedding(),
		ImageURL:    rec.ImageURL(),
		Description: rec.Description(),
		Tags:        rec.Tags(),
	}
}

// Returned JSONPaths for KNN results.
const (
	pathImageURL    = "$.image_url"
	pathDescription = "$.description"
	pathTags        = "$.tags"
)

var returnFields = []string{pathImageURL, pathDescription, pathTags}

// parseTags accepts either a JSON array or a single-element array of arrays,
// depending on the search dialect.
func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err == nil {
		return tags
	}
	var nested [][]string
	if err := json.Unmarshal([]byte(raw), &nested); err == nil && len(nested) > 0 {
		return nested[0]
	}
	return nil
}

// unquote strips JSON string quoting when the server returns a serialized scalar.
func unquote(raw string) string {
	if len(raw) >= 2 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
	}
	return raw
}
