package image

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kailas-cloud/phototag/internal/domain"
)

// DefaultTagCount is the number of tags requested from the vision model.
const DefaultTagCount = 15

// recordNamespace seeds content-addressed record IDs.
var recordNamespace = uuid.MustParse("6f1c2a8e-3b9d-5e47-9a0c-d2b4f8e61c35")

// TaggedItem is a caller-supplied image reference with its tags.
type TaggedItem struct {
	URL  string   `json:"url"`
	Tags []string `json:"tags"`
}

// UnmarshalJSON reads an item leniently. A non-string url reads as empty and
// tags that are not a string array read as absent, so the item is skipped by
// the matcher instead of failing the whole request.
func (t *TaggedItem) UnmarshalJSON(data []byte) error {
	*t = TaggedItem{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil //nolint:nilerr // non-object items read as empty
	}

	var url string
	if err := json.Unmarshal(fields["url"], &url); err == nil {
		t.URL = url
	}
	var tags []string
	if err := json.Unmarshal(fields["tags"], &tags); err == nil {
		t.Tags = tags
	}
	return nil
}

// Analysis is the validated output of a vision model call.
type Analysis struct {
	description string
	tags        []string
}

// NewAnalysis trims and validates a raw vision response.
// Blank tags are dropped and the list is cut to maxTags (maxTags <= 0 keeps all).
// An empty description or an empty tag list is rejected with domain.ErrInvalidAnalysis.
func NewAnalysis(description string, tags []string, maxTags int) (Analysis, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Analysis{}, fmt.Errorf("empty description: %w", domain.ErrInvalidAnalysis)
	}

	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return Analysis{}, fmt.Errorf("empty tags: %w", domain.ErrInvalidAnalysis)
	}
	if maxTags > 0 && len(clean) > maxTags {
		clean = clean[:maxTags]
	}

	return Analysis{description: description, tags: clean}, nil
}

// Description returns the natural-language image description.
func (a Analysis) Description() string { return a.description }

// Tags returns the tag list in model order.
func (a Analysis) Tags() []string { return a.tags }

// EmbeddingText is the exact text submitted to the embedder.
func (a Analysis) EmbeddingText() string {
	return EmbeddingText(a.description, a.tags)
}

// EmbeddingText builds "Description: <d> Tags: <t1>, <t2>, ...".
func EmbeddingText(description string, tags []string) string {
	return "Description: " + description + " Tags: " + strings.Join(tags, ", ")
}

// Record is an analysed image ready for the vector store.
type Record struct {
	id          string
	content     string
	embedding   []float32
	imageURL    string
	description string
	tags        []string
}

// NewRecord builds a store record. The ID is derived from the content so
// re-analysing an image with identical output overwrites the same entry.
func NewRecord(imageURL string, a Analysis, embedding []float32) (Record, error) {
	if a.description == "" || len(a.tags) == 0 {
		return Record{}, fmt.Errorf("record requires description and tags: %w", domain.ErrInvalidAnalysis)
	}
	if len(embedding) == 0 {
		return Record{}, fmt.Errorf("record requires an embedding: %w", domain.ErrEmbeddingFailed)
	}

	content := a.EmbeddingText()
	return Record{
		id:          RecordID(content),
		content:     content,
		embedding:   embedding,
		imageURL:    imageURL,
		description: a.description,
		tags:        a.tags,
	}, nil
}

// RecordID returns the content-addressed identifier for content.
func RecordID(content string) string {
	return uuid.NewSHA1(recordNamespace, []byte(content)).String()
}

// ID returns the record identifier.
func (r *Record) ID() string { return r.id }

// Content returns the embedded text.
func (r *Record) Content() string { return r.content }

// Embedding returns the vector.
func (r *Record) Embedding() []float32 { return r.embedding }

// ImageURL returns the source image reference.
func (r *Record) ImageURL() string { return r.imageURL }

// Description returns the image description.
func (r *Record) Description() string { return r.description }

// Tags returns the image tags.
func (r *Record) Tags() []string { return r.tags }

// Hit is a single similarity search result.
type Hit struct {
	ID          string
	Score       float64
	ImageURL    string
	Description string
	Tags        []string
}
