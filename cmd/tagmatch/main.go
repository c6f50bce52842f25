// Command tagmatch runs the tag-overlap matcher over a JSON file without the HTTP server.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/phototag/internal/domain/image"
	"github.com/kailas-cloud/phototag/internal/domain/match"
	"github.com/kailas-cloud/phototag/internal/version"
)

// errNoMatch exits with status 2 so scripts can tell "no match" from failures.
var errNoMatch = errors.New("No suitable image found.") //nolint:staticcheck // user-facing text

type input struct {
	SearchText *string            `json:"search_text"`
	ImageData  []image.TaggedItem `json:"image_data"`
}

type options struct {
	file   string
	query  string
	json   bool
	scores bool
}

type scoredItem struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Score int    `json:"score"`
}

type output struct {
	BestMatchURL string       `json:"best_match_url"`
	Score        int          `json:"score"`
	Scores       []scoredItem `json:"scores,omitempty"`
}

func main() {
	err := newRootCmd(os.Stdin, os.Stdout).Execute()
	switch {
	case err == nil:
	case errors.Is(err, errNoMatch):
		os.Exit(2)
	default:
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "tagmatch",
		Short: "Pick the best tagged image for a search text",
		Long: `Score every tagged image against the search text and print the best match.

The input file holds {"search_text": "...", "image_data": [{"url": "...", "tags": [...]}]}.
Use "-" to read it from stdin. --query overrides search_text.

Examples:
  tagmatch -f images.json
  tagmatch -f images.json -q "sunset beach" --scores
  cat images.json | tagmatch -f - --json`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, stdin, stdout, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON input file, - for stdin (required)")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "search text, overrides search_text from the file")
	cmd.Flags().BoolVar(&opts.json, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&opts.scores, "scores", false, "also print the score of every tagged item")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func run(cmd *cobra.Command, stdin io.Reader, stdout io.Writer, opts options) error {
	in, err := readInput(stdin, opts.file)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("query") {
		in.SearchText = &opts.query
	}
	if in.SearchText == nil {
		return errors.New("missing search_text: set it in the file or pass --query")
	}

	res, ok := match.Best(*in.SearchText, in.ImageData)
	if !ok {
		return errNoMatch
	}

	out := output{BestMatchURL: res.Item.URL, Score: res.Score}
	if opts.scores {
		out.Scores = scoreAll(*in.SearchText, in.ImageData)
	}

	if opts.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(stdout, "%s\t(score %d)\n", out.BestMatchURL, out.Score)
	for _, s := range out.Scores {
		fmt.Fprintf(stdout, "  #%d\t%d\t%s\n", s.Index, s.Score, s.URL)
	}
	return nil
}

func readInput(stdin io.Reader, path string) (input, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path) //nolint:gosec // path comes from the operator
		if err != nil {
			return input{}, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return input{}, fmt.Errorf("decode input: %w", err)
	}
	if in.ImageData == nil {
		return input{}, errors.New("missing image_data in input")
	}
	return in, nil
}

func scoreAll(query string, items []image.TaggedItem) []scoredItem {
	tokens := make(map[string]struct{})
	for _, t := range match.Tokens(query) {
		tokens[t] = struct{}{}
	}

	out := make([]scoredItem, 0, len(items))
	for i, it := range items {
		if len(it.Tags) == 0 {
			continue
		}
		out = append(out, scoredItem{Index: i, URL: it.URL, Score: match.Score(tokens, it.Tags)})
	}
	return out
}
