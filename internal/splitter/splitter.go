// Package splitter loads source documents and splits their text into
// overlapping chunks ready for embedding.
//
// Splitting uses a recursive separator strategy: the text is partitioned on
// the first separator from an ordered list that actually occurs in it, the
// pieces are merged back into chunks bounded by the configured size, and any
// piece still too large is split again with the remaining separators. The
// empty-string separator, always last, falls back to hard character cuts.
package splitter

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/bull/docrag/internal/scanner"
)

// Chunk is a contiguous span of a source document's extracted text together
// with its provenance metadata.
type Chunk struct {
	Text    string
	Source  scanner.SourceMetadata
	Index   int    // Zero-based position within the source
	Total   int    // Chunk count for the source
	Section string // Markdown header path, empty for non-markdown sources
}

// Result holds the chunks produced for one source.
type Result struct {
	Source scanner.SourceMetadata
	Chunks []Chunk
}

// Failure records a source that could not be processed.
type Failure struct {
	Source scanner.SourceMetadata
	Err    error
}

// Options configure a Splitter.
type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	Separators    []string
	KeepSeparator bool
}

// Splitter turns sources into chunks.
type Splitter struct {
	chunkSize     int
	chunkOverlap  int
	separators    []string
	keepSeparator bool
	logger        *slog.Logger
}

// New creates a Splitter. Zero or missing options fall back to chunk size
// 1000, overlap 200, and the paragraph/line/sentence/space separator list.
func New(opts Options, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize / 5
	}
	if len(opts.Separators) == 0 {
		opts.Separators = []string{"\n\n", "\n", ". ", " ", ""}
	}
	return &Splitter{
		chunkSize:     opts.ChunkSize,
		chunkOverlap:  opts.ChunkOverlap,
		separators:    opts.Separators,
		keepSeparator: opts.KeepSeparator,
		logger:        logger,
	}
}

// Process loads one source and splits it into chunks. Unsupported extensions
// return *UnsupportedFileTypeError; load and split failures return
// *ProcessingError carrying the source path and the failing stage.
func (s *Splitter) Process(ctx context.Context, src scanner.SourceMetadata) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := s.load(src)
	if err != nil {
		return nil, err
	}

	pieces := s.SplitText(text)
	if len(pieces) == 0 {
		return nil, &ProcessingError{Path: src.Path, Stage: StageSplit, Err: errEmptyDocument}
	}

	var sections []section
	if src.Extension == ".md" {
		sections = markdownOutline([]byte(text))
	}

	chunks := make([]Chunk, len(pieces))
	cursor := 0
	for i, piece := range pieces {
		chunk := Chunk{
			Text:   piece,
			Source: src,
			Index:  i,
			Total:  len(pieces),
		}
		if len(sections) > 0 {
			if pos := strings.Index(text[cursor:], piece); pos >= 0 {
				cursor += pos
				chunk.Section = sectionAt(sections, cursor)
			}
		}
		chunks[i] = chunk
	}

	s.logger.Debug("split document", "path", src.RelativePath, "chunks", len(chunks))
	return chunks, nil
}

// ProcessAll processes many sources, continuing past individual failures.
// Failed sources are logged and returned alongside the successful results.
func (s *Splitter) ProcessAll(ctx context.Context, sources []scanner.SourceMetadata) ([]Result, []Failure) {
	var results []Result
	var failures []Failure

	for _, src := range sources {
		chunks, err := s.Process(ctx, src)
		if err != nil {
			s.logger.Warn("failed to process document", "path", src.RelativePath, "error", err)
			failures = append(failures, Failure{Source: src, Err: err})
			continue
		}
		results = append(results, Result{Source: src, Chunks: chunks})
	}
	return results, failures
}

// SplitText splits raw text into chunks no larger than the configured chunk
// size, with adjacent chunks sharing the configured overlap where content
// permits.
func (s *Splitter) SplitText(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= s.chunkSize {
		return []string{trimmed}
	}
	return s.splitRecursive(trimmed, s.separators)
}

func (s *Splitter) load(src scanner.SourceMetadata) (string, error) {
	switch src.Extension {
	case ".txt", ".md":
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return "", &ProcessingError{Path: src.Path, Stage: StageLoad, Err: err}
		}
		return decodeText(data), nil
	case ".pdf":
		text, err := extractPDFText(src.Path)
		if err != nil {
			return "", &ProcessingError{Path: src.Path, Stage: StageLoad, Err: err}
		}
		return text, nil
	default:
		return "", &UnsupportedFileTypeError{Path: src.Path, Extension: src.Extension}
	}
}

// decodeText interprets bytes as UTF-8 when valid, otherwise falls back to
// Latin-1 so legacy single-byte files still load.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

func (s *Splitter) splitRecursive(text string, separators []string) []string {
	sep, remaining := chooseSeparator(text, separators)
	if sep == "" {
		return s.hardCut(text)
	}

	splits := s.splitOnSeparator(text, sep)
	joiner := sep
	if s.keepSeparator {
		joiner = ""
	}

	var final []string
	var pending []string
	for _, piece := range splits {
		if len(piece) <= s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		// Oversized piece: flush what we have, then recurse with finer
		// separators.
		if len(pending) > 0 {
			final = append(final, s.mergeSplits(pending, joiner)...)
			pending = nil
		}
		final = append(final, s.splitRecursive(piece, remaining)...)
	}
	if len(pending) > 0 {
		final = append(final, s.mergeSplits(pending, joiner)...)
	}
	return final
}

// chooseSeparator returns the first separator present in the text and the
// separators after it for recursion. The empty string always matches.
func chooseSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

func (s *Splitter) splitOnSeparator(text, sep string) []string {
	var parts []string
	if s.keepSeparator {
		parts = strings.SplitAfter(text, sep)
	} else {
		parts = strings.Split(text, sep)
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeSplits packs separator-delimited pieces into chunks bounded by the
// chunk size, carrying a tail of pieces forward so adjacent chunks overlap
// by roughly the configured number of characters.
func (s *Splitter) mergeSplits(splits []string, joiner string) []string {
	joinLen := len(joiner)
	var chunks []string
	var current []string
	total := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(current, joiner))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, piece := range splits {
		extra := len(piece)
		if len(current) > 0 {
			extra += joinLen
		}
		if total+extra > s.chunkSize && len(current) > 0 {
			flush()
			// Drop pieces from the front until the retained tail fits the
			// overlap budget and leaves room for the incoming piece.
			for total > s.chunkOverlap ||
				(total+extra > s.chunkSize && total > 0) {
				drop := len(current[0])
				if len(current) > 1 {
					drop += joinLen
				}
				total -= drop
				current = current[1:]
				if len(current) == 0 {
					break
				}
			}
		}
		current = append(current, piece)
		total += len(piece)
		if len(current) > 1 {
			total += joinLen
		}
	}
	flush()
	return chunks
}

// hardCut slices text into chunkSize windows stepping by chunkSize-overlap.
// Last-resort path for text with no usable separator.
func (s *Splitter) hardCut(text string) []string {
	step := s.chunkSize - s.chunkOverlap
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + s.chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}
