package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cardscope/card-pipeline/internal/model"
	"github.com/cardscope/card-pipeline/internal/resilience"
	"github.com/cardscope/card-pipeline/pkg/anthropic"
)

// ExtractorOptions configures the model call.
type ExtractorOptions struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	MaxRetries  int
	// Timeout applies per model call, not to a batch.
	Timeout time.Duration
	// ChunkCharLimit splits documents longer than this into chunks on
	// heading boundaries; each chunk is extracted separately and the
	// partial objects merged.
	ChunkCharLimit int
}

// Extractor runs one model call per document (or per chunk) and parses the
// response into an ExtractionCandidate.
type Extractor struct {
	client anthropic.Client
	opts   ExtractorOptions
}

func NewExtractor(client anthropic.Client, opts ExtractorOptions) *Extractor {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.ChunkCharLimit == 0 {
		opts.ChunkCharLimit = 8000
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	return &Extractor{client: client, opts: opts}
}

// Extract produces a candidate from one raw document. A model response that
// fails to parse is not an error: the candidate comes back with nil
// ParsedFields and confidence 0 so one bad page never aborts a batch.
// Returned errors are provider failures that survived the retry budget.
func (e *Extractor) Extract(ctx context.Context, doc model.RawDocument) (model.ExtractionCandidate, anthropic.TokenUsage, error) {
	cand := model.ExtractionCandidate{
		Issuer:      doc.Issuer,
		SourceURL:   doc.SourceURL,
		PageTitle:   doc.PageTitle,
		ExtractedAt: time.Now().UTC(),
		Model:       e.opts.Model,
	}

	chunks := chunkText(doc.RawText, e.opts.ChunkCharLimit)
	if len(chunks) > 1 {
		zap.L().Debug("document split into chunks",
			zap.String("url", doc.SourceURL),
			zap.Int("chunks", len(chunks)))
	}

	var usage anthropic.TokenUsage
	var merged map[string]any
	var lastRaw string

	for _, chunk := range chunks {
		raw, u, err := e.callModel(ctx, doc, chunk)
		usage.Add(u)
		if err != nil {
			return cand, usage, err
		}
		lastRaw = raw

		fields := parseExtraction(raw)
		if fields == nil {
			zap.L().Warn("model response did not parse as JSON",
				zap.String("url", doc.SourceURL),
				zap.String("model", e.opts.Model))
			continue
		}
		merged = mergeParsed(merged, fields)
	}

	cand.RawModelResponse = lastRaw
	cand.ParsedFields = merged
	cand.Confidence = extractionConfidence(merged)
	return cand, usage, nil
}

func (e *Extractor) callModel(ctx context.Context, doc model.RawDocument, text string) (string, anthropic.TokenUsage, error) {
	userPrompt := fmt.Sprintf("TEXT TO EXTRACT FROM:\n%s\n\nCARD NAME HINT: %s\nISSUER: %s",
		text, doc.PageTitle, doc.Issuer)

	req := anthropic.MessageRequest{
		Model:       e.opts.Model,
		MaxTokens:   e.opts.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(extractionInstructions),
		Messages:    []anthropic.Message{{Role: "user", Content: userPrompt}},
		Temperature: &e.opts.Temperature,
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = e.opts.MaxRetries
	cfg.OnRetry = resilience.RetryLogger("anthropic", doc.SourceURL)
	// Rate limits and overload are transient; auth and invalid-request
	// failures are permanent and fail the call immediately.
	cfg.ShouldRetry = func(err error) bool {
		return ctx.Err() == nil && !resilience.IsPermanent(err) && resilience.IsTransient(err)
	}

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
		return e.client.CreateMessage(callCtx, req)
	})
	if err != nil {
		return "", anthropic.TokenUsage{}, eris.Wrapf(err, "pipeline: extract %s", doc.SourceURL)
	}
	return resp.Text(), resp.Usage, nil
}

// parseExtraction parses a model response into a JSON object, tolerating
// markdown fences and prose wrapping. Returns nil when nothing parses.
func parseExtraction(text string) map[string]any {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil
	}
	return fields
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// mergeParsed folds a chunk's parsed object into the accumulated one. The
// first chunk to populate a field wins; later chunks only fill gaps. Nested
// objects merge recursively.
func mergeParsed(acc, next map[string]any) map[string]any {
	if acc == nil {
		return next
	}
	for key, nv := range next {
		if nv == nil {
			continue
		}
		av, ok := acc[key]
		if !ok || av == nil {
			acc[key] = nv
			continue
		}
		am, aIsMap := av.(map[string]any)
		nm, nIsMap := nv.(map[string]any)
		if aIsMap && nIsMap {
			acc[key] = mergeParsed(am, nm)
		}
	}
	return acc
}

// chunkText splits text into pieces of at most limit characters, preferring
// to break before heading-like lines so related sections stay together.
func chunkText(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	lines := strings.Split(text, "\n")
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
	}

	for _, line := range lines {
		if cur.Len() > 0 && cur.Len()+len(line)+1 > limit {
			flush()
		} else if isHeading(line) && cur.Len() > limit/2 {
			flush()
		}
		// A single line longer than the limit gets hard-split; nothing is
		// dropped.
		for len(line) > limit {
			cur.WriteString(line[:limit])
			flush()
			line = line[limit:]
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return chunks
}

// isHeading guesses whether a line opens a section: short, no terminal
// punctuation, not a list item.
func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > 60 {
		return false
	}
	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, ",") {
		return false
	}
	if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
		return false
	}
	return !strings.ContainsAny(trimmed, ":;")
}
