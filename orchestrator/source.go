package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hazyhaar/kbsync/cache"
	"github.com/hazyhaar/kbsync/checkpoint"
	"github.com/hazyhaar/kbsync/config"
	"github.com/hazyhaar/kbsync/extract"
	"github.com/hazyhaar/kbsync/fetch"
	"github.com/hazyhaar/kbsync/version"
)

// maxDiscoveredLinks caps index-page discovery so a runaway index cannot
// turn one source into thousands of fetches.
const maxDiscoveredLinks = 50

// docUnit is one extracted document before chunking, with the fetch
// fingerprint of the payload it came from.
type docUnit struct {
	ID          string
	Title       string
	Text        string
	ContentHash string
	ContentType string
	SizeBytes   int64
}

// entryMetadata is what a processed cache entry stores in metadata_json:
// the chunks extracted from the content, keyed by their stable chunk ids.
// The embedding stage rebuilds its working set from these records, so
// cached content stays embeddable across runs even when the source itself
// is not re-fetched.
type entryMetadata struct {
	Title  string       `json:"title,omitempty"`
	Chunks []entryChunk `json:"chunks"`
}

type entryChunk struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// processSource fetches one source, gates it through the content cache, and
// records extracted chunks in the cache for the embedding stage. All
// failures are captured in the result; processSource never panics the pool.
func (o *Orchestrator) processSource(ctx context.Context, runID string, src config.SourceConfig) (result SourceResult) {
	log := o.log.With("source_id", src.ID)
	start := time.Now()
	result = SourceResult{SourceID: src.ID, SourceType: string(src.Type)}
	defer func() { result.ProcessingTime = time.Since(start) }()

	var etag, lastMod, prevHash string
	if info, ok := o.versions.Get(src.ID); ok {
		prevHash = info.ContentHash
		switch src.Versioning {
		case config.VersionByETag:
			etag = info.ETag
			lastMod = info.LastModified
		case config.VersionByTimestamp:
			lastMod = info.LastModified
		}
	}

	o.ckpt.Write(checkpoint.Checkpoint{
		RunID: runID, SourceID: src.ID, Stage: StageFetch, Status: checkpoint.StatusStarted,
	})
	res, err := o.fetcher.Fetch(ctx, src.URL, etag, lastMod, prevHash)
	if err != nil {
		log.Error("fetch failed", "url", src.URL, "error", err)
		o.cache.LogOperation(ctx, src.ID, "fetch_failed", err.Error())
		o.ckpt.Write(checkpoint.Checkpoint{
			RunID: runID, SourceID: src.ID, Stage: StageFetch,
			Status: checkpoint.StatusFailed, Error: err.Error(),
		})
		result.Status = SourceFailed
		result.Error = err.Error()
		return result
	}
	o.ckpt.Write(checkpoint.Checkpoint{
		RunID: runID, SourceID: src.ID, Stage: StageFetch, Status: checkpoint.StatusCompleted,
	})

	// The fetcher's own hash comparison is cross-checked against the version
	// record, including the Last-Modified timestamp when both sides have one.
	changed := res.Changed && o.versions.HasChanged(src.ID, res.Hash, res.LastMod)
	if !changed {
		// 304 or identical version: refresh the record and move on.
		o.versions.Update(src.ID, version.Info{
			ContentHash:  firstNonEmpty(res.Hash, prevHash),
			ETag:         firstNonEmpty(res.ETag, etag),
			LastModified: firstNonEmpty(res.LastMod, lastMod),
			URL:          src.URL,
		})
		o.cache.LogOperation(ctx, src.ID, "unchanged", fmt.Sprintf("http %d", res.StatusCode))
		result.Status = SourceSkipped
		result.Reason = "not modified"
		return result
	}

	ok, reason, err := o.cache.ShouldProcess(ctx, src.ID, res.Hash)
	if err != nil {
		result.Status = SourceFailed
		result.Error = err.Error()
		return result
	}
	// Registration happens regardless of the decision so the duplicate
	// record reflects every sighting of this hash.
	if _, derr := o.cache.IsDuplicate(ctx, res.Hash, src.ID); derr != nil {
		log.Warn("duplicate registration failed", "error", derr)
	}
	o.cache.CacheContent(ctx, &cache.Entry{
		SourceID:    src.ID,
		ContentHash: res.Hash,
		ContentType: res.ContentType,
		SizeBytes:   int64(len(res.Body)),
	})

	if !ok {
		o.cache.LogOperation(ctx, src.ID, "skipped", reason)
		result.Status = SourceSkipped
		result.Reason = reason
		return result
	}

	o.ckpt.Write(checkpoint.Checkpoint{
		RunID: runID, SourceID: src.ID, Stage: StageParse, Status: checkpoint.StatusStarted,
	})
	units, err := o.collectDocuments(ctx, src, res)
	if err != nil {
		o.cache.LogOperation(ctx, src.ID, "extract_failed", err.Error())
		o.cache.MarkProcessed(ctx, src.ID, false, err.Error())
		o.ckpt.Write(checkpoint.Checkpoint{
			RunID: runID, SourceID: src.ID, Stage: StageParse,
			Status: checkpoint.StatusFailed, Error: err.Error(),
		})
		result.Status = SourceFailed
		result.Error = err.Error()
		return result
	}
	result.Documents = len(units)

	for _, u := range units {
		chunks := o.chunker.Chunk(u.Text)
		meta := entryMetadata{Title: u.Title, Chunks: make([]entryChunk, 0, len(chunks))}
		for i, c := range chunks {
			meta.Chunks = append(meta.Chunks, entryChunk{
				ID:   extract.ChunkID(u.ID, i, len(chunks)),
				Text: c,
			})
		}
		metaJSON, merr := json.Marshal(meta)
		if merr != nil {
			log.Warn("metadata encode failed", "id", u.ID, "error", merr)
			continue
		}
		o.cache.CacheContent(ctx, &cache.Entry{
			SourceID:     u.ID,
			ContentHash:  u.ContentHash,
			ContentType:  u.ContentType,
			SizeBytes:    u.SizeBytes,
			MetadataJSON: string(metaJSON),
		})
		o.cache.MarkProcessed(ctx, u.ID, true, "")
		result.Chunks += len(chunks)
	}
	// For direct sources the single unit is the source itself and is already
	// marked; for index sources this closes out the index entry.
	o.cache.MarkProcessed(ctx, src.ID, true, "")

	o.versions.Update(src.ID, version.Info{
		ContentHash:  res.Hash,
		ETag:         res.ETag,
		LastModified: res.LastMod,
		URL:          src.URL,
	})
	o.cache.LogOperation(ctx, src.ID, "processed",
		fmt.Sprintf("%d documents, %d chunks", result.Documents, result.Chunks))
	o.ckpt.Write(checkpoint.Checkpoint{
		RunID: runID, SourceID: src.ID, Stage: StageParse, Status: checkpoint.StatusCompleted,
		Counts: map[string]int{"documents": result.Documents, "chunks": result.Chunks},
	})
	log.Info("source processed", "documents", result.Documents, "chunks", result.Chunks)

	result.Status = SourceProcessed
	return result
}

// collectDocuments turns the fetched payload into extracted documents,
// following the source's type and fetch strategy.
func (o *Orchestrator) collectDocuments(ctx context.Context, src config.SourceConfig, res *fetch.Result) ([]docUnit, error) {
	switch src.Type {
	case config.SourceHTML:
		if src.FetchStrategy == config.FetchIndexPage {
			return o.collectFromIndex(ctx, src, res.Body, o.extractHTMLUnit)
		}
		u, err := o.extractHTMLUnit(src.ID, src.URL, res.Body)
		if err != nil {
			return nil, err
		}
		return []docUnit{withFingerprint(u, res)}, nil

	case config.SourcePDF:
		if src.FetchStrategy == config.FetchIndexPage {
			return o.collectFromIndex(ctx, src, res.Body, extractPDFUnit)
		}
		u, err := extractPDFUnit(src.ID, src.URL, res.Body)
		if err != nil {
			return nil, err
		}
		return []docUnit{withFingerprint(u, res)}, nil

	case config.SourceSpreadsheet:
		doc, err := extract.CSV(res.Body)
		if err != nil {
			return nil, err
		}
		u := docUnit{ID: src.ID, Title: src.Name, Text: doc.Text}
		return []docUnit{withFingerprint(u, res)}, nil

	default:
		return nil, fmt.Errorf("unsupported source type %q", src.Type)
	}
}

type unitExtractor func(id, srcURL string, body []byte) (docUnit, error)

// collectFromIndex discovers links on an index page and extracts each
// discovered document. A failed link is logged and skipped; discovery only
// fails when the index itself cannot be parsed or nothing was extracted.
func (o *Orchestrator) collectFromIndex(ctx context.Context, src config.SourceConfig, indexBody []byte, extractUnit unitExtractor) ([]docUnit, error) {
	pattern := src.LinkPattern
	if pattern == "" && src.Type == config.SourcePDF {
		pattern = ".pdf"
	}
	links, err := extract.Links(indexBody, src.URL, pattern)
	if err != nil {
		return nil, fmt.Errorf("index discovery: %w", err)
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("index discovery: no matching links on %s", src.URL)
	}
	if len(links) > maxDiscoveredLinks {
		o.log.Warn("index discovery capped",
			"source_id", src.ID, "found", len(links), "cap", maxDiscoveredLinks)
		links = links[:maxDiscoveredLinks]
	}

	var units []docUnit
	for n, link := range links {
		res, err := o.fetcher.Fetch(ctx, link, "", "", "")
		if err != nil {
			o.log.Warn("discovered link fetch failed", "source_id", src.ID, "url", link, "error", err)
			continue
		}

		id := subDocumentID(src, link, n)

		// Per-document dedup: a PDF linked from two indexes embeds once.
		ok, reason, err := o.cache.ShouldProcess(ctx, id, res.Hash)
		if err == nil {
			o.cache.IsDuplicate(ctx, res.Hash, id)
		}
		if err == nil && !ok {
			o.log.Debug("discovered document skipped", "id", id, "reason", reason)
			continue
		}

		u, err := extractUnit(id, link, res.Body)
		if err != nil {
			o.log.Warn("discovered document extract failed", "id", id, "error", err)
			continue
		}
		units = append(units, withFingerprint(u, res))
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("index discovery: no documents extracted from %s", src.URL)
	}
	return units, nil
}

func withFingerprint(u docUnit, res *fetch.Result) docUnit {
	u.ContentHash = res.Hash
	u.ContentType = res.ContentType
	u.SizeBytes = int64(len(res.Body))
	return u
}

// subDocumentID names a discovered document: PDFs keep their filename,
// pages get a positional suffix.
func subDocumentID(src config.SourceConfig, link string, n int) string {
	if src.Type == config.SourcePDF {
		if u, err := url.Parse(link); err == nil {
			name := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
			if name != "" && name != "." && name != "/" {
				return src.ID + "_" + name
			}
		}
	}
	return fmt.Sprintf("%s_%d", src.ID, n+1)
}

func (o *Orchestrator) extractHTMLUnit(id, srcURL string, body []byte) (docUnit, error) {
	doc, err := extract.HTML(body)
	if err != nil {
		return docUnit{}, err
	}
	// Markdown keeps heading and table structure for chunk boundaries.
	text := o.md.Convert(string(body), srcURL, doc.Text)
	return docUnit{ID: id, Title: doc.Title, Text: text}, nil
}

func extractPDFUnit(id, _ string, body []byte) (docUnit, error) {
	doc, err := extract.PDF(body)
	if err != nil {
		return docUnit{}, err
	}
	return docUnit{ID: id, Title: doc.Title, Text: doc.Text}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
