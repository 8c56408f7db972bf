// Package elastic is an index backend on Elasticsearch 7.
//
// Elasticsearch 7 allows one mapping type per index, so document types are
// folded into the physical document: the _id is "<type>:<id>" and a keyword
// field "doc_type" holds the type. Per-type mappings are merged into the
// single index mapping.
package elastic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	es "github.com/olivere/elastic/v7"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
)

// FieldDocType holds the logical document type inside each stored document.
const FieldDocType = "doc_type"

// scrollSize is the page size used to walk a whole type.
const scrollSize = 500

// Backend is an Elasticsearch index.Backend.
type Backend struct {
	client *es.Client
	logger *slog.Logger
}

var _ index.Backend = (*Backend)(nil)

// Open connects to the cluster at url. Sniffing is disabled so the client
// works through proxies and single-node setups.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := es.NewClient(
		es.SetURL(url),
		es.SetSniff(false),
		es.SetHealthcheck(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	version, err := client.ElasticsearchVersion(url)
	if err != nil {
		return nil, index.Connectivity("version", "", err)
	}
	logger.Debug("connected to elasticsearch", "url", url, "version", version)
	return &Backend{client: client, logger: logger}, nil
}

func physicalID(typ, id string) string {
	return typ + ":" + id
}

// IndexExists reports whether the cluster has the index.
func (b *Backend) IndexExists(ctx context.Context, name string) (bool, error) {
	exists, err := b.client.IndexExists(name).Do(ctx)
	if err != nil {
		return false, index.Connectivity("index_exists", name, err)
	}
	return exists, nil
}

// CreateIndex creates the index with the type mappings merged into one
// properties object.
func (b *Backend) CreateIndex(ctx context.Context, name string, mappings map[string]doc.Document) error {
	merged := baseMapping()
	for _, m := range mappings {
		mergeMapping(merged, m)
	}
	res, err := b.client.CreateIndex(name).BodyJson(map[string]any{"mappings": merged}).Do(ctx)
	if err != nil {
		if isAlreadyExists(err) {
			return &index.Error{Code: index.ErrCodeAlreadyExists, Op: "create_index", Index: name, Err: err}
		}
		return index.Connectivity("create_index", name, err)
	}
	if !res.Acknowledged {
		b.logger.Warn("create index not acknowledged", "index", name)
	}
	return nil
}

// DeleteIndex deletes the index. A missing index is not an error.
func (b *Backend) DeleteIndex(ctx context.Context, name string) error {
	_, err := b.client.DeleteIndex(name).Do(ctx)
	if err != nil && !es.IsNotFound(err) {
		return index.Connectivity("delete_index", name, err)
	}
	return nil
}

// PutMapping adds the type's fields to the index mapping.
func (b *Backend) PutMapping(ctx context.Context, name, typ string, mapping doc.Document) error {
	merged := baseMapping()
	mergeMapping(merged, mapping)
	_, err := b.client.PutMapping().Index(name).BodyJson(merged).Do(ctx)
	if err != nil {
		if es.IsNotFound(err) {
			return index.NotFound("put_mapping", name, typ, "")
		}
		return index.Connectivity("put_mapping", name, err)
	}
	return nil
}

// baseMapping declares the doc_type field used to select a type.
func baseMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			FieldDocType: map[string]any{"type": "keyword"},
		},
	}
}

// mergeMapping folds a type mapping into dst. Properties are unioned; other
// top-level keys overwrite.
func mergeMapping(dst map[string]any, m doc.Document) {
	for k, v := range m {
		if k != "properties" {
			dst[k] = v
			continue
		}
		var props map[string]any
		switch p := v.(type) {
		case map[string]any:
			props = p
		case doc.Document:
			props = p
		default:
			continue
		}
		dstProps := dst["properties"].(map[string]any)
		for field, def := range props {
			dstProps[field] = def
		}
	}
}

// Get returns a stored document by its physical id.
func (b *Backend) Get(ctx context.Context, name, typ, id string) (doc.Document, error) {
	res, err := b.client.Get().Index(name).Id(physicalID(typ, id)).Do(ctx)
	if err != nil {
		if es.IsNotFound(err) {
			return nil, index.NotFound("get", name, typ, id)
		}
		return nil, index.Connectivity("get", name, err)
	}
	if !res.Found {
		return nil, index.NotFound("get", name, typ, id)
	}
	return decode(res.Source)
}

// All walks every document of the type with the scroll API, so the result
// is never truncated to one page.
func (b *Backend) All(ctx context.Context, name, typ string) ([]doc.Document, error) {
	out := []doc.Document{}
	scroll := b.client.Scroll(name).
		Query(es.NewTermQuery(FieldDocType, typ)).
		Size(scrollSize)
	defer scroll.Clear(context.Background())

	for {
		res, err := scroll.Do(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			if es.IsNotFound(err) {
				return out, nil
			}
			return nil, index.Connectivity("all", name, err)
		}
		for _, hit := range res.Hits.Hits {
			d, err := decode(hit.Source)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
}

// Bulk sends the actions as one _bulk request. Documents are encoded up
// front so a document that cannot be encoded fails alone.
func (b *Backend) Bulk(ctx context.Context, name string, actions []index.Action) ([]index.ItemFailure, error) {
	var failures []index.ItemFailure
	req := b.client.Bulk().Index(name).Refresh("wait_for")
	sent := make([]index.Action, 0, len(actions))

	for _, a := range actions {
		pid := physicalID(a.Type, a.ID)
		switch a.Op {
		case index.OpIndex, index.OpUpdate:
			body := a.Doc.Clone()
			if body == nil {
				body = doc.Document{}
			}
			body[FieldDocType] = a.Type
			raw, err := json.Marshal(body)
			if err != nil {
				failures = append(failures, index.ItemFailure{Action: a, Err: index.Malformed(string(a.Op), name, a.Type, a.ID, err)})
				continue
			}
			if a.Op == index.OpIndex {
				req.Add(es.NewBulkIndexRequest().Id(pid).Doc(json.RawMessage(raw)))
			} else {
				req.Add(es.NewBulkUpdateRequest().Id(pid).Doc(json.RawMessage(raw)))
			}
		case index.OpDelete:
			req.Add(es.NewBulkDeleteRequest().Id(pid))
		}
		sent = append(sent, a)
	}
	if req.NumberOfActions() == 0 {
		return failures, nil
	}

	res, err := req.Do(ctx)
	if err != nil {
		return nil, index.Connectivity("bulk", name, err)
	}
	return append(failures, itemFailures(name, sent, res)...), nil
}

// itemFailures pairs failed response items with the actions that produced
// them. Items come back in request order, and a batch may hold several
// actions for the same document, so they are matched by position.
func itemFailures(name string, sent []index.Action, res *es.BulkResponse) []index.ItemFailure {
	var failures []index.ItemFailure
	for i, result := range res.Items {
		if i >= len(sent) {
			break
		}
		for _, item := range result {
			if item == nil || (item.Status >= 200 && item.Status <= 299) {
				continue
			}
			failures = append(failures, index.ItemFailure{Action: sent[i], Err: itemError(name, sent[i], item)})
		}
	}
	return failures
}

func itemError(name string, a index.Action, item *es.BulkResponseItem) error {
	if item.Status == http.StatusNotFound {
		return index.NotFound(string(a.Op), name, a.Type, a.ID)
	}
	var cause error
	if item.Error != nil {
		cause = fmt.Errorf("%s: %s", item.Error.Type, item.Error.Reason)
	} else {
		cause = fmt.Errorf("status %d", item.Status)
	}
	if item.Status == http.StatusBadRequest {
		return index.Malformed(string(a.Op), name, a.Type, a.ID, cause)
	}
	return &index.Error{Code: index.ErrCodeConnectivity, Op: string(a.Op), Index: name, Type: a.Type, ID: a.ID, Err: cause}
}

// Close stops the client's background goroutines.
func (b *Backend) Close() error {
	b.client.Stop()
	return nil
}

func isAlreadyExists(err error) bool {
	var e *es.Error
	if errors.As(err, &e) && e.Details != nil {
		return e.Details.Type == "resource_already_exists_exception"
	}
	return false
}

func decode(raw json.RawMessage) (doc.Document, error) {
	var d doc.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	delete(d, FieldDocType)
	return d, nil
}
