// Package archive exports experiment definitions to an object store and
// imports them back through a saver.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"alchemy/internal/archive/core"
	"alchemy/pkg/domain"
)

type (
	// Store is the object store archives are written to.
	Store = core.Store
	// Info describes a stored archive object.
	Info = core.Info
	// Driver identifies an archive backend.
	Driver = core.Driver
)

// FormatVersion is written into every document.
const FormatVersion = 1

const contentType = "application/json"

// Document is the archived form of a set of experiments. Sequence numbers in
// it are informational; imports are re-sequenced by the target store.
type Document struct {
	ID          uuid.UUID           `json:"id"`
	Version     int                 `json:"version"`
	ExportedAt  time.Time           `json:"exported_at"`
	Sequence    int64               `json:"sequence"`
	Experiments []domain.Experiment `json:"experiments"`
}

// Source is what Export reads from.
type Source interface {
	Find(ctx context.Context, query domain.Query) ([]domain.Experiment, error)
}

// Export writes every experiment in source to key as a JSON document.
func Export(ctx context.Context, source Source, dst Store, key string) (Document, Info, error) {
	all, err := source.Find(ctx, domain.AllExperiments)
	if err != nil {
		return Document{}, Info{}, fmt.Errorf("export: read experiments: %w", err)
	}
	doc := Document{
		ID:          uuid.New(),
		Version:     FormatVersion,
		ExportedAt:  time.Now().UTC(),
		Experiments: all,
	}
	for _, e := range all {
		doc.Sequence = max(doc.Sequence, e.Sequence)
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Document{}, Info{}, fmt.Errorf("export: encode: %w", err)
	}
	info, err := dst.Put(ctx, key, bytes.NewReader(payload), core.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"document-id": doc.ID.String(),
			"experiments": fmt.Sprint(len(all)),
		},
	})
	if err != nil {
		return Document{}, Info{}, fmt.Errorf("export: write %s: %w", key, err)
	}
	return doc, info, nil
}

// Read decodes the document stored at key.
func Read(ctx context.Context, src Store, key string) (Document, error) {
	_, rc, err := src.Get(ctx, key)
	if err != nil {
		return Document{}, fmt.Errorf("read archive %s: %w", key, err)
	}
	defer rc.Close()
	var doc Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode archive %s: %w", key, err)
	}
	if doc.Version != FormatVersion {
		return Document{}, fmt.Errorf("archive %s: unsupported version %d", key, doc.Version)
	}
	return doc, nil
}

// Import saves every experiment of the document at key through saver, in
// document order. Each experiment is validated before any is saved, so an
// invalid document changes nothing. Saves are not transactional: when saver
// fails part way, the experiments saved so far stay saved and are returned
// together with the error.
func Import(ctx context.Context, src Store, key string, saver domain.Saver) ([]domain.Experiment, error) {
	doc, err := Read(ctx, src, key)
	if err != nil {
		return nil, err
	}
	for _, e := range doc.Experiments {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("import %s: %w", key, err)
		}
	}
	saved := make([]domain.Experiment, 0, len(doc.Experiments))
	for _, e := range doc.Experiments {
		out, err := saver.Save(ctx, e)
		if err != nil {
			return saved, fmt.Errorf("import %s: save %s: %w", key, e.Name, err)
		}
		saved = append(saved, out)
	}
	return saved, nil
}
