package archive

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"alchemy/internal/archive/core"
	"alchemy/internal/config"
	"alchemy/internal/infra/archive/fs"
	"alchemy/internal/infra/archive/memory"
	mem "alchemy/internal/infra/persistence/memory"
	"alchemy/internal/infra/persistence/storetest"
	"alchemy/pkg/domain"
)

func checkout() domain.Experiment {
	return domain.Experiment{
		Name:         "checkout",
		Active:       true,
		IdentityType: "user",
		Treatments:   []domain.Treatment{{Name: "control"}, {Name: "variant"}},
		Allocations:  []domain.Allocation{{Treatment: "control", Weight: 50}, {Treatment: "variant", Weight: 50}},
		Overrides:    []domain.Override{{Name: "qa", Treatment: "variant", Criteria: domain.Criteria{"name": "qa"}}},
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := mem.NewStore()
	storetest.Seed(t, source, checkout(), domain.Experiment{Name: "dormant", Description: "off"})
	dst := memory.New()

	doc, info, err := Export(ctx, source, dst, "exports/one.json")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(doc.Experiments) != 2 || doc.Sequence != 2 || doc.Version != FormatVersion {
		t.Fatalf("unexpected document %+v", doc)
	}
	if info.ContentType != "application/json" || info.Metadata["document-id"] != doc.ID.String() {
		t.Fatalf("unexpected info %+v", info)
	}

	target := mem.NewStore()
	for i := 0; i < 5; i++ {
		if _, err := target.NextSequenceNumber(ctx); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	saved, err := Import(ctx, dst, "exports/one.json", target)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := storetest.Names(saved); len(got) != 2 || got[0] != "checkout" || got[1] != "dormant" {
		t.Fatalf("unexpected import order %v", got)
	}
	if saved[0].Sequence != 6 {
		t.Fatalf("expected re-sequenced import, got %d", saved[0].Sequence)
	}
	loaded, ok, err := target.Load(ctx, "checkout")
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if len(loaded.Overrides) != 1 || loaded.Overrides[0].Criteria["name"] != "qa" || loaded.AllocatedWeight() != 100 {
		t.Fatalf("experiment not preserved: %+v", loaded)
	}
}

func TestExportRefusesExistingKey(t *testing.T) {
	ctx := context.Background()
	dst := memory.New()
	if _, _, err := Export(ctx, mem.NewStore(), dst, "k"); err != nil {
		t.Fatalf("first export: %v", err)
	}
	if _, _, err := Export(ctx, mem.NewStore(), dst, "k"); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestImportRejectsInvalidDocuments(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	put := func(key, body string) {
		t.Helper()
		if _, err := src.Put(ctx, key, bytes.NewReader([]byte(body)), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	put("garbage", "{")
	put("future", `{"version": 99, "experiments": []}`)
	put("invalid", `{"version": 1, "experiments": [{"name": "ok"}, {"name": ""}]}`)

	target := mem.NewStore()
	for _, key := range []string{"garbage", "future", "invalid", "missing"} {
		if _, err := Import(ctx, src, key, target); err == nil {
			t.Fatalf("expected error importing %s", key)
		}
	}
	if all, _ := target.Find(ctx, domain.AllExperiments); len(all) != 0 {
		t.Fatalf("failed imports must not save anything, got %v", storetest.Names(all))
	}
}

// flakySaver saves through the memory store until it has saved limit
// experiments, then fails.
type flakySaver struct {
	*mem.Store
	limit int
	saves int
}

func (s *flakySaver) Save(ctx context.Context, e domain.Experiment) (domain.Experiment, error) {
	if s.saves == s.limit {
		return domain.Experiment{}, errors.New("disk full")
	}
	s.saves++
	return s.Store.Save(ctx, e)
}

func TestImportReturnsPartialResultOnSaveError(t *testing.T) {
	ctx := context.Background()
	source := mem.NewStore()
	storetest.Seed(t, source, checkout(), domain.Experiment{Name: "second"}, domain.Experiment{Name: "third"})
	dst := memory.New()
	if _, _, err := Export(ctx, source, dst, "k"); err != nil {
		t.Fatalf("export: %v", err)
	}

	target := &flakySaver{Store: mem.NewStore(), limit: 2}
	saved, err := Import(ctx, dst, "k", target)
	if err == nil {
		t.Fatalf("expected save error")
	}
	if got := storetest.Names(saved); len(got) != 2 || got[0] != "checkout" || got[1] != "second" {
		t.Fatalf("expected the saved prefix, got %v", got)
	}
	all, err := target.Find(ctx, domain.AllExperiments)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if names := storetest.Names(all); len(names) != 2 || names[1] != "second" {
		t.Fatalf("expected earlier saves kept, got %v", names)
	}
	if _, ok, _ := target.Load(ctx, "third"); ok {
		t.Fatalf("third must not be saved")
	}
}

type failingSource struct{}

func (failingSource) Find(context.Context, domain.Query) ([]domain.Experiment, error) {
	return nil, errors.New("offline")
}

func TestExportSourceError(t *testing.T) {
	if _, _, err := Export(context.Background(), failingSource{}, memory.New(), "k"); err == nil {
		t.Fatalf("expected source error")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.Archive{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if _, ok := store.(*fs.Store); !ok {
		t.Fatalf("expected *fs.Store, got %T", store)
	}
	store, err = Open(ctx, config.Archive{Driver: config.ArchiveMemory})
	if err != nil || store.Driver() != core.DriverMemory {
		t.Fatalf("open memory: %v %v", store, err)
	}
	store, err = Open(ctx, config.Archive{Driver: config.ArchiveS3, Bucket: "b", AccessKey: "AKIA", SecretKey: "SECRET"})
	if err != nil || store.Driver() != core.DriverS3 {
		t.Fatalf("open s3: %v %v", store, err)
	}
	if _, err := Open(ctx, config.Archive{Driver: config.ArchiveS3}); err == nil {
		t.Fatalf("expected error for s3 without bucket")
	}
	if _, err := Open(ctx, config.Archive{Driver: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
